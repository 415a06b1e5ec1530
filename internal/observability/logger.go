package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging. It is injected into the
// components that need it rather than held as process-wide state, so tests
// can hand in a buffer and assert on the emitted records.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a structured logger writing to output (os.Stderr when
// nil). Debug enables debug-level records.
func NewLogger(service string, debug bool, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(output).Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{logger: logger}
}

// WithRun adds run_id context to the logger.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{logger: l.logger.With().Str("run_id", runID).Logger()}
}

// WithArchive adds the source archive path to the logger.
func (l *Logger) WithArchive(path string) *Logger {
	return &Logger{logger: l.logger.With().Str("archive", path).Logger()}
}

func (l *Logger) Debug(msg string, fields map[string]string) {
	event(l.logger.Debug(), fields).Msg(msg)
}

func (l *Logger) Info(msg string, fields map[string]string) {
	event(l.logger.Info(), fields).Msg(msg)
}

func (l *Logger) Warn(msg string, fields map[string]string) {
	event(l.logger.Warn(), fields).Msg(msg)
}

func (l *Logger) Error(err error, msg string, fields map[string]string) {
	event(l.logger.Error().Err(err), fields).Msg(msg)
}

func event(e *zerolog.Event, fields map[string]string) *zerolog.Event {
	for k, v := range fields {
		e = e.Str(k, v)
	}
	return e
}
