package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the flat key-value settings for a repackaging run. Values come
// from an optional dotenv-style file, overridden by process environment.
type Config struct {
	// SubjectToken is the institutional identifier fragment used to recognize
	// subject folders in archive paths (e.g. "NACC").
	SubjectToken string

	// OutputDir receives the produced series bundles.
	OutputDir string

	PlatformURL    string
	PlatformAPIKey string
	ProjectLabel   string

	LedgerPath  string
	PipelineBin string

	Debug bool
}

// Load reads configuration from path (may be empty) and the environment.
// Required keys are presence-checked; no further schema validation applies.
func Load(path string) (*Config, error) {
	fileVals := map[string]string{}

	if path != "" {
		var err error
		fileVals, err = godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	get := func(key, fallback string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		if v, ok := fileVals[key]; ok {
			return v
		}
		return fallback
	}

	cfg := &Config{
		SubjectToken:   get("SUBJECT_TOKEN", ""),
		OutputDir:      get("OUTPUT_DIR", ""),
		PlatformURL:    get("PLATFORM_URL", ""),
		PlatformAPIKey: get("PLATFORM_API_KEY", ""),
		ProjectLabel:   get("PROJECT_LABEL", ""),
		LedgerPath:     get("LEDGER_PATH", "uploads.db"),
		PipelineBin:    get("PIPELINE_BIN", ""),
	}

	cfg.Debug, _ = strconv.ParseBool(get("DEBUG", "false"))

	missing := []string{}
	if cfg.SubjectToken == "" {
		missing = append(missing, "SUBJECT_TOKEN")
	}
	if cfg.OutputDir == "" {
		missing = append(missing, "OUTPUT_DIR")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}
