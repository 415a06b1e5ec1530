package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for a repackaging run.
type Metrics struct {
	EntriesScanned    prometheus.Counter
	FilesSkipped      *prometheus.CounterVec
	BundlesWritten    prometheus.Counter
	IntegrityFailures prometheus.Counter
	RunDuration       prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates and registers the instruments on a fresh registry, so
// parallel tests never collide on the default registerer.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		EntriesScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "repackager_entries_scanned_total",
			Help: "Archive entries examined across all runs",
		}),

		FilesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "repackager_files_skipped_total",
			Help: "Entries excluded from every series bundle",
		}, []string{"reason"}),

		BundlesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "repackager_bundles_written_total",
			Help: "Per-series zip bundles produced",
		}),

		IntegrityFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "repackager_integrity_failures_total",
			Help: "Runs aborted on subject/series identity mismatch",
		}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "repackager_run_duration_seconds",
			Help:    "Wall time per repackaging run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		registry: registry,
	}
}

// Handler exposes the registry for scraping when the caller opts in to a
// metrics listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
