package loader

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricRowsTotal       = "rows_total"
	MetricPrimariesTotal  = "primaries_total"
	MetricNodesTotal      = "nodes_total"
	MetricLinksTotal      = "links_total"
	MetricCommitsTotal    = "commits_total"
	MetricFlushesTotal    = "flushes_total"
	MetricDurationSeconds = "duration_seconds"
	MetricLastSuccess     = "last_success_timestamp_seconds"
)

// Metrics holds the counters of one build. Each build has its own registry
// so repeated builds in one process never collide.
type Metrics struct {
	Registry *prometheus.Registry

	Rows        prometheus.Counter
	Primaries   prometheus.Counter
	Nodes       prometheus.Counter
	Links       prometheus.Counter
	Commits     prometheus.Counter
	Flushes     prometheus.Counter
	Duration    prometheus.Gauge
	LastSuccess prometheus.Gauge
}

// NewMetrics creates and registers the build metrics
func NewMetrics(series string) *Metrics {
	constLabels := prometheus.Labels{"series": series}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "xrefdb",
			Subsystem:   "build",
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "xrefdb",
			Subsystem:   "build",
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	m := &Metrics{
		Registry:    prometheus.NewRegistry(),
		Rows:        counter(MetricRowsTotal, "Data rows read from the input."),
		Primaries:   counter(MetricPrimariesTotal, "Primary entries written."),
		Nodes:       counter(MetricNodesTotal, "Nodes inserted."),
		Links:       counter(MetricLinksTotal, "Links inserted, reflexive included."),
		Commits:     counter(MetricCommitsTotal, "Store commits."),
		Flushes:     counter(MetricFlushesTotal, "Batch flushes."),
		Duration:    gauge(MetricDurationSeconds, "Wall time of the last build."),
		LastSuccess: gauge(MetricLastSuccess, "Unix time the last successful build finished."),
	}

	m.Registry.MustRegister(m.Rows, m.Primaries, m.Nodes, m.Links, m.Commits, m.Flushes, m.Duration, m.LastSuccess)
	return m
}

// WriteFile writes the metrics in the Prometheus text format, for the
// node exporter textfile collector
func (m *Metrics) WriteFile(path string) error {
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.Registry), "writing metrics to %s", path)
}
