// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "depthmap"

// Metrics groups every collector the service updates. Each instance owns its
// registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	UpdatesApplied   prometheus.Counter
	UpdatesStale     prometheus.Counter
	UpdatesMalformed prometheus.Counter
	SequenceGaps     prometheus.Counter
	ChangesDropped   prometheus.Counter

	SnapshotsSaved      prometheus.Counter
	SnapshotsSkipped    prometheus.Counter
	PersistenceFailures prometheus.Counter
	PersistQueueDepth   prometheus.Gauge

	Reconnects     prometheus.Counter
	FeedState      prometheus.Gauge
	SeedsCompleted prometheus.Counter
	SeedFailures   prometheus.Counter

	PrunedSnapshots  prometheus.Counter
	PrunedChanges    prometheus.Counter
	ArchivedSnapshot prometheus.Counter

	HTTPRequests *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(subsystem, name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
		reg.MustRegister(c)
		return c
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
		reg.MustRegister(g)
		return g
	}

	m := &Metrics{
		registry: reg,

		UpdatesApplied:   counter("book", "updates_applied_total", "Depth updates applied to the replica."),
		UpdatesStale:     counter("book", "updates_stale_total", "Depth updates discarded as already applied."),
		UpdatesMalformed: counter("book", "updates_malformed_total", "Frames dropped as malformed."),
		SequenceGaps:     counter("book", "sequence_gaps_total", "Sequence gaps that triggered a resync."),
		ChangesDropped:   counter("book", "changes_dropped_total", "Pending price-level changes evicted from a full buffer."),

		SnapshotsSaved:      counter("sampler", "snapshots_saved_total", "Snapshots committed to the store."),
		SnapshotsSkipped:    counter("sampler", "snapshots_skipped_total", "Sampler ticks skipped because the book was not ready or the queue was full."),
		PersistenceFailures: counter("sampler", "persistence_failures_total", "Snapshot writes that failed."),
		PersistQueueDepth:   gauge("sampler", "persist_queue_depth", "Snapshots waiting for the writer."),

		Reconnects:     counter("feed", "reconnects_total", "Stream reconnects after a failure."),
		FeedState:      gauge("feed", "connected", "1 while the depth stream is connected."),
		SeedsCompleted: counter("feed", "seeds_total", "REST snapshot seeds applied."),
		SeedFailures:   counter("feed", "seed_failures_total", "REST snapshot seeds that failed."),

		PrunedSnapshots:  counter("retention", "snapshots_deleted_total", "Snapshots deleted by retention."),
		PrunedChanges:    counter("retention", "changes_deleted_total", "Price-level changes deleted by retention."),
		ArchivedSnapshot: counter("retention", "snapshots_archived_total", "Snapshots written to the archive before deletion."),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests by method and status code.",
		}, []string{"method", "status"}),
	}
	reg.MustRegister(m.HTTPRequests)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
