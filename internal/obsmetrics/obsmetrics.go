// Package obsmetrics exposes this process's own operational metrics —
// adapter call counts, assembly and run durations, history appends — over
// /metrics. There is no retry metric. This
// is distinct from the Monitoring Adapter (monitoring package), which
// queries the Datadog-style product telemetry of the estate being
// snapshotted; obsmetrics is about the snapshotter itself.
//
// Grounded on github.com/prometheus/client_golang, imported directly by
// 99souls-ariadne, GoogleCloudPlatform-prometheus-engine and
// owulveryck-agenthub.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AdapterCalls counts outbound calls per adapter and outcome. It is
	// registered, but no adapter in this module increments it.
	AdapterCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapshotd",
		Subsystem: "adapter",
		Name:      "calls_total",
		Help:      "Outbound integration adapter calls by adapter and outcome.",
	}, []string{"adapter", "outcome"})

	// AssemblyDuration records how long one (project, env) assembly took.
	AssemblyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "snapshotd",
		Subsystem: "assemble",
		Name:      "duration_seconds",
		Help:      "Time to assemble all components for one (project, env) pair.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"project", "env"})

	// RunDuration records full pipeline run durations.
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snapshotd",
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of one full snapshot pipeline run.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// HistoryEventsAppended counts events appended to the history stores.
	HistoryEventsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapshotd",
		Subsystem: "history",
		Name:      "events_appended_total",
		Help:      "Events appended to an append-only history store, by store and kind.",
	}, []string{"store", "kind"})
)

// Registry returns a registry with this package's collectors plus the
// standard Go/process collectors, for wiring into promhttp.Handler.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		AdapterCalls,
		AssemblyDuration,
		RunDuration,
		HistoryEventsAppended,
	)
	return r
}
