// Package telemetry exposes the Prometheus metric surface shared by the
// pipeline components.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the registry of pipeline instruments. One instance is wired
// through the daemon; tests build their own to avoid global state.
type Metrics struct {
	registry *prometheus.Registry

	IngestedEvents    *prometheus.CounterVec
	IngestDuplicates  *prometheus.CounterVec
	IngestErrors      *prometheus.CounterVec
	RPCCalls          *prometheus.CounterVec
	WindowsFolded     *prometheus.CounterVec
	VerdictsByClass   *prometheus.CounterVec
	SnapshotsBuilt    *prometheus.CounterVec
	SignalsEmitted    *prometheus.CounterVec
	DecisionsByAction *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	StepDuration      *prometheus.HistogramVec
	HeadLag           *prometheus.GaugeVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.IngestedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "ingest", Name: "events_total",
		Help: "Raw transfer events inserted.",
	}, []string{"chain", "token"})
	m.IngestDuplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "ingest", Name: "duplicates_total",
		Help: "Transfer events skipped as already stored.",
	}, []string{"chain", "token"})
	m.IngestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "ingest", Name: "errors_total",
		Help: "Ingestion cycle errors.",
	}, []string{"chain"})
	m.RPCCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "chain", Name: "rpc_calls_total",
		Help: "JSON-RPC calls by method and outcome.",
	}, []string{"chain", "method", "outcome"})
	m.WindowsFolded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "aggregate", Name: "windows_total",
		Help: "Windows folded into aggregates.",
	}, []string{"chain", "window"})
	m.VerdictsByClass = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "approval", Name: "verdicts_total",
		Help: "Approval verdicts by class.",
	}, []string{"class"})
	m.SnapshotsBuilt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "snapshot", Name: "built_total",
		Help: "Snapshots built by viability.",
	}, []string{"chain", "viable"})
	m.SignalsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "signals", Name: "emitted_total",
		Help: "Signals emitted by type.",
	}, []string{"type"})
	m.DecisionsByAction = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "decisions", Name: "total",
		Help: "Decisions by action and band.",
	}, []string{"action", "band"})
	m.JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowhawk", Subsystem: "jobs", Name: "duration_seconds",
		Help:    "Job run durations.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job", "outcome"})
	m.StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowhawk", Subsystem: "pipeline", Name: "step_duration_seconds",
		Help:    "Pipeline step durations.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"step"})
	m.HeadLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowhawk", Subsystem: "ingest", Name: "head_lag_blocks",
		Help: "Blocks between the chain head and the slowest stream.",
	}, []string{"chain"})
	m.CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "cache", Name: "hits_total",
		Help: "Cache hits by mode.",
	}, []string{"mode"})
	m.CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowhawk", Subsystem: "cache", Name: "misses_total",
		Help: "Cache misses by mode.",
	}, []string{"mode"})

	m.registry.MustRegister(
		m.IngestedEvents, m.IngestDuplicates, m.IngestErrors, m.RPCCalls,
		m.WindowsFolded, m.VerdictsByClass, m.SnapshotsBuilt, m.SignalsEmitted,
		m.DecisionsByAction, m.JobDuration, m.StepDuration, m.HeadLag,
		m.CacheHits, m.CacheMisses,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// StepTimer measures one pipeline step; Stop records the elapsed time.
type StepTimer struct {
	metrics *Metrics
	step    string
	started time.Time
}

func (m *Metrics) StartStep(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, started: time.Now()}
}

func (t *StepTimer) Stop() time.Duration {
	elapsed := time.Since(t.started)
	t.metrics.StepDuration.WithLabelValues(t.step).Observe(elapsed.Seconds())
	return elapsed
}
