package observability

import (
	"net/http"
	"time"

	"tallysync/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus collectors for sync runs.
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	rejected *prometheus.CounterVec
	duration *prometheus.HistogramVec
	records  *prometheus.CounterVec
	running  *prometheus.GaugeVec
}

// NewMetrics builds collectors on a private registry so tests can create
// as many as they like.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallysync_runs_total",
			Help: "Total sync runs partitioned by kind and final status.",
		}, []string{"kind", "status"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallysync_runs_rejected_total",
			Help: "Sync requests rejected because a run of the same class was active.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tallysync_run_duration_seconds",
			Help:    "Duration in seconds of sync runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"kind"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallysync_records_total",
			Help: "Records processed per entity and outcome.",
		}, []string{"entity", "outcome"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tallysync_runs_in_progress",
			Help: "Sync runs currently executing per guard class.",
		}, []string{"class"}),
	}
	registry.MustRegister(m.runs, m.rejected, m.duration, m.records, m.running,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Tracker instruments a single run.
type Tracker struct {
	metrics *Metrics
	kind    models.SyncKind
	class   string
	start   time.Time
}

// Track marks a run of the given guard class as started
func (m *Metrics) Track(kind models.SyncKind, class string) *Tracker {
	if m == nil {
		return &Tracker{kind: kind, class: class, start: time.Now()}
	}
	m.running.WithLabelValues(class).Inc()
	return &Tracker{metrics: m, kind: kind, class: class, start: time.Now()}
}

// End records the final status and duration of the run
func (t *Tracker) End(status models.SyncStatus) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.running.WithLabelValues(t.class).Dec()
	t.metrics.runs.WithLabelValues(string(t.kind), string(status)).Inc()
	t.metrics.duration.WithLabelValues(string(t.kind)).Observe(time.Since(t.start).Seconds())
}

func (m *Metrics) Rejected(kind models.SyncKind) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(string(kind)).Inc()
}

// AddEntityResult counts saved and dropped records for one entity
func (m *Metrics) AddEntityResult(result models.EntityResult) {
	if m == nil {
		return
	}
	if result.Saved > 0 {
		m.records.WithLabelValues(string(result.Entity), "saved").Add(float64(result.Saved))
	}
	if result.Dropped > 0 {
		m.records.WithLabelValues(string(result.Entity), "dropped").Add(float64(result.Dropped))
	}
}
