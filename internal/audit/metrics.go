package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the recorder.
type Metrics struct {
	entries  *prometheus.CounterVec
	attempts prometheus.Counter
	alerts   *prometheus.CounterVec
	depth    prometheus.Gauge
	persist  prometheus.Histogram
}

// NewMetrics registers the audit collectors against the registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_audit_entries_total",
			Help: "Operation log entries by terminal or intermediate state.",
		}, []string{"state"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_audit_persist_attempts_total",
			Help: "Store append attempts including retries.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_audit_alerts_total",
			Help: "Operator alerts raised by the recorder.",
		}, []string{"reason"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backoffice_audit_buffer_depth",
			Help: "Entries waiting in the recorder buffer.",
		}),
		persist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backoffice_audit_persist_duration_seconds",
			Help:    "Time from dequeue to a terminal state.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registerer.MustRegister(m.entries, m.attempts, m.alerts, m.depth, m.persist)
	return m
}

func (m *Metrics) state(s State) {
	if m != nil {
		m.entries.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) attempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

func (m *Metrics) alert(reason string) {
	if m != nil {
		m.alerts.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) setDepth(n int) {
	if m != nil {
		m.depth.Set(float64(n))
	}
}

func (m *Metrics) observePersist(d time.Duration) {
	if m != nil {
		m.persist.Observe(d.Seconds())
	}
}
