package rbac

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for permission resolution and decisions.
type Metrics struct {
	cacheHits  prometheus.Counter
	cacheMiss  prometheus.Counter
	resolveErr prometheus.Counter
	recompute  prometheus.Histogram
	decisions  *prometheus.CounterVec
}

// NewMetrics registers the rbac collectors against the registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_rbac_cache_hits_total",
			Help: "Effective permission lookups served from cache.",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_rbac_cache_miss_total",
			Help: "Effective permission lookups that required recomputation.",
		}),
		resolveErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_rbac_resolve_errors_total",
			Help: "Permission resolutions that failed closed.",
		}),
		recompute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backoffice_rbac_recompute_duration_seconds",
			Help:    "Duration of effective permission recomputation.",
			Buckets: prometheus.DefBuckets,
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_rbac_decisions_total",
			Help: "Authorization decisions by outcome.",
		}, []string{"decision"}),
	}
	registerer.MustRegister(m.cacheHits, m.cacheMiss, m.resolveErr, m.recompute, m.decisions)
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.cacheMiss.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.resolveErr.Inc()
	}
}

func (m *Metrics) observeRecompute(d time.Duration) {
	if m != nil {
		m.recompute.Observe(d.Seconds())
	}
}

func (m *Metrics) decision(d Decision) {
	if m != nil {
		m.decisions.WithLabelValues(d.String()).Inc()
	}
}
