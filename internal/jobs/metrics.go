package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	chainBreaks *prometheus.CounterVec
	replayed    prometheus.Counter
	dead        prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddChainBreaks counts broken hash chains found in a partition.
func (m *Metrics) AddChainBreaks(partition string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.chainBreaks.WithLabelValues(partition).Add(float64(count))
}

// AddReplayed counts spilled entries re-ingested into the store.
func (m *Metrics) AddReplayed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.replayed.Add(float64(count))
}

// AddDeadLettered counts spilled entries the store rejected during replay.
func (m *Metrics) AddDeadLettered(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.dead.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	chainBreaks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_audit_chain_breaks_total",
		Help: "Broken operation log hash chains found by verification runs.",
	}, []string{"partition"})
	replayed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backoffice_audit_spill_replayed_total",
		Help: "Spilled operation log entries re-ingested into the store.",
	})
	dead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backoffice_audit_spill_dead_lettered_total",
		Help: "Spilled operation log entries the store rejected permanently.",
	})
	registerer.MustRegister(runs, failures, duration, chainBreaks, replayed, dead)
	return &Metrics{runs: runs, failures: failures, duration: duration, chainBreaks: chainBreaks, replayed: replayed, dead: dead}
}
