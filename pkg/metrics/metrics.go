package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "jobflow"

// Registry holds all metric instances for jobflow engines. Every metric is
// labelled by executor name.
type Registry struct {
	JobsSubmitted *prometheus.CounterVec
	JobsRejected  *prometheus.CounterVec
	JobsStarted   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsCancelled *prometheus.CounterVec
	JobsTimedOut  *prometheus.CounterVec
	JobsAbandoned *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobsRunning   *prometheus.GaugeVec

	Warnings  *prometheus.CounterVec
	Exhausted *prometheus.CounterVec
	Shutdowns *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Enabled: true, Registry: reg})
}

// NewRegistryWithConfig creates a metrics registry using the namespace and
// constant labels of config. When config is disabled the collectors still
// count but are not registered anywhere, so nothing is exported.
func NewRegistryWithConfig(config Config) *Registry {
	var reg prometheus.Registerer
	if config.Enabled {
		reg = config.Registry
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
	}
	ns := config.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	factory := promauto.With(reg)
	labels := []string{"executor"}

	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "executor",
				Name:        name,
				Help:        help,
				ConstLabels: config.Labels,
			},
			labels,
		)
	}

	return &Registry{
		JobsSubmitted: counter("jobs_submitted_total", "Total number of jobs accepted by an executor"),
		JobsRejected:  counter("jobs_rejected_total", "Total number of jobs refused by a backing store"),
		JobsStarted:   counter("jobs_started_total", "Total number of jobs whose action was invoked"),
		JobsCompleted: counter("jobs_completed_total", "Total number of jobs completed successfully"),
		JobsFailed:    counter("jobs_failed_total", "Total number of jobs whose action failed or panicked"),
		JobsCancelled: counter("jobs_cancelled_total", "Total number of jobs dropped because their token had fired"),
		JobsTimedOut:  counter("jobs_timed_out_total", "Total number of wait-handle registrations that timed out"),
		JobsAbandoned: counter("jobs_abandoned_total", "Total number of jobs left unstarted at shutdown"),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "executor",
				Name:        "job_duration_seconds",
				Help:        "Time spent executing job actions",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: config.Labels,
			},
			labels,
		),

		JobsRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "executor",
				Name:        "jobs_running",
				Help:        "Number of job actions currently running",
				ConstLabels: config.Labels,
			},
			labels,
		),

		Warnings:  counter("warnings_total", "Total number of warnings reported"),
		Exhausted: counter("exhausted_total", "Total number of all-jobs-started notices"),
		Shutdowns: counter("shutdowns_total", "Total number of executor shutdowns"),
	}
}

// RecordSubmitted counts one accepted submission.
func (r *Registry) RecordSubmitted(executor string) {
	r.JobsSubmitted.WithLabelValues(executor).Inc()
}

// RecordRejected counts one refused submission.
func (r *Registry) RecordRejected(executor string) {
	r.JobsRejected.WithLabelValues(executor).Inc()
}

// RecordAbandoned counts jobs left unstarted at shutdown.
func (r *Registry) RecordAbandoned(executor string, n int) {
	if n > 0 {
		r.JobsAbandoned.WithLabelValues(executor).Add(float64(n))
	}
}
