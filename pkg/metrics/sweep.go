package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics records per-job outcomes plus rolling health signals for the
// reconciliation worker.
type SweepMetrics struct {
	duration       *prometheus.HistogramVec
	success        *prometheus.CounterVec
	failure        *prometheus.CounterVec
	stuckItems     *prometheus.GaugeVec
	completionRate prometheus.Gauge
}

// NewSweepMetrics registers the sweep metrics on the provided registerer.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	if reg == nil {
		return &SweepMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_job_duration_seconds",
		Help:    "Duration of sweep jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_job_success",
		Help: "Successful sweep job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_job_failure",
		Help: "Failed sweep job executions.",
	}, []string{"job"})
	stuckItems := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sweep_stuck_items",
		Help: "Items found stuck by the most recent sweep cycle, per job.",
	}, []string{"job"})
	completionRate := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_cycle_completion_rate",
		Help: "Fraction of jobs that completed in the most recent cycle.",
	})
	reg.MustRegister(duration, success, failure, stuckItems, completionRate)
	return &SweepMetrics{
		duration:       duration,
		success:        success,
		failure:        failure,
		stuckItems:     stuckItems,
		completionRate: completionRate,
	}
}

// ObserveDuration records the duration for the named job.
func (s *SweepMetrics) ObserveDuration(job string, duration time.Duration) {
	if s == nil || s.duration == nil {
		return
	}
	s.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (s *SweepMetrics) IncSuccess(job string) {
	if s == nil || s.success == nil {
		return
	}
	s.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (s *SweepMetrics) IncFailure(job string) {
	if s == nil || s.failure == nil {
		return
	}
	s.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// SetStuckItems records how many items the named job found stuck this cycle.
func (s *SweepMetrics) SetStuckItems(job string, count float64) {
	if s == nil || s.stuckItems == nil {
		return
	}
	s.stuckItems.WithLabelValues(normalizeLabel(job)).Set(count)
}

// SetCompletionRate records the fraction of jobs that completed this cycle.
func (s *SweepMetrics) SetCompletionRate(rate float64) {
	if s == nil || s.completionRate == nil {
		return
	}
	s.completionRate.Set(rate)
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
