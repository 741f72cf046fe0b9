package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AssignmentMetrics records assignment engine outcomes.
type AssignmentMetrics struct {
	duration  prometheus.Histogram
	assigned  prometheus.Counter
	conflicts prometheus.Counter
	deferred  prometheus.Counter
	failures  prometheus.Counter
}

// NewAssignmentMetrics registers the assignment metrics on the provided registerer.
func NewAssignmentMetrics(reg prometheus.Registerer) *AssignmentMetrics {
	if reg == nil {
		return &AssignmentMetrics{}
	}
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assignment_duration_seconds",
		Help:    "Duration of assignment attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	assigned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignments_total",
		Help: "Tickets successfully assigned to a worker.",
	})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignment_conflicts",
		Help: "Assignment attempts lost to a concurrent CAS winner.",
	})
	deferred := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignments_deferred",
		Help: "Tickets left pending because no worker was available.",
	})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignment_failures",
		Help: "Assignment attempts that exhausted their retries.",
	})
	reg.MustRegister(duration, assigned, conflicts, deferred, failures)
	return &AssignmentMetrics{
		duration:  duration,
		assigned:  assigned,
		conflicts: conflicts,
		deferred:  deferred,
		failures:  failures,
	}
}

// ObserveDuration records the duration of one assignment attempt.
func (m *AssignmentMetrics) ObserveDuration(duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(duration.Seconds())
}

// IncAssigned counts one successful assignment.
func (m *AssignmentMetrics) IncAssigned() {
	if m == nil || m.assigned == nil {
		return
	}
	m.assigned.Inc()
}

// IncConflict counts one CAS loss.
func (m *AssignmentMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

// IncDeferred counts one ticket left for the pending sweep.
func (m *AssignmentMetrics) IncDeferred() {
	if m == nil || m.deferred == nil {
		return
	}
	m.deferred.Inc()
}

// IncFailure counts one assignment that exhausted its retries.
func (m *AssignmentMetrics) IncFailure() {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Inc()
}
