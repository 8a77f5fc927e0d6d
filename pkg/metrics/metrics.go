// Package metrics records engine activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "caseflow"

// Guard skip reasons.
const (
	SkipDuplicate     = "duplicate"
	SkipRateLimitHour = "rate_limit_hour"
	SkipRateLimitDay  = "rate_limit_day"
	SkipConditions    = "conditions"
	SkipOptedOut      = "opted_out"
)

// Recorder holds the engine metrics. A nil *Recorder records nothing.
type Recorder struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	skips      *prometheus.CounterVec
	approvals  *prometheus.CounterVec
	actions    *prometheus.CounterVec
}

// NewRecorder registers the engine metrics on registerer.
func NewRecorder(registerer prometheus.Registerer) *Recorder {
	factory := promauto.With(registerer)

	return &Recorder{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Workflow executions by trigger type and persisted status.",
		}, []string{"trigger_type", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "execution_duration_seconds",
			Help:      "Time spent running the actions of one execution until it finished or paused.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger_type"}),
		skips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "guard_skips_total",
			Help:      "Workflow attempts skipped before running actions, by reason.",
		}, []string{"reason"}),
		approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "approvals_total",
			Help:      "Approval decisions applied to paused executions.",
		}, []string{"decision"}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "actions_total",
			Help:      "Executed workflow actions by type and outcome.",
		}, []string{"action_type", "result"}),
	}
}

func (r *Recorder) Execution(triggerType, status string, elapsed time.Duration) {
	if r == nil {
		return
	}

	r.executions.WithLabelValues(triggerType, status).Inc()
	r.duration.WithLabelValues(triggerType).Observe(elapsed.Seconds())
}

func (r *Recorder) Skip(reason string) {
	if r == nil {
		return
	}

	r.skips.WithLabelValues(reason).Inc()
}

func (r *Recorder) Approval(decision string) {
	if r == nil {
		return
	}

	r.approvals.WithLabelValues(decision).Inc()
}

func (r *Recorder) Action(actionType string, success bool) {
	if r == nil {
		return
	}

	result := "success"
	if !success {
		result = "failure"
	}

	r.actions.WithLabelValues(actionType, result).Inc()
}
