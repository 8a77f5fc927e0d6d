// Package engine runs workflow definitions against domain events: it matches definitions,
// guards against duplicates and runaway rates, evaluates conditions and executes actions,
// pausing on approval-gated actions until ContinueExecution delivers a decision.
package engine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/eventbus"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/guard"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/matcher"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/metrics"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/otelhelper"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxDepth is the recursion depth at which Trigger stops doing anything.
const DefaultMaxDepth = 3

// Engine is safe for concurrent use.
type Engine struct {
	adapter    Adapter
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	matcher    *matcher.Matcher
	guard      *guard.Guard
	logger     *slog.Logger

	tracer    trace.Tracer
	metrics   *metrics.Recorder
	publisher eventbus.EventPublisher
	counter   guard.RateCounter
	clock     func() time.Time

	maxDepth          int
	maxActionsPerCall int
}

// Option configures an Engine.
type Option func(*Engine)

func WithMaxDepth(depth int) Option {
	return func(e *Engine) { e.maxDepth = depth }
}

// WithMaxActionsPerCall caps the actions executed by one top-level Trigger or
// ContinueExecution call, nested triggers included. Zero means unbounded.
func WithMaxActionsPerCall(limit int) Option {
	return func(e *Engine) { e.maxActionsPerCall = limit }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithPublisher enables execution lifecycle notifications.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = recorder }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithRateCounter replaces the ledger count queries with another RateCounter.
func WithRateCounter(counter guard.RateCounter) Option {
	return func(e *Engine) { e.counter = counter }
}

// New creates an engine over the given store and adapter.
func New(logger *slog.Logger, store persistence.Persistence, adapter Adapter, opts ...Option) *Engine {
	e := &Engine{
		adapter:    adapter,
		workflows:  store.WorkflowRepository(),
		executions: store.ExecutionRepository(),
		logger:     logger.With("module", "engine"),
		tracer:     otelhelper.NoopTracer(),
		clock:      time.Now,
		maxDepth:   DefaultMaxDepth,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.matcher = matcher.New(logger, e.workflows)
	e.guard = guard.New(logger, e.executions, e.counter)

	return e
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// actionBudget counts executed actions across one top-level call and its nested triggers.
type actionBudget struct {
	limit int64
	used  atomic.Int64
}

func newActionBudget(limit int) *actionBudget {
	return &actionBudget{limit: int64(limit)}
}

func (b *actionBudget) take() bool {
	if b.limit <= 0 {
		return true
	}

	return b.used.Add(1) <= b.limit
}
