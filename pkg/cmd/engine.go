package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/adapter/httpadapter"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/engine"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/eventbus"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/metrics"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/otelhelper"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// EngineConfig holds the settings of one engine process.
type EngineConfig struct {
	DatabaseURL       string
	EventBus          string
	KafkaBrokers      []string
	RedisURL          string
	AdapterURL        string
	AdapterToken      string
	MaxDepth          int
	MaxActionsPerCall int
	OTELEnabled       bool
}

// Runtime is a fully wired engine with the resources it owns.
type Runtime struct {
	Engine      *engine.Engine
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Registry    *prometheus.Registry

	closers []func(ctx context.Context) error
}

// NewRuntime opens persistence, the event bus, the rate counter and the tracer and builds the
// engine on top of them. serviceName names the Kafka consumer group and the trace service.
func NewRuntime(ctx context.Context, logger *slog.Logger, serviceName string, config EngineConfig) (*Runtime, error) {
	runtime := &Runtime{Registry: prometheus.NewRegistry()}

	runtime.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	runtime.Persistence = store
	runtime.closers = append(runtime.closers, store.Close)

	bus, err := NewEventBus(config.EventBus, serviceName, config.KafkaBrokers, logger)
	if err != nil {
		return nil, runtime.fail(ctx, err)
	}

	runtime.EventBus = bus
	runtime.closers = append(runtime.closers, func(context.Context) error { return bus.Close() })

	counter, closeCounter, err := NewRateCounter(ctx, config.RedisURL, store.ExecutionRepository())
	if err != nil {
		return nil, runtime.fail(ctx, err)
	}

	runtime.closers = append(runtime.closers, func(context.Context) error { return closeCounter() })

	tracer := otelhelper.NoopTracer()

	if config.OTELEnabled {
		otelTracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, runtime.fail(ctx, fmt.Errorf("failed to initialize tracer: %w", err))
		}

		tracer = otelTracer
		runtime.closers = append(runtime.closers, shutdown)
	}

	adapter := httpadapter.New(logger, httpadapter.Config{
		BaseURL: config.AdapterURL,
		Token:   config.AdapterToken,
	})

	runtime.Engine = engine.New(logger, store, adapter,
		engine.WithMaxDepth(config.MaxDepth),
		engine.WithMaxActionsPerCall(config.MaxActionsPerCall),
		engine.WithPublisher(bus),
		engine.WithRateCounter(counter),
		engine.WithTracer(tracer),
		engine.WithMetrics(metrics.NewRecorder(runtime.Registry)),
	)

	return runtime, nil
}

func (r *Runtime) fail(ctx context.Context, err error) error {
	return errors.Join(err, r.Close(ctx))
}

// Close releases the resources in reverse order of acquisition.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	r.closers = nil

	return errors.Join(errs...)
}
