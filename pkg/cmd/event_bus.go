package cmd

import (
	"fmt"
	"log/slog"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/channels/gochannel"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/channels/kafka"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/eventbus"
	"github.com/ThreeDotsLabs/watermill"
)

// NewEventBus builds the event bus for the provider. serviceName selects the Kafka consumer group.
func NewEventBus(provider, serviceName string, brokers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.Config{
			Brokers:     brokers,
			ServiceName: serviceName,
			OTELEnabled: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
