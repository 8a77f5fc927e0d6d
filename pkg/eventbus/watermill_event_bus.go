package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/events"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "eventbus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic(event.GetType()), msg)
}

// Subscribe starts one consumer per topic that carries a handled event type.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	eb.mu.RLock()
	topics := make(map[string]struct{})

	for eventType := range eb.subscriptions {
		topics[events.Topic(eventType)] = struct{}{}
	}
	eb.mu.RUnlock()

	for topic := range topics {
		messages, err := eb.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		go eb.consume(ctx, messages)
	}

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		eb.mu.RLock()
		handler, exists := eb.subscriptions[eventType]
		eb.mu.RUnlock()

		if !exists {
			msg.Ack()

			continue
		}

		event, err := decode(eventType, msg.Payload)
		if err != nil {
			eb.logger.ErrorContext(ctx, "dropping undecodable message",
				"event_type", eventType, "message_uuid", msg.UUID, "error", err)
			msg.Ack()

			continue
		}

		err = handler(ctx, event)
		if err != nil {
			eb.logger.WarnContext(ctx, "event handler failed",
				"event_type", eventType, "message_uuid", msg.UUID, "error", err)
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

func decode(eventType events.EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case events.DomainEventType:
		event = &events.DomainEvent{}
	case events.ApprovalResolvedEvent:
		event = &events.ApprovalResolved{}
	case events.WorkflowExecutionPausedEvent:
		event = &events.WorkflowExecutionPaused{}
	case events.WorkflowExecutionResumedEvent:
		event = &events.WorkflowExecutionResumed{}
	case events.WorkflowExecutionFinishedEvent:
		event = &events.WorkflowExecutionFinished{}
	case events.WorkflowExecutionSkippedEvent:
		event = &events.WorkflowExecutionSkipped{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, err
	}

	return event, nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
