// Package eventbus provides event-driven communication between the host application,
// the engine and the worker.
package eventbus

import (
	"context"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct, e.g. *events.DomainEvent.
// Returning an error nacks the message.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
