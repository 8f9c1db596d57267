package events

import "context"

// DomainEvent is an in-process signal of something that happened in the model.
// The name routes it to local subscribers.
type DomainEvent interface {
	Name() string
}

// IntegrationEvent is a durable, outbound event meant to reach another logical
// service. It extends DomainEvent with a stable wire name, a serializable
// payload, an optional publish delay and a uniqueness flag that supersedes
// earlier pending events of the same type.
type IntegrationEvent interface {
	DomainEvent

	IntegrationAction() string
	Payload() map[string]any
	DelaySeconds() int
	IsUnique() bool
}

// MessageKind distinguishes events from commands on the wire.
type MessageKind string

const (
	KindEvent   MessageKind = "EVENT"
	KindCommand MessageKind = "COMMAND"
)

// Routed is implemented by integration events that request a specific queue
// group instead of the configured default.
type Routed interface {
	Queue() string
}

// Kinded is implemented by integration events that publish as a command rather
// than an event.
type Kinded interface {
	MessageKind() MessageKind
}

// DomainEventDispatcher delivers a domain event to in-process subscribers.
// The host decides how subscribers are looked up.
type DomainEventDispatcher interface {
	Dispatch(ctx context.Context, event DomainEvent) error
}

// IntegrationEventBus carries an integration event toward other services. The
// default implementation writes to the transactional outbox.
type IntegrationEventBus interface {
	Publish(ctx context.Context, event IntegrationEvent) error
}

// Aggregate is the surface the unit of work drains: aggregate roots record
// domain events while handling a command and release them here.
type Aggregate interface {
	PullEvents() []DomainEvent
}
