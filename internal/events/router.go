package events

import (
	"context"

	"github.com/AureliaStudio/conveyor/pkg"
)

// Router publishes a domain event locally and, when the event is an
// integration event, hands it to the integration bus as well. The default bus
// writes to the transactional outbox, so integration events written while a
// command transaction is open commit atomically with the business writes.
type Router struct {
	dispatcher DomainEventDispatcher
	bus        IntegrationEventBus
}

// NewRouter returns an event router over the given dispatcher and bus.
func NewRouter(dispatcher DomainEventDispatcher, bus IntegrationEventBus) *Router {
	return &Router{
		dispatcher: dispatcher,
		bus:        bus,
	}
}

// Publish dispatches the event locally, then to the integration bus when it
// crosses the service boundary.
func (r *Router) Publish(ctx context.Context, event DomainEvent) error {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "events.router.publish")
	defer span.End()

	if err := r.dispatcher.Dispatch(ctx, event); err != nil {
		logger.Errorf("Error dispatching domain event %s: %v", event.Name(), err)

		return err
	}

	if ie, ok := event.(IntegrationEvent); ok {
		if err := r.bus.Publish(ctx, ie); err != nil {
			logger.Errorf("Error publishing integration event %s: %v", ie.IntegrationAction(), err)

			return err
		}
	}

	return nil
}

// SubscriberMap is a minimal DomainEventDispatcher: an observer list per event
// name. Hosts with a richer hook bus plug their own dispatcher instead.
type SubscriberMap struct {
	subscribers map[string][]func(ctx context.Context, event DomainEvent) error
}

// NewSubscriberMap returns an empty subscriber map.
func NewSubscriberMap() *SubscriberMap {
	return &SubscriberMap{
		subscribers: make(map[string][]func(ctx context.Context, event DomainEvent) error),
	}
}

// Subscribe registers a callback for the given event name.
func (s *SubscriberMap) Subscribe(name string, fn func(ctx context.Context, event DomainEvent) error) {
	s.subscribers[name] = append(s.subscribers[name], fn)
}

// Dispatch implements DomainEventDispatcher.
func (s *SubscriberMap) Dispatch(ctx context.Context, event DomainEvent) error {
	for _, fn := range s.subscribers[event.Name()] {
		if err := fn(ctx, event); err != nil {
			return err
		}
	}

	return nil
}
