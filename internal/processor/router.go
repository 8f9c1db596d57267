package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/AureliaStudio/conveyor/internal/outbox"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
	"github.com/sony/gobreaker"
)

// Publisher hands a claimed entry off to a transport.
type Publisher interface {
	Publish(ctx context.Context, entry *outbox.Entry, wrapped map[string]any) error
}

// ExternalSink is the replaceable handler for the external transport. It
// returns whether it handled the entry; declining is not an error.
type ExternalSink interface {
	Publish(ctx context.Context, entry *outbox.Entry, wrapped map[string]any) (bool, error)
}

// TransportResolver lets hosts override the transport per entry. The default
// resolver returns the entry's stored transport.
type TransportResolver func(entry *outbox.Entry) outbox.Transport

// RouterConfig tunes the routing decisions.
type RouterConfig struct {
	JobPrefix                  string
	DefaultGroup               string
	MaxInProcessBytes          int
	RouteLargePayloadsExternal bool
}

// Router is the built-in Publisher. It resolves the effective transport and
// hands the entry to the external sink or to the in-process async queue.
type Router struct {
	queue    queue.AsyncQueue
	external ExternalSink
	breaker  *gobreaker.CircuitBreaker
	resolver TransportResolver
	config   RouterConfig
}

// NewRouter returns a Router over the given queue and optional external sink.
func NewRouter(q queue.AsyncQueue, external ExternalSink, resolver TransportResolver, config RouterConfig) *Router {
	if config.JobPrefix == "" {
		config.JobPrefix = "conveyor"
	}

	if config.DefaultGroup == "" {
		config.DefaultGroup = config.JobPrefix + "-outbox"
	}

	if resolver == nil {
		resolver = func(entry *outbox.Entry) outbox.Transport {
			return entry.Transport
		}
	}

	var breaker *gobreaker.CircuitBreaker
	if external != nil {
		breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "outbox-external-sink",
			Timeout: 30 * time.Second,
		})
	}

	return &Router{
		queue:    q,
		external: external,
		breaker:  breaker,
		resolver: resolver,
		config:   config,
	}
}

// Publish implements Publisher.
func (r *Router) Publish(ctx context.Context, entry *outbox.Entry, wrapped map[string]any) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "processor.router.publish")
	defer span.End()

	transport := r.resolver(entry)

	wantsExternal := transport == outbox.TransportExternal ||
		(r.config.RouteLargePayloadsExternal && entry.PayloadBytes > r.config.MaxInProcessBytes)

	if wantsExternal {
		handled, err := r.publishExternal(ctx, entry, wrapped)
		if err != nil {
			return err
		}

		if handled {
			return nil
		}

		// An entry that requires the external transport must not silently fall
		// back in-process; failing the publish surfaces the misconfiguration
		// through the retry and DLQ path.
		if transport == outbox.TransportExternal {
			return pkg.ValidateBusinessError(cn.ErrExternalPublishUnhandled, "OutboxEntry")
		}
	}

	return r.publishInProcess(ctx, entry, wrapped)
}

func (r *Router) publishExternal(ctx context.Context, entry *outbox.Entry, wrapped map[string]any) (bool, error) {
	if r.external == nil {
		return false, nil
	}

	handled, err := r.breaker.Execute(func() (any, error) {
		ok, err := r.external.Publish(ctx, entry, wrapped)
		if err != nil {
			return false, err
		}

		return ok, nil
	})
	if err != nil {
		return false, err
	}

	return handled.(bool), nil
}

func (r *Router) publishInProcess(ctx context.Context, entry *outbox.Entry, wrapped map[string]any) error {
	group := r.config.DefaultGroup
	if entry.Queue != nil && *entry.Queue != "" {
		group = *entry.Queue
	}

	name := r.JobName(entry.IntegrationAction)

	if entry.DelaySeconds > 0 {
		at := time.Now().UTC().Add(time.Duration(entry.DelaySeconds) * time.Second)

		return r.queue.ScheduleSingle(ctx, at, name, wrapped, group)
	}

	return r.queue.EnqueueAsync(ctx, name, wrapped, group)
}

// JobName returns the queue job name for an integration action.
func (r *Router) JobName(integrationAction string) string {
	return fmt.Sprintf("%s_integration_%s", r.config.JobPrefix, integrationAction)
}
