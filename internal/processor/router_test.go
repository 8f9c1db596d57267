package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AureliaStudio/conveyor/internal/outbox"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	handled  bool
	err      error
	received []*outbox.Entry
}

func (s *fakeSink) Publish(ctx context.Context, entry *outbox.Entry, wrapped map[string]any) (bool, error) {
	s.received = append(s.received, entry)

	return s.handled, s.err
}

func inProcessEntry(action string, payloadBytes int) *outbox.Entry {
	return &outbox.Entry{
		EventID:           "ev-1",
		EventType:         "UserEarned",
		IntegrationAction: action,
		Transport:         outbox.TransportInProcess,
		PayloadBytes:      payloadBytes,
		Payload:           map[string]any{"user_id": 7},
	}
}

func TestRouter_InProcessEnqueuesImmediately(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	router := NewRouter(q, nil, nil, RouterConfig{JobPrefix: "conveyor"})

	entry := inProcessEntry("user_earned", 100)

	err := router.Publish(context.Background(), entry, map[string]any{"user_id": 7})
	require.NoError(t, err)

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "conveyor_integration_user_earned", jobs[0].Name)
	assert.Equal(t, "conveyor-outbox", jobs[0].Group)
}

func TestRouter_DelayedEntryIsScheduled(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	router := NewRouter(q, nil, nil, RouterConfig{})

	entry := inProcessEntry("user_earned", 100)
	entry.DelaySeconds = 120

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.NoError(t, err)

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Minute), jobs[0].RunAt, 2*time.Second)
}

func TestRouter_QueueGroupOverride(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	router := NewRouter(q, nil, nil, RouterConfig{})

	entry := inProcessEntry("user_earned", 100)
	group := "billing"
	entry.Queue = &group

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.NoError(t, err)

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "billing", jobs[0].Group)
}

func TestRouter_ExternalTransportRequiresHandling(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	sink := &fakeSink{handled: false}
	router := NewRouter(q, sink, nil, RouterConfig{})

	entry := inProcessEntry("user_earned", 100)
	entry.Transport = outbox.TransportExternal

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.Error(t, err, "declined external publish must fail so retries surface the misconfig")
	assert.Empty(t, q.Jobs(), "an external entry must not fall back in-process")
}

func TestRouter_ExternalTransportHandled(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	sink := &fakeSink{handled: true}
	router := NewRouter(q, sink, nil, RouterConfig{})

	entry := inProcessEntry("user_earned", 100)
	entry.Transport = outbox.TransportExternal

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.NoError(t, err)

	assert.Len(t, sink.received, 1)
	assert.Empty(t, q.Jobs())
}

func TestRouter_ExternalTransportMissingSink(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	router := NewRouter(q, nil, nil, RouterConfig{})

	entry := inProcessEntry("user_earned", 100)
	entry.Transport = outbox.TransportExternal

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.Error(t, err)
}

func TestRouter_LargePayloadRoutedExternal(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	sink := &fakeSink{handled: true}
	router := NewRouter(q, sink, nil, RouterConfig{
		MaxInProcessBytes:          1000,
		RouteLargePayloadsExternal: true,
	})

	entry := inProcessEntry("user_earned", 5000)

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.NoError(t, err)

	assert.Len(t, sink.received, 1)
	assert.Empty(t, q.Jobs())
}

func TestRouter_LargePayloadDeclinedFallsBackInProcess(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	sink := &fakeSink{handled: false}
	router := NewRouter(q, sink, nil, RouterConfig{
		MaxInProcessBytes:          1000,
		RouteLargePayloadsExternal: true,
	})

	entry := inProcessEntry("user_earned", 5000)

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.NoError(t, err, "a declined large payload still reaches the in-process queue")
	assert.Len(t, q.Jobs(), 1)
}

func TestRouter_SinkErrorPropagates(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	sink := &fakeSink{err: errors.New("amqp closed")}
	router := NewRouter(q, sink, nil, RouterConfig{})

	entry := inProcessEntry("user_earned", 100)
	entry.Transport = outbox.TransportExternal

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.Error(t, err)
}

func TestRouter_TransportResolverOverrides(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	sink := &fakeSink{handled: true}

	resolver := func(entry *outbox.Entry) outbox.Transport {
		return outbox.TransportExternal
	}

	router := NewRouter(q, sink, resolver, RouterConfig{})

	entry := inProcessEntry("user_earned", 100)

	err := router.Publish(context.Background(), entry, map[string]any{})
	require.NoError(t, err)

	assert.Len(t, sink.received, 1, "resolver hook decides the effective transport")
}
