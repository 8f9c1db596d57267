package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Dispatch(t *testing.T) {
	registry := NewRegistry()

	var got map[string]any

	registry.Register("job_a", func(ctx context.Context, payload map[string]any) error {
		got = payload
		return nil
	})

	err := registry.Dispatch(context.Background(), "job_a", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1}, got)
}

func TestRegistry_UnknownJob(t *testing.T) {
	registry := NewRegistry()

	err := registry.Dispatch(context.Background(), "ghost", nil)
	require.Error(t, err)
}

func TestMemoryQueue_RecordsJobs(t *testing.T) {
	q := NewMemoryQueue(nil)

	ctx := context.Background()

	require.NoError(t, q.EnqueueAsync(ctx, "now_job", map[string]any{"a": 1}, "g"))

	at := time.Now().UTC().Add(time.Hour)
	require.NoError(t, q.ScheduleSingle(ctx, at, "later_job", nil, "g"))

	jobs := q.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "now_job", jobs[0].Name)
	assert.Equal(t, at, jobs[1].RunAt)
}

func TestMemoryQueue_DrainDispatchesDueJobs(t *testing.T) {
	registry := NewRegistry()

	var ran []string

	registry.Register("due", func(ctx context.Context, payload map[string]any) error {
		ran = append(ran, "due")
		return nil
	})
	registry.Register("future", func(ctx context.Context, payload map[string]any) error {
		ran = append(ran, "future")
		return nil
	})

	q := NewMemoryQueue(registry)

	ctx := context.Background()

	require.NoError(t, q.EnqueueAsync(ctx, "due", nil, "g"))

	now := time.Now().UTC()
	require.NoError(t, q.ScheduleSingle(ctx, now.Add(time.Hour), "future", nil, "g"))

	dispatched, err := q.Drain(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, 1, dispatched)
	assert.Equal(t, []string{"due"}, ran)
	assert.Len(t, q.Jobs(), 1, "the future job stays queued")
}

func TestMemoryQueue_DrainStopsOnHandlerError(t *testing.T) {
	registry := NewRegistry()

	registry.Register("bad", func(ctx context.Context, payload map[string]any) error {
		return errors.New("handler failed")
	})

	q := NewMemoryQueue(registry)

	require.NoError(t, q.EnqueueAsync(context.Background(), "bad", nil, "g"))

	_, err := q.Drain(context.Background(), time.Now().UTC())
	require.Error(t, err)
}
