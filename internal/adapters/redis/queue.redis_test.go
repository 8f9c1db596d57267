package redis

import (
	"context"
	"testing"
	"time"

	"github.com/AureliaStudio/conveyor/internal/correlation"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/AureliaStudio/conveyor/pkg/mlog"
	"github.com/AureliaStudio/conveyor/pkg/mredis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) (*miniredis.Miniredis, *QueueRedisRepository) {
	t.Helper()

	server := miniredis.RunT(t)

	conn := &mredis.RedisConnection{
		ConnectionStringSource: "redis://" + server.Addr(),
		Logger:                 &mlog.NoneLogger{},
	}

	return server, NewQueueRedisRepository(conn, "conveyor")
}

func TestQueue_EnqueueAndPop(t *testing.T) {
	_, q := testQueue(t)

	ctx := context.Background()

	err := q.EnqueueAsync(ctx, "conveyor_integration_user_earned", map[string]any{"user_id": int64(7)}, "conveyor-outbox")
	require.NoError(t, err)

	job, err := q.Pop(ctx, []string{"conveyor-outbox"}, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, "conveyor_integration_user_earned", job.Name)
	assert.Equal(t, "conveyor-outbox", job.Group)
	assert.EqualValues(t, 7, job.Payload["user_id"])
}

func TestQueue_PopTimesOutEmpty(t *testing.T) {
	_, q := testQueue(t)

	job, err := q.Pop(context.Background(), []string{"conveyor-outbox"}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_ScheduledJobPromotesWhenDue(t *testing.T) {
	_, q := testQueue(t)

	ctx := context.Background()
	now := time.Now().UTC()

	err := q.ScheduleSingle(ctx, now.Add(time.Hour), "later_job", map[string]any{"n": int64(1)}, "conveyor-outbox")
	require.NoError(t, err)

	promoted, err := q.PromoteDue(ctx, "conveyor-outbox", now)
	require.NoError(t, err)
	assert.Zero(t, promoted, "not due yet")

	promoted, err = q.PromoteDue(ctx, "conveyor-outbox", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	job, err := q.Pop(ctx, []string{"conveyor-outbox"}, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "later_job", job.Name)
}

func TestQueue_ConsumeSeedsCorrelationAndStripsEnvelope(t *testing.T) {
	_, q := testQueue(t)

	ctx := context.Background()

	payload := map[string]any{
		"user_id":                         int64(7),
		correlation.EnvelopeCorrelationID: "c-1",
		correlation.EnvelopeSequence:      int64(4),
		correlation.EnvelopeEventID:       "ev-1",
	}

	require.NoError(t, q.EnqueueAsync(ctx, "conveyor_integration_user_earned", payload, "conveyor-outbox"))

	registry := queue.NewRegistry()

	var (
		seenPayload map[string]any
		seenCorrID  string
		seenSeq     int64
	)

	registry.Register("conveyor_integration_user_earned", func(ctx context.Context, payload map[string]any) error {
		seenPayload = payload

		corr := correlation.FromContext(ctx)
		seenCorrID = corr.Peek()
		seenSeq = corr.Sequence()

		return nil
	})

	handled, err := q.Consume(ctx, registry, []string{"conveyor-outbox"}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, handled)

	assert.Equal(t, "c-1", seenCorrID, "the envelope seeds the correlation context")
	assert.EqualValues(t, 4, seenSeq)

	assert.NotContains(t, seenPayload, correlation.EnvelopeCorrelationID)
	assert.NotContains(t, seenPayload, correlation.EnvelopeEventID)
	assert.EqualValues(t, 7, seenPayload["user_id"])
}

func TestQueue_GroupsAreIsolated(t *testing.T) {
	_, q := testQueue(t)

	ctx := context.Background()

	require.NoError(t, q.EnqueueAsync(ctx, "job_a", map[string]any{}, "group-a"))

	job, err := q.Pop(ctx, []string{"group-b"}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job, "group-b sees nothing from group-a")

	job, err = q.Pop(ctx, []string{"group-a", "group-b"}, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job_a", job.Name)
}
