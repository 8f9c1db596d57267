package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/AureliaStudio/conveyor/internal/correlation"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/AureliaStudio/conveyor/pkg/mredis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// jobEnvelope is the wire form of a queued job.
type jobEnvelope struct {
	Name       string         `msgpack:"name"`
	Payload    map[string]any `msgpack:"payload"`
	Group      string         `msgpack:"group"`
	EnqueuedAt time.Time      `msgpack:"enqueuedAt"`
}

// QueueRedisRepository is a redis implementation of the async queue: a ready
// list per group plus a sorted set holding scheduled jobs by due time.
type QueueRedisRepository struct {
	conn      *mredis.RedisConnection
	keyPrefix string
}

// NewQueueRedisRepository returns a redis-backed queue under the given key prefix.
func NewQueueRedisRepository(conn *mredis.RedisConnection, keyPrefix string) *QueueRedisRepository {
	if keyPrefix == "" {
		keyPrefix = "conveyor"
	}

	return &QueueRedisRepository{
		conn:      conn,
		keyPrefix: keyPrefix,
	}
}

func (r *QueueRedisRepository) readyKey(group string) string {
	return r.keyPrefix + ":queue:" + group
}

func (r *QueueRedisRepository) scheduledKey(group string) string {
	return r.keyPrefix + ":scheduled:" + group
}

// EnqueueAsync implements queue.AsyncQueue.
func (r *QueueRedisRepository) EnqueueAsync(ctx context.Context, name string, payload map[string]any, group string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.queue.enqueue")
	defer span.End()

	client, err := r.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	raw, err := msgpack.Marshal(jobEnvelope{
		Name:       name,
		Payload:    payload,
		Group:      group,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return client.LPush(ctx, r.readyKey(group), raw).Err()
}

// ScheduleSingle implements queue.AsyncQueue: the job becomes ready at the
// given time.
func (r *QueueRedisRepository) ScheduleSingle(ctx context.Context, at time.Time, name string, payload map[string]any, group string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.queue.schedule")
	defer span.End()

	client, err := r.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	raw, err := msgpack.Marshal(jobEnvelope{
		Name:       name,
		Payload:    payload,
		Group:      group,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return client.ZAdd(ctx, r.scheduledKey(group), goredis.Z{
		Score:  float64(at.UTC().Unix()),
		Member: raw,
	}).Err()
}

// PromoteDue moves scheduled jobs whose due time passed onto the ready list.
// Returns the number of jobs promoted.
func (r *QueueRedisRepository) PromoteDue(ctx context.Context, group string, now time.Time) (int, error) {
	client, err := r.conn.GetClient(ctx)
	if err != nil {
		return 0, err
	}

	members, err := client.ZRangeByScore(ctx, r.scheduledKey(group), &goredis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(now),
	}).Result()
	if err != nil {
		return 0, err
	}

	for _, member := range members {
		pipe := client.TxPipeline()
		pipe.LPush(ctx, r.readyKey(group), member)
		pipe.ZRem(ctx, r.scheduledKey(group), member)

		if _, err := pipe.Exec(ctx); err != nil {
			return 0, err
		}
	}

	return len(members), nil
}

// Pop blocks up to timeout for the next ready job across the given groups.
// It returns nil without error when the wait timed out.
func (r *QueueRedisRepository) Pop(ctx context.Context, groups []string, timeout time.Duration) (*queue.Job, error) {
	client, err := r.conn.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(groups))
	for i, group := range groups {
		keys[i] = r.readyKey(group)
	}

	values, err := client.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}

		return nil, err
	}

	var envelope jobEnvelope
	if err := msgpack.Unmarshal([]byte(values[1]), &envelope); err != nil {
		return nil, err
	}

	return &queue.Job{
		Name:    envelope.Name,
		Payload: envelope.Payload,
		Group:   envelope.Group,
		RunAt:   envelope.EnqueuedAt,
	}, nil
}

// Consume promotes due jobs and dispatches one ready job through the
// registry. The job's correlation envelope seeds a fresh correlation context
// and is stripped before the handler runs.
func (r *QueueRedisRepository) Consume(ctx context.Context, registry *queue.Registry, groups []string, timeout time.Duration) (bool, error) {
	for _, group := range groups {
		if _, err := r.PromoteDue(ctx, group, time.Now().UTC()); err != nil {
			return false, err
		}
	}

	job, err := r.Pop(ctx, groups, timeout)
	if err != nil || job == nil {
		return false, err
	}

	corr := correlation.New()
	corr.InitFromEnvelope(job.Payload)

	jobCtx := correlation.ContextWith(ctx, corr)

	if err := registry.Dispatch(jobCtx, job.Name, correlation.StripEnvelope(job.Payload)); err != nil {
		return true, err
	}

	return true, nil
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UTC().Unix(), 10)
}
