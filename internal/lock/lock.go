package lock

import (
	"context"
	"time"

	pglock "github.com/AureliaStudio/conveyor/internal/adapters/postgres/lock"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
	"github.com/AureliaStudio/conveyor/pkg/mredis"
)

// Bounds of the lock parameters; callers asking for more are clamped.
const (
	MinDuration      = 1 * time.Second
	MaxDuration      = 60 * time.Second
	MaxRetries       = 20
	MinRetryInterval = 125 * time.Millisecond
)

// Config carries the defaults applied when a caller passes zero values.
type Config struct {
	Duration      time.Duration
	Retries       int
	RetryInterval time.Duration
}

// Manager is a coarse, named, short-TTL mutual exclusion primitive. Redis is
// the first choice because its add-if-absent is atomic and cluster-safe; the
// database lock table is the fallback when no cache is configured. Expiry is
// compared against wall-clock now on every attempt, and an elapsed value is
// proactively cleared before the next retry.
type Manager struct {
	redis  *mredis.RedisConnection
	repo   pglock.Repository
	config Config
}

// NewManager returns a lock manager. Either connection may be nil; redis wins
// when both are present.
func NewManager(redis *mredis.RedisConnection, repo pglock.Repository, config Config) *Manager {
	if config.Duration == 0 {
		config.Duration = 30 * time.Second
	}

	if config.Retries == 0 {
		config.Retries = 10
	}

	if config.RetryInterval == 0 {
		config.RetryInterval = 1 * time.Second
	}

	return &Manager{
		redis:  redis,
		repo:   repo,
		config: config,
	}
}

// Acquire takes the named lock, retrying up to the budget. Zero arguments fall
// back to the configured defaults.
func (m *Manager) Acquire(ctx context.Context, prefix, name string, duration time.Duration, retries int, retryInterval time.Duration) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "lock.acquire")
	defer span.End()

	duration = clampDuration(duration, m.config.Duration)
	retries = clampRetries(retries, m.config.Retries)
	retryInterval = clampRetryInterval(retryInterval, m.config.RetryInterval)

	key := lockKey(prefix, name)

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryInterval):
			}
		}

		acquired, err := m.tryAcquire(ctx, key, duration)
		if err != nil {
			return err
		}

		if acquired {
			return nil
		}
	}

	return pkg.ValidateBusinessError(cn.ErrLockNotAcquired, "Lock", key)
}

// Release frees the named lock on every backend that may hold it.
func (m *Manager) Release(ctx context.Context, prefix, name string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "lock.release")
	defer span.End()

	key := lockKey(prefix, name)

	if m.redis != nil {
		client, err := m.redis.GetClient(ctx)
		if err == nil {
			if err := client.Del(ctx, key).Err(); err != nil {
				return err
			}

			return nil
		}
	}

	if m.repo != nil {
		return m.repo.Delete(ctx, key)
	}

	return nil
}

// WithLock runs callback under the named lock and releases it on every exit
// path.
func (m *Manager) WithLock(ctx context.Context, prefix, name string, callback func(ctx context.Context) error) error {
	if err := m.Acquire(ctx, prefix, name, 0, 0, 0); err != nil {
		return err
	}

	defer func() {
		logger := pkg.NewLoggerFromContext(ctx)

		if err := m.Release(ctx, prefix, name); err != nil {
			logger.Errorf("Error releasing lock %s: %v", lockKey(prefix, name), err)
		}
	}()

	return callback(ctx)
}

func (m *Manager) tryAcquire(ctx context.Context, key string, duration time.Duration) (bool, error) {
	if m.redis != nil {
		client, err := m.redis.GetClient(ctx)
		if err == nil {
			// SET NX EX is the atomic add-if-absent; redis expires the key
			// itself, so no proactive clear is needed on this path.
			return client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), duration).Result()
		}
	}

	if m.repo == nil {
		return false, nil
	}

	if err := m.repo.DeleteExpired(ctx, key); err != nil {
		return false, err
	}

	return m.repo.TryInsert(ctx, key, time.Now().UTC().Add(duration))
}

func lockKey(prefix, name string) string {
	return prefix + ":" + name
}

func clampDuration(d, fallback time.Duration) time.Duration {
	if d == 0 {
		d = fallback
	}

	if d < MinDuration {
		return MinDuration
	}

	if d > MaxDuration {
		return MaxDuration
	}

	return d
}

func clampRetries(r, fallback int) int {
	if r == 0 {
		r = fallback
	}

	if r > MaxRetries {
		return MaxRetries
	}

	if r < 0 {
		return 0
	}

	return r
}

func clampRetryInterval(i, fallback time.Duration) time.Duration {
	if i == 0 {
		i = fallback
	}

	if i < MinRetryInterval {
		return MinRetryInterval
	}

	return i
}
