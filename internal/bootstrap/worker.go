package bootstrap

import (
	"context"
	"time"

	pglock "github.com/AureliaStudio/conveyor/internal/adapters/postgres/lock"
	pgoutbox "github.com/AureliaStudio/conveyor/internal/adapters/postgres/outbox"
	redisadapter "github.com/AureliaStudio/conveyor/internal/adapters/redis"
	"github.com/AureliaStudio/conveyor/internal/processor"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/AureliaStudio/conveyor/pkg/mlog"
	"github.com/AureliaStudio/conveyor/pkg/mruntime"
)

// OutboxWorker runs the outbox processor on its schedule. Each tick also
// sweeps the expired rows of the fallback lock table.
type OutboxWorker struct {
	processor *processor.Processor
	repo      pgoutbox.Repository
	locks     pglock.Repository
	logger    mlog.Logger
	interval  time.Duration
	lastPurge time.Time
}

// Completed entries older than this are purged once per purgeEvery.
const (
	purgeEvery     = time.Hour
	purgeRetention = 30 * 24 * time.Hour
)

// NewOutboxWorker returns the periodic outbox processing app.
func NewOutboxWorker(p *processor.Processor, repo pgoutbox.Repository, locks pglock.Repository, logger mlog.Logger, interval time.Duration) *OutboxWorker {
	return &OutboxWorker{
		processor: p,
		repo:      repo,
		locks:     locks,
		logger:    logger,
		interval:  interval,
	}
}

// Run implements pkg.App.
func (w *OutboxWorker) Run(l *pkg.Launcher) error {
	ctx := pkg.ContextWithLogger(context.Background(), w.logger)

	w.logger.Infof("Outbox processor started as worker %s, interval %s", w.processor.WorkerID(), w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for range ticker.C {
		result, err := w.processor.ProcessBatch(ctx)
		if err != nil {
			w.logger.Errorf("Outbox batch failed: %v", err)

			continue
		}

		if result.Total > 0 {
			w.logger.Infof("Outbox batch: %d completed, %d retried, %d dead-lettered of %d",
				result.Completed, result.Failed, result.DLQ, result.Total)
		}

		stats, err := w.repo.GetStats(ctx)
		if err == nil && stats.UnresolvedDLQ > 0 {
			w.logger.Warnf("Outbox DLQ has %d unresolved entr(ies)", stats.UnresolvedDLQ)
		}

		if w.locks != nil {
			if swept, err := w.locks.SweepExpired(ctx); err == nil && swept > 0 {
				w.logger.Infof("Swept %d expired lock row(s)", swept)
			}
		}

		if time.Since(w.lastPurge) >= purgeEvery {
			w.lastPurge = time.Now()

			if purged, err := w.repo.PurgeCompleted(ctx, purgeRetention); err == nil && purged > 0 {
				w.logger.Infof("Purged %d completed outbox entr(ies)", purged)
			}
		}
	}

	return nil
}

// QueueWorker pops jobs from the redis queue and dispatches them to the job
// registry on a small worker pool.
type QueueWorker struct {
	queue    *redisadapter.QueueRedisRepository
	registry *queue.Registry
	logger   mlog.Logger
	groups   []string
	workers  int
}

// NewQueueWorker returns the queue consumer app.
func NewQueueWorker(q *redisadapter.QueueRedisRepository, registry *queue.Registry, logger mlog.Logger, groups []string, workers int) *QueueWorker {
	if workers <= 0 {
		workers = 1
	}

	return &QueueWorker{
		queue:    q,
		registry: registry,
		logger:   logger,
		groups:   groups,
		workers:  workers,
	}
}

// Run implements pkg.App.
func (w *QueueWorker) Run(l *pkg.Launcher) error {
	ctx := pkg.ContextWithLogger(context.Background(), w.logger)

	w.logger.Infof("Queue worker started with %d worker(s) on groups %v", w.workers, w.groups)

	done := make(chan struct{})

	for i := 0; i < w.workers; i++ {
		mruntime.SafeGoWithContext(ctx, w.logger, ApplicationName, "queue-worker", func(ctx context.Context) {
			for {
				handled, err := w.queue.Consume(ctx, w.registry, w.groups, 5*time.Second)
				if err != nil {
					w.logger.Errorf("Queue job failed: %v", err)
				}

				if !handled && err != nil {
					time.Sleep(time.Second)
				}
			}
		})
	}

	<-done

	return nil
}
