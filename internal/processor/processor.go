package processor

import (
	"context"
	"fmt"
	"os"
	"time"

	pgoutbox "github.com/AureliaStudio/conveyor/internal/adapters/postgres/outbox"
	"github.com/AureliaStudio/conveyor/internal/correlation"
	"github.com/AureliaStudio/conveyor/internal/outbox"
	"github.com/AureliaStudio/conveyor/pkg"
)

// Config tunes one processor worker.
type Config struct {
	BatchSize int
	LockTTL   time.Duration
}

// Processor drains the outbox: each batch reclaims stale leases, claims due
// entries for this worker, publishes them and marks the outcome. Failures are
// absorbed per entry; an entry that exhausted its attempts moves to the DLQ.
type Processor struct {
	repo      pgoutbox.Repository
	publisher Publisher
	config    Config
	workerID  string
}

// NewProcessor returns a Processor identified by hostname and pid.
func NewProcessor(repo pgoutbox.Repository, publisher Publisher, config Config) *Processor {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Processor{
		repo:      repo,
		publisher: publisher,
		config:    config,
		workerID:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// WorkerID returns the worker identity used for leases.
func (p *Processor) WorkerID() string {
	return p.workerID
}

// ProcessBatch runs one claim-and-publish sweep.
func (p *Processor) ProcessBatch(ctx context.Context) (*outbox.ProcessingResult, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "processor.process_batch")
	defer span.End()

	released, err := p.repo.ReleaseStaleLocks(ctx)
	if err != nil {
		return nil, err
	}

	if released > 0 {
		logger.Infof("Released %d stale outbox lock(s)", released)
	}

	entries, err := p.repo.FetchPending(ctx, p.config.BatchSize, p.workerID, p.config.LockTTL)
	if err != nil {
		return nil, err
	}

	result := &outbox.ProcessingResult{Total: len(entries)}

	if len(entries) == 0 {
		return result, nil
	}

	for _, entry := range entries {
		if err := p.publisher.Publish(ctx, entry, WrapPayload(entry)); err != nil {
			logger.Errorf("Error publishing outbox entry %s: %v", entry.EventID, err)

			p.handleFailure(ctx, entry, err, result)

			continue
		}

		if err := p.repo.MarkCompleted(ctx, entry.EventID, p.workerID); err != nil {
			logger.Errorf("Error completing outbox entry %s: %v", entry.EventID, err)

			continue
		}

		result.Completed++
	}

	return result, nil
}

func (p *Processor) handleFailure(ctx context.Context, entry *outbox.Entry, cause error, result *outbox.ProcessingResult) {
	logger := pkg.NewLoggerFromContext(ctx)

	newAttempts := entry.Attempts + 1

	if newAttempts >= entry.MaxAttempts {
		if err := p.repo.MoveToDLQ(ctx, entry.EventID, cause.Error()); err != nil {
			logger.Errorf("Error moving outbox entry %s to DLQ: %v", entry.EventID, err)

			return
		}

		result.DLQ++

		return
	}

	if err := p.repo.MarkFailed(ctx, entry.EventID, p.workerID, cause.Error()); err != nil {
		logger.Errorf("Error scheduling retry for outbox entry %s: %v", entry.EventID, err)

		return
	}

	result.Failed++
}

// WrapPayload copies the stored payload and injects the correlation envelope
// so the consumer can restore its correlation context.
func WrapPayload(entry *outbox.Entry) map[string]any {
	wrapped := make(map[string]any, len(entry.Payload)+3)

	for k, v := range entry.Payload {
		wrapped[k] = v
	}

	wrapped[correlation.EnvelopeCorrelationID] = entry.CorrelationID
	wrapped[correlation.EnvelopeSequence] = entry.Sequence
	wrapped[correlation.EnvelopeEventID] = entry.EventID

	return wrapped
}
