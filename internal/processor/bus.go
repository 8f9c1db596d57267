package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	pgoutbox "github.com/AureliaStudio/conveyor/internal/adapters/postgres/outbox"
	"github.com/AureliaStudio/conveyor/internal/correlation"
	"github.com/AureliaStudio/conveyor/internal/events"
	"github.com/AureliaStudio/conveyor/internal/outbox"
	"github.com/AureliaStudio/conveyor/pkg"
)

// OutboxBus is the default IntegrationEventBus: it writes integration events
// to the outbox table through the ambient transaction, so the event commits
// atomically with the command's business writes.
type OutboxBus struct {
	repo        pgoutbox.Repository
	maxAttempts int
}

// NewOutboxBus returns an outbox-backed integration event bus.
func NewOutboxBus(repo pgoutbox.Repository, maxAttempts int) *OutboxBus {
	return &OutboxBus{
		repo:        repo,
		maxAttempts: maxAttempts,
	}
}

// Publish implements events.IntegrationEventBus. Unique events first cancel
// earlier pending entries of the same type.
func (b *OutboxBus) Publish(ctx context.Context, event events.IntegrationEvent) error {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "processor.outbox_bus.publish")
	defer span.End()

	if event.IsUnique() {
		cancelled, err := b.repo.CancelDuplicates(ctx, event.Name(), payloadSignature(event))
		if err != nil {
			return err
		}

		if cancelled > 0 {
			logger.Infof("Superseded %d pending %s event(s)", cancelled, event.Name())
		}
	}

	corr := correlation.FromContext(ctx)

	var commandID *string
	if id := corr.CommandID(); id != "" {
		commandID = &id
	}

	entry, err := outbox.NewEntry(event, corr.Get(), corr.NextSequence(), commandID, b.maxAttempts, pkg.BlogIDFromContext(ctx))
	if err != nil {
		return err
	}

	if _, err := b.repo.Create(ctx, entry); err != nil {
		logger.Errorf("Error writing integration event %s to outbox: %v", event.IntegrationAction(), err)

		return err
	}

	return nil
}

// payloadSignature hashes the scalarized payload. The store currently matches
// duplicates by type only; the signature is carried for exact matching later.
func payloadSignature(event events.IntegrationEvent) string {
	raw, err := json.Marshal(events.ScalarizeMap(event.Payload()))
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:])
}
