package processor

import (
	"context"
	"testing"

	"github.com/AureliaStudio/conveyor/internal/correlation"
	"github.com/AureliaStudio/conveyor/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type integrationEvent struct {
	name   string
	action string
	unique bool
	data   map[string]any
}

func (e integrationEvent) Name() string              { return e.name }
func (e integrationEvent) IntegrationAction() string { return e.action }
func (e integrationEvent) DelaySeconds() int         { return 0 }
func (e integrationEvent) IsUnique() bool            { return e.unique }
func (e integrationEvent) Payload() map[string]any   { return e.data }

func TestOutboxBus_WritesEntryUnderCorrelation(t *testing.T) {
	repo := newFakeOutboxRepo()
	bus := NewOutboxBus(repo, 5)

	corr := correlation.New()
	corr.Set("c-1")
	corr.SetCommandID("cmd-9")

	ctx := correlation.ContextWith(context.Background(), corr)

	event := integrationEvent{name: "UserEarned", action: "user_earned", data: map[string]any{"user_id": 7}}

	err := bus.Publish(ctx, event)
	require.NoError(t, err)

	require.Len(t, repo.entries, 1)

	for _, entry := range repo.entries {
		assert.Equal(t, "c-1", entry.CorrelationID)
		assert.Equal(t, int64(1), entry.Sequence)
		require.NotNil(t, entry.CommandID)
		assert.Equal(t, "cmd-9", *entry.CommandID)
		assert.Equal(t, 5, entry.MaxAttempts)
		assert.Equal(t, outbox.StatusPending, entry.Status)
	}
}

func TestOutboxBus_SequenceIncreasesPerEvent(t *testing.T) {
	repo := newFakeOutboxRepo()
	bus := NewOutboxBus(repo, 5)

	corr := correlation.New()
	corr.Set("c-1")

	ctx := correlation.ContextWith(context.Background(), corr)

	for i := 0; i < 3; i++ {
		err := bus.Publish(ctx, integrationEvent{name: "E", action: "e", data: map[string]any{"i": i}})
		require.NoError(t, err)
	}

	seen := make(map[int64]bool)

	for _, entry := range repo.entries {
		assert.False(t, seen[entry.Sequence], "sequence %d duplicated", entry.Sequence)
		seen[entry.Sequence] = true
	}

	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: true}, seen)
}

func TestOutboxBus_UniqueEventCancelsDuplicatesFirst(t *testing.T) {
	repo := newFakeOutboxRepo()
	repo.cancelled = 1

	bus := NewOutboxBus(repo, 5)

	ctx := correlation.ContextWith(context.Background(), correlation.New())

	err := bus.Publish(ctx, integrationEvent{name: "X", action: "x", unique: true, data: map[string]any{"a": 1}})
	require.NoError(t, err)

	assert.Zero(t, repo.cancelled, "CancelDuplicates consumed before the new entry was written")
	assert.Len(t, repo.entries, 1)
}

func TestPayloadSignature_StableAcrossCalls(t *testing.T) {
	event := integrationEvent{name: "X", action: "x", data: map[string]any{"a": 1, "b": "two"}}

	assert.Equal(t, payloadSignature(event), payloadSignature(event))
	assert.NotEmpty(t, payloadSignature(event))
}
