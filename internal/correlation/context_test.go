package correlation

import (
	"context"
	"testing"

	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_GetGeneratesAndCaches(t *testing.T) {
	c := New()

	assert.Empty(t, c.Peek(), "peek must not generate")

	id := c.Get()
	require.True(t, pkg.IsUUID(id))
	assert.Equal(t, id, c.Get(), "second get returns the cached id")
	assert.Equal(t, id, c.Peek())
}

func TestContext_NextSequence_StrictlyMonotonic(t *testing.T) {
	c := New()

	assert.Equal(t, int64(0), c.Sequence())
	assert.Equal(t, int64(1), c.NextSequence())
	assert.Equal(t, int64(2), c.NextSequence())
	assert.Equal(t, int64(3), c.NextSequence())
}

func TestContext_Reset(t *testing.T) {
	c := New()
	c.Set("corr-1")
	c.SetCommandID("cmd-1")
	c.NextSequence()

	c.Reset()

	assert.Empty(t, c.Peek())
	assert.Empty(t, c.CommandID())
	assert.Equal(t, int64(0), c.Sequence())
}

func TestContext_InitFromEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantID  string
		wantSeq int64
	}{
		{
			name: "string id and float sequence",
			payload: map[string]any{
				EnvelopeCorrelationID: "c-1",
				EnvelopeSequence:      float64(7),
			},
			wantID:  "c-1",
			wantSeq: 7,
		},
		{
			name: "int64 sequence",
			payload: map[string]any{
				EnvelopeCorrelationID: "c-2",
				EnvelopeSequence:      int64(3),
			},
			wantID:  "c-2",
			wantSeq: 3,
		},
		{
			name:    "missing keys keep zero values",
			payload: map[string]any{"user_id": 7},
			wantID:  "",
			wantSeq: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			c.InitFromEnvelope(tt.payload)

			assert.Equal(t, tt.wantID, c.Peek())
			assert.Equal(t, tt.wantSeq, c.Sequence())
		})
	}
}

func TestStripEnvelope(t *testing.T) {
	payload := map[string]any{
		"user_id":             7,
		"amount":              5,
		EnvelopeCorrelationID: "c-1",
		EnvelopeSequence:      int64(1),
		EnvelopeEventID:       "e-1",
	}

	stripped := StripEnvelope(payload)

	assert.Equal(t, map[string]any{"user_id": 7, "amount": 5}, stripped)
	assert.Contains(t, payload, EnvelopeCorrelationID, "original must not be mutated")
}

func TestContext_RoundTripThroughContext(t *testing.T) {
	c := New()
	c.Set("corr-9")

	ctx := ContextWith(context.Background(), c)

	assert.Same(t, c, FromContext(ctx))
	assert.Equal(t, "corr-9", FromContext(ctx).Peek())

	fresh := FromContext(context.Background())
	assert.Empty(t, fresh.Peek(), "missing context yields an empty one")
}
