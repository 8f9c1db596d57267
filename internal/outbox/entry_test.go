package outbox

import (
	"strings"
	"testing"
	"time"

	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentReceived struct {
	orderID int
	delay   int
	unique  bool
	queue   string
}

func (e paymentReceived) Name() string              { return "PaymentReceived" }
func (e paymentReceived) IntegrationAction() string { return "payment_received" }
func (e paymentReceived) DelaySeconds() int         { return e.delay }
func (e paymentReceived) IsUnique() bool            { return e.unique }
func (e paymentReceived) Queue() string             { return e.queue }
func (e paymentReceived) Payload() map[string]any {
	return map[string]any{"order_id": e.orderID}
}

func TestNewEntry_Defaults(t *testing.T) {
	entry, err := NewEntry(paymentReceived{orderID: 42}, "c-1", 1, nil, 0, 0)
	require.NoError(t, err)

	assert.True(t, pkg.IsUUID(entry.EventID))
	assert.Equal(t, "PaymentReceived", entry.EventType)
	assert.Equal(t, "payment_received", entry.IntegrationAction)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, TransportInProcess, entry.Transport)
	assert.Equal(t, "c-1", entry.CorrelationID)
	assert.Equal(t, int64(1), entry.Sequence)
	assert.Equal(t, 0, entry.Attempts)
	assert.Equal(t, DefaultMaxAttempts, entry.MaxAttempts)
	assert.False(t, entry.IsUnique)
	assert.Positive(t, entry.PayloadBytes)
	assert.WithinDuration(t, time.Now().UTC(), entry.ScheduledAt, 2*time.Second)
}

func TestNewEntry_DelayShiftsSchedule(t *testing.T) {
	entry, err := NewEntry(paymentReceived{orderID: 1, delay: 90}, "c-1", 1, nil, 5, 0)
	require.NoError(t, err)

	assert.Equal(t, 90, entry.DelaySeconds)
	assert.WithinDuration(t, time.Now().UTC().Add(90*time.Second), entry.ScheduledAt, 2*time.Second)
}

func TestNewEntry_QueueOverride(t *testing.T) {
	entry, err := NewEntry(paymentReceived{orderID: 1, queue: "billing"}, "c-1", 1, nil, 5, 0)
	require.NoError(t, err)

	require.NotNil(t, entry.Queue)
	assert.Equal(t, "billing", *entry.Queue)
}

func TestRetryDelay_ExponentialWithClamp(t *testing.T) {
	base := 60 * time.Second
	max := 3600 * time.Second

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{6, 1920 * time.Second},
		{7, 3600 * time.Second},
		{50, 3600 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryDelay(tt.attempts, base, 2.0, max), "attempts=%d", tt.attempts)
	}
}

func TestRetryDelay_ZeroAttemptsTreatedAsFirst(t *testing.T) {
	assert.Equal(t, 60*time.Second, RetryDelay(0, 60*time.Second, 2.0, time.Hour))
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		contains    string
		notContains string
	}{
		{"email", "Error for user@example.com", "[REDACTED]", "user@example.com"},
		{"phone", "Contact: 555-123-4567", "[REDACTED]", "555-123-4567"},
		{"ip", "From IP: 192.168.1.100", "[REDACTED]", "192.168.1.100"},
		{"truncate", strings.Repeat("A", 600), "...[truncated]", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeErrorMessage(tt.input)
			if tt.contains != "" {
				assert.Contains(t, result, tt.contains)
			}
			if tt.notContains != "" {
				assert.NotContains(t, result, tt.notContains)
			}
		})
	}
}
