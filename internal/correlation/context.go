package correlation

import (
	"context"
	"sync"

	"github.com/AureliaStudio/conveyor/pkg"
)

// Envelope keys injected into every durable job payload so a worker can restore
// the correlation state of the operation that produced the job.
const (
	EnvelopeCorrelationID = "__correlation_id"
	EnvelopeSequence      = "__sequence"
	EnvelopeEventID       = "__event_id"
)

// Context holds the per-operation identifiers: the correlation id shared by the
// whole chain of commands and events, the command id of the current command and
// a monotonic sequence used to order events inside the correlation.
//
// A Context is scoped to one logical operation. Workers carry it per task via
// context.Context; there is no process-wide instance.
type Context struct {
	mu            sync.Mutex
	correlationID string
	commandID     string
	sequence      int64
}

// New returns an empty correlation context.
func New() *Context {
	return &Context{}
}

// Init seeds the context with the given correlation id. An empty id clears the
// cached value so the next Get generates a fresh one.
func (c *Context) Init(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.correlationID = id
	c.commandID = ""
	c.sequence = 0
}

// Get returns the correlation id, generating and caching a fresh UUIDv4 when
// none has been set yet.
func (c *Context) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.correlationID == "" {
		c.correlationID = pkg.GenerateUUIDv4().String()
	}

	return c.correlationID
}

// Peek returns the correlation id without generating one.
func (c *Context) Peek() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.correlationID
}

// Set overrides the correlation id.
func (c *Context) Set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.correlationID = id
}

// SetCommandID stores the id of the command currently being handled.
func (c *Context) SetCommandID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.commandID = id
}

// CommandID returns the id of the command currently being handled.
func (c *Context) CommandID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.commandID
}

// NextSequence increments and returns the sequence counter. The counter starts
// at zero, so the first call returns 1; values are strictly monotonic within
// the context.
func (c *Context) NextSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++

	return c.sequence
}

// Sequence returns the current sequence value without advancing it.
func (c *Context) Sequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sequence
}

// SetSequence fast-forwards the sequence counter, used when restoring from a
// durable job envelope.
func (c *Context) SetSequence(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = seq
}

// Reset clears every identifier so no state leaks into the next operation.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.correlationID = ""
	c.commandID = ""
	c.sequence = 0
}

// InitFromEnvelope restores the context from the envelope keys carried by a
// durable job payload.
func (c *Context) InitFromEnvelope(payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := payload[EnvelopeCorrelationID].(string); ok && id != "" {
		c.correlationID = id
	}

	if seq, ok := toInt64(payload[EnvelopeSequence]); ok {
		c.sequence = seq
	}
}

// toInt64 normalizes the numeric types produced by the JSON and msgpack
// decoders.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}

	return 0, false
}

// StripEnvelope removes the envelope keys from a payload copy, returning the
// user-facing remainder.
func StripEnvelope(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))

	for k, v := range payload {
		if k == EnvelopeCorrelationID || k == EnvelopeSequence || k == EnvelopeEventID {
			continue
		}

		out[k] = v
	}

	return out
}

type correlationContextKey string

var contextKey = correlationContextKey("correlation")

// FromContext returns the correlation Context carried by ctx, or an empty one
// when none was attached. The returned value is shared, not copied.
func FromContext(ctx context.Context) *Context {
	if c, ok := ctx.Value(contextKey).(*Context); ok && c != nil {
		return c
	}

	return New()
}

// ContextWith attaches the correlation Context to ctx.
func ContextWith(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, contextKey, c)
}
