package payloads

import (
	"encoding/json"
	"sync"

	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
)

// Payload is a typed value that can cross a persistence boundary. Concrete
// types register a short, stable tag; the codec dispatches on it. Persisted
// data never contains Go type names.
type Payload interface {
	Tag() string
}

// Envelope is the persisted form of a Payload: the registered tag plus the
// JSON document of the concrete value.
type Envelope struct {
	Tag  string          `json:"_tag"`
	Data json.RawMessage `json:"_data"`
}

// IsZero reports whether the envelope holds nothing.
func (e Envelope) IsZero() bool {
	return e.Tag == "" && len(e.Data) == 0
}

// Registry maps payload tags to factories for decoding.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Payload
}

// NewRegistry returns an empty payload registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() Payload),
	}
}

// Register binds a tag to a factory returning a zero value of the concrete
// type. Registering the same tag twice overwrites the previous factory.
func (r *Registry) Register(tag string, factory func() Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[tag] = factory
}

// Encode wraps a payload into its persisted envelope. A nil payload yields a
// zero envelope.
func (r *Registry) Encode(p Payload) (Envelope, error) {
	if p == nil {
		return Envelope{}, nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Tag: p.Tag(), Data: data}, nil
}

// Decode reconstructs the concrete payload from its envelope. A zero envelope
// yields nil.
func (r *Registry) Decode(e Envelope) (Payload, error) {
	if e.IsZero() {
		return nil, nil
	}

	r.mu.RLock()
	factory, ok := r.factories[e.Tag]
	r.mu.RUnlock()

	if !ok {
		return nil, pkg.ValidateBusinessError(cn.ErrUnknownPayloadTag, "Payload", e.Tag)
	}

	p := factory()
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry. Applications register their
// concrete payloads during bootstrap.
func Default() *Registry {
	return defaultRegistry
}
