package payloads

import (
	"errors"
	"testing"

	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPayload struct {
	OrderID int    `json:"orderId"`
	Note    string `json:"note"`
}

func (p *orderPayload) Tag() string { return "order" }

func TestRegistry_EncodeDecode_RoundTrip(t *testing.T) {
	registry := NewRegistry()
	registry.Register("order", func() Payload { return &orderPayload{} })

	original := &orderPayload{OrderID: 42, Note: "expedite"}

	envelope, err := registry.Encode(original)
	require.NoError(t, err)
	assert.Equal(t, "order", envelope.Tag)

	decoded, err := registry.Decode(envelope)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestRegistry_Decode_UnknownTag(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Decode(Envelope{Tag: "ghost", Data: []byte(`{}`)})
	require.Error(t, err)

	var unprocessable pkg.UnprocessableOperationError
	assert.True(t, errors.As(err, &unprocessable))
}

func TestRegistry_NilPayload(t *testing.T) {
	registry := NewRegistry()

	envelope, err := registry.Encode(nil)
	require.NoError(t, err)
	assert.True(t, envelope.IsZero())

	decoded, err := registry.Decode(envelope)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}
