package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userEarned struct {
	userID int
	amount int
	unique bool
	delay  int
}

func (e userEarned) Name() string              { return "UserEarned" }
func (e userEarned) IntegrationAction() string { return "user_earned" }
func (e userEarned) DelaySeconds() int         { return e.delay }
func (e userEarned) IsUnique() bool            { return e.unique }
func (e userEarned) Payload() map[string]any {
	return map[string]any{"user_id": e.userID, "amount": e.amount}
}

type localOnly struct{ name string }

func (e localOnly) Name() string { return e.name }

type recordingBus struct {
	published []IntegrationEvent
}

func (b *recordingBus) Publish(ctx context.Context, event IntegrationEvent) error {
	b.published = append(b.published, event)
	return nil
}

func TestRouter_PublishesLocallyAlways(t *testing.T) {
	dispatcher := NewSubscriberMap()
	bus := &recordingBus{}
	router := NewRouter(dispatcher, bus)

	var seen []string

	dispatcher.Subscribe("LocalThing", func(ctx context.Context, event DomainEvent) error {
		seen = append(seen, event.Name())
		return nil
	})

	err := router.Publish(context.Background(), localOnly{name: "LocalThing"})
	require.NoError(t, err)

	assert.Equal(t, []string{"LocalThing"}, seen)
	assert.Empty(t, bus.published, "a plain domain event must not reach the integration bus")
}

func TestRouter_IntegrationEventReachesBus(t *testing.T) {
	dispatcher := NewSubscriberMap()
	bus := &recordingBus{}
	router := NewRouter(dispatcher, bus)

	event := userEarned{userID: 7, amount: 5}

	err := router.Publish(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, bus.published, 1)
	assert.Equal(t, "user_earned", bus.published[0].IntegrationAction())
}

type entityStub struct{ id string }

func (e entityStub) Identity() string { return e.id }

type colorEnum int

func TestScalarize(t *testing.T) {
	when := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string", "abc", "abc"},
		{"int", 42, 42},
		{"bool", true, true},
		{"time", when, "2025-03-01T12:30:00Z"},
		{"entity", entityStub{id: "ent-1"}, "ent-1"},
		{"enum", colorEnum(3), int64(3)},
		{"slice", []any{1, entityStub{id: "x"}}, []any{1, "x"}},
		{"map", map[string]any{"at": when}, map[string]any{"at": "2025-03-01T12:30:00Z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scalarize(tt.in))
		})
	}
}

type testAggregate struct {
	events []DomainEvent
}

func (a *testAggregate) PullEvents() []DomainEvent {
	out := a.events
	a.events = nil

	return out
}

func TestUnitOfWork_DrainAndPublished(t *testing.T) {
	uow := NewUnitOfWork()

	uow.Record(localOnly{name: "one"})
	uow.CollectFrom(&testAggregate{events: []DomainEvent{localOnly{name: "two"}}})

	drained := uow.Drain()
	require.Len(t, drained, 2)
	assert.Empty(t, uow.Drain(), "second drain returns nothing new")

	published := uow.Published()
	require.Len(t, published, 2)
	assert.Equal(t, "one", published[0].Name())
	assert.Equal(t, "two", published[1].Name())

	uow.Reset()
	assert.Empty(t, uow.Published())
}
