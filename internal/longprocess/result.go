package longprocess

import (
	"context"

	"github.com/AureliaStudio/conveyor/internal/payloads"
)

// AwaitEvent asks the runner to suspend the process until an integration
// event of the named type arrives, optionally matching the criteria map by
// strict equality on the event's fields.
type AwaitEvent struct {
	EventName     string         `json:"eventName"`
	MatchCriteria map[string]any `json:"matchCriteria"`
}

// Await builds an AwaitEvent request.
func Await(eventName string, criteria map[string]any) *AwaitEvent {
	return &AwaitEvent{
		EventName:     eventName,
		MatchCriteria: criteria,
	}
}

// Result is a step's output: the payload handed to the next step, commands to
// dispatch immediately, an optional suspension request and an optional
// checkpoint for the step's compensation.
type Result struct {
	Payload    payloads.Payload
	Commands   []any
	Await      *AwaitEvent
	Checkpoint payloads.Payload
}

// CommandDispatcher fires a step's side-effect commands. They carry their own
// correlation propagation; the runner does not wait for their outcome beyond
// the dispatch call itself.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, command any) error
}
