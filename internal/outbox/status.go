package outbox

// OutboxStatus is the lifecycle state of an outbox entry.
type OutboxStatus string

const (
	StatusPending    OutboxStatus = "PENDING"
	StatusProcessing OutboxStatus = "PROCESSING"
	StatusCompleted  OutboxStatus = "COMPLETED"
	StatusFailed     OutboxStatus = "FAILED"
	StatusDLQ        OutboxStatus = "DLQ"
	StatusCancelled  OutboxStatus = "CANCELLED"
)

// ValidOutboxTransitions is the allowed state machine. Terminal states map to
// an empty set and never transition back.
var ValidOutboxTransitions = map[OutboxStatus][]OutboxStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusPending, StatusFailed, StatusDLQ},
	StatusFailed:     {StatusPending, StatusProcessing, StatusDLQ},
	StatusCompleted:  {},
	StatusDLQ:        {},
	StatusCancelled:  {},
}

// CanTransitionTo reports whether moving from s to target is allowed.
func (s OutboxStatus) CanTransitionTo(target OutboxStatus) bool {
	for _, allowed := range ValidOutboxTransitions[s] {
		if allowed == target {
			return true
		}
	}

	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s OutboxStatus) IsTerminal() bool {
	return len(ValidOutboxTransitions[s]) == 0
}

// Transport selects the downstream a claimed entry is handed to.
type Transport string

const (
	TransportInProcess Transport = "IN_PROCESS"
	TransportExternal  Transport = "EXTERNAL"
)
