package core

// EventType is the SSE event name published on a run's channel. The
// orchestrator publishes these as it drives the iteration loop;
// the streaming transport relays them to the HTTP caller verbatim.
type EventType string

const (
	EventReady                EventType = "ready"
	EventToken                EventType = "token" // one streamed LLM token; data.delta (spec §6)
	EventGenerationComplete   EventType = "generation.complete"
	EventToolsPending         EventType = "tools.pending"
	EventToolExecuting        EventType = "tool.executing"
	EventToolAwaitingApproval EventType = "tool.awaiting_approval"
	EventToolApproved         EventType = "tool.approved"
	EventToolDenied           EventType = "tool.denied"
	EventToolResult           EventType = "tool.result"
	EventToolError            EventType = "tool.error"
	EventWorkflowComplete     EventType = "workflow_complete"
	EventWorkflowError        EventType = "workflow_error"
	EventHeartbeat            EventType = "heartbeat"
)

// Event is the payload published to the event bus under a run's
// channel. Data carries the event-specific JSON body; the transport
// layer writes Type and Data as a standard "event:"/"data:" SSE frame.
type Event struct {
	Type EventType `json:"type"`
	Data JSONMap   `json:"data"`
}

// IsTerminal reports whether an event's status field (when present)
// names a RunStatus that ends the run. The streaming writer uses this
// to know when to stop reading from the subscription and close the
// response.
func (e Event) IsTerminal() bool {
	if e.Type != EventWorkflowComplete && e.Type != EventWorkflowError {
		return false
	}
	status, _ := e.Data["status"].(string)
	switch RunStatus(status) {
	case RunStatusCompleted, RunStatusError, RunStatusAwaitingApproval, RunStatusStopped:
		return true
	default:
		return false
	}
}
