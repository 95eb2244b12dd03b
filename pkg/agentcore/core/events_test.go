package core

import "testing"

func TestEventIsTerminal(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want bool
	}{
		{"token is never terminal", Event{Type: EventToken}, false},
		{"heartbeat is never terminal", Event{Type: EventHeartbeat}, false},
		{"workflow_complete with completed status", Event{Type: EventWorkflowComplete, Data: JSONMap{"status": "completed"}}, true},
		{"workflow_complete with awaiting_approval status", Event{Type: EventWorkflowComplete, Data: JSONMap{"status": "awaiting_approval"}}, true},
		{"workflow_complete with stopped status", Event{Type: EventWorkflowComplete, Data: JSONMap{"status": "stopped"}}, true},
		{"workflow_error with error status", Event{Type: EventWorkflowError, Data: JSONMap{"status": "error"}}, true},
		{"workflow_complete missing status", Event{Type: EventWorkflowComplete}, false},
		{"workflow_complete unknown status", Event{Type: EventWorkflowComplete, Data: JSONMap{"status": "bogus"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.IsTerminal(); got != tc.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestToolSegmentStatusTerminal(t *testing.T) {
	terminal := []ToolSegmentStatus{ToolStatusDenied, ToolStatusCompleted, ToolStatusError}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	nonTerminal := []ToolSegmentStatus{ToolStatusPending, ToolStatusAwaitingApproval, ToolStatusApproved, ToolStatusExecuting}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
