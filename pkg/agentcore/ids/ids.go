// Package ids generates the identifiers the orchestrator hands out:
// conversation, message, segment, and run IDs are all uuid v4 strings.
package ids

import "github.com/google/uuid"

func New() string {
	return uuid.NewString()
}

// RunChannel returns the event-bus channel name a run's events are
// published under.
func RunChannel(runID string) string {
	return "run:" + runID
}
