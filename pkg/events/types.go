// Package events provides the in-process event bus the orchestrator core
// publishes to and that notifiers, the SSE publisher, and the log sink
// consume from.
//
// Delivery contract:
//   - at-most-once: a slow subscriber's buffer overflowing drops events
//     rather than stalling the emitter
//   - ordering is preserved per emitter; across emitters it is unspecified
//   - a panicking subscriber never blocks the emitter and never prevents
//     delivery to other subscribers
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies an orchestrator event kind.
type Type string

// Event taxonomy emitted by the core.
const (
	TypeSessionSpawned      Type = "session.spawned"
	TypeSessionMessageSent  Type = "session.message_sent"
	TypeSessionKilled       Type = "session.killed"
	TypeSessionExited       Type = "session.exited"
	TypeSessionRateLimited  Type = "session.rate_limited"
	TypeSessionCycle        Type = "session.cycle_detected"
	TypePhaseTransitioned   Type = "phase.transitioned"
	TypeReviewRequested     Type = "review.requested"
	TypeReviewCompleted     Type = "review.completed"
	TypePROpened            Type = "pr.opened"
	TypePRCIFailed          Type = "pr.ci_failed"
	TypePRChangesRequested  Type = "pr.changes_requested"
	TypePRMergeable         Type = "pr.mergeable"
	TypePRMerged            Type = "pr.merged"
	TypeEscalationRequired  Type = "escalation.required"
)

// Priority ranks an event for reaction and notification routing.
type Priority string

// Event priorities, highest first.
const (
	PriorityUrgent  Priority = "urgent"
	PriorityAction  Priority = "action"
	PriorityWarning Priority = "warning"
	PriorityInfo    Priority = "info"
)

// Event is the unit published on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Priority  Priority       `json:"priority"`
	ProjectID string         `json:"project_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// New constructs an Event with a fresh ID and the current timestamp.
func New(t Type, priority Priority, projectID, sessionID, message string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Priority:  priority,
		ProjectID: projectID,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Message:   message,
	}
}

// WithData attaches a data payload and returns the event for chaining.
func (e Event) WithData(data map[string]any) Event {
	e.Data = data
	return e
}
