package domain

import "time"

// IncidentEventType represents the type of a timeline event.
type IncidentEventType string

// Timeline event types.
const (
	EventTypeCreated   IncidentEventType = "created"
	EventTypeUpdated   IncidentEventType = "updated"
	EventTypeEscalated IncidentEventType = "escalated"
	EventTypeAssigned  IncidentEventType = "assigned"
	EventTypeResolved  IncidentEventType = "resolved"
	EventTypeComment   IncidentEventType = "comment"
)

// IncidentEvent is a single entry in an incident timeline. Events are
// immutable once appended; the timeline is the audit trail and is never
// reordered or pruned.
type IncidentEvent struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        IncidentEventType `json:"type"`
	Actor       string            `json:"actor"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
