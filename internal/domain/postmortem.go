package domain

import "time"

// ActionItemStatus represents the progress of a postmortem action item.
type ActionItemStatus string

// Action item statuses.
const (
	ActionItemOpen       ActionItemStatus = "open"
	ActionItemInProgress ActionItemStatus = "in_progress"
	ActionItemDone       ActionItemStatus = "done"
)

// ActionItem is a follow-up task recorded in a postmortem.
type ActionItem struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Owner       string           `json:"owner"`
	Status      ActionItemStatus `json:"status"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	Priority    Priority         `json:"priority"`
}

// Postmortem is a structured retrospective for a severe resolved incident.
// Created only through the postmortem scheduler, never mutated by the
// incident lifecycle manager.
type Postmortem struct {
	ID          string       `json:"id"`
	IncidentID  string       `json:"incident_id"`
	Summary     string       `json:"summary"`
	RootCause   string       `json:"root_cause"`
	Timeline    string       `json:"timeline"`
	Lessons     string       `json:"lessons"`
	ActionItems []ActionItem `json:"action_items"`
	CreatedAt   time.Time    `json:"created_at"`
}
