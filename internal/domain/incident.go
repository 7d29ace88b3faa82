package domain

import "time"

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusIdentified    IncidentStatus = "identified"
	IncidentStatusMonitoring    IncidentStatus = "monitoring"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// IsValid checks if the status is a known incident status.
func (s IncidentStatus) IsValid() bool {
	return s == IncidentStatusInvestigating ||
		s == IncidentStatusIdentified ||
		s == IncidentStatusMonitoring ||
		s == IncidentStatusResolved
}

// IsTerminal reports whether the status is terminal. There is no modeled
// path back from resolved; reopening is not supported.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved
}

// Severity represents the severity level of an incident.
// Immutable by policy: changing severity is a modeled update with its own
// timeline entry, never a silent field mutation.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a known level.
func (s Severity) IsValid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh || s == SeverityCritical
}

// RequiresPostmortem reports whether a resolved incident of this severity
// gets a deferred postmortem.
func (s Severity) RequiresPostmortem() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Priority represents the operational priority of an incident.
// Never set independently; always derived from severity.
type Priority string

// Priorities.
const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// PriorityForSeverity derives priority from severity.
func PriorityForSeverity(s Severity) Priority {
	switch s {
	case SeverityCritical:
		return PriorityP1
	case SeverityHigh:
		return PriorityP2
	case SeverityMedium:
		return PriorityP3
	default:
		return PriorityP4
	}
}

// Impact describes the measured blast radius of an incident. Starts as a
// placeholder at creation and is refined by updates.
type Impact struct {
	UsersAffected int     `json:"users_affected"`
	RevenueAtRisk float64 `json:"revenue_at_risk"`
	Description   string  `json:"description"`
}

// Incident is a tracked operational disruption with severity, status and an
// append-only audit timeline.
type Incident struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Severity         Severity        `json:"severity"`
	Priority         Priority        `json:"priority"`
	Status           IncidentStatus  `json:"status"`
	AffectedServices []string        `json:"affected_services"`
	Impact           Impact          `json:"impact"`
	Timeline         []IncidentEvent `json:"timeline"`
	AssignedTo       *string         `json:"assigned_to"`
	RoutingKey       string          `json:"routing_key"`
	EscalationLevel  int             `json:"escalation_level"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ResolvedAt       *time.Time      `json:"resolved_at"`
	Postmortem       *Postmortem     `json:"postmortem,omitempty"`
}
