package incidents

import "errors"

var (
	// ErrIncidentNotFound is returned when an incident does not exist.
	ErrIncidentNotFound = errors.New("incident not found")
	// ErrIncidentResolved is returned when an operation targets a resolved
	// incident. Resolved is terminal; follow-up work is a new incident.
	ErrIncidentResolved = errors.New("incident already resolved")
	// ErrInvalidTransition is returned for status values outside the
	// lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)
