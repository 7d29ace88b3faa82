package oncall

import "errors"

// Service errors.
var (
	ErrRotationNotFound = errors.New("rotation not found")
	ErrNoActiveRotation = errors.New("no active rotation")
	ErrNoOnCall         = errors.New("no on-call responder scheduled")
	ErrInvalidPolicy    = errors.New("invalid escalation policy")
	ErrInvalidSchedule  = errors.New("invalid schedule")
)
