// Package notify formats and dispatches incident notifications across
// delivery channels. Delivery failures are logged and swallowed: a failed
// notification must never block a state transition.
package notify

import (
	"context"

	"github.com/opsdeck/incident-commander/internal/domain"
)

// Kind identifies the incident transition being announced.
type Kind string

// Notification kinds.
const (
	KindCreated    Kind = "created"
	KindUpdated    Kind = "updated"
	KindEscalated  Kind = "escalated"
	KindAssigned   Kind = "assigned"
	KindResolved   Kind = "resolved"
	KindPostmortem Kind = "postmortem"
)

// Notification is a rendered message bound for one channel.
type Notification struct {
	To       []string
	Subject  string
	Body     string
	Metadata map[string]string
}

// Sender delivers notifications over a single channel type.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, notification Notification) error
}
