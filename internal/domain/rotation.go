package domain

import "time"

// ChannelType represents a notification delivery channel.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail ChannelType = "email"
	ChannelTypeSMS   ChannelType = "sms"
	ChannelTypeSlack ChannelType = "slack"
	ChannelTypeCall  ChannelType = "call"
)

// IsValid checks if the channel type is known.
func (t ChannelType) IsValid() bool {
	return t == ChannelTypeEmail || t == ChannelTypeSMS || t == ChannelTypeSlack || t == ChannelTypeCall
}

// OnCallSchedule is one shift within a rotation. Shifts are not required to
// be disjoint; when shifts overlap, the first matching entry in list order
// wins.
type OnCallSchedule struct {
	ResponderID        string    `json:"responder_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Timezone           string    `json:"timezone"`
	BackupResponderIDs []string  `json:"backup_responder_ids"`
}

// Covers reports whether the shift contains the given instant. Boundaries
// are inclusive.
func (s OnCallSchedule) Covers(t time.Time) bool {
	return !t.Before(s.StartTime) && !t.After(s.EndTime)
}

// EscalationLevel is one step of an ordered notification chain, fired after
// its own delay if the prior level did not resolve the incident. Level
// values need not be contiguous but must be strictly increasing when sorted.
type EscalationLevel struct {
	Level       int           `json:"level"`
	Delay       time.Duration `json:"delay"`
	Recipients  []string      `json:"recipients"`
	Channels    []ChannelType `json:"channels"`
	Description string        `json:"description"`
}

// OnCallRotation is a named schedule of responders plus the escalation
// policy used when an incident is not acknowledged. Rotations are selected
// by routing key; a rotation with no routing keys serves as the default for
// unmatched keys.
type OnCallRotation struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name"`
	RoutingKeys      []string                 `json:"routing_keys"`
	Schedule         []OnCallSchedule         `json:"schedule"`
	EscalationPolicy []EscalationLevel        `json:"escalation_policy"`
	ContactMethods   map[ChannelType][]string `json:"contact_methods"`
	Active           bool                     `json:"active"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Matches reports whether the rotation serves the given routing key.
func (r *OnCallRotation) Matches(routingKey string) bool {
	for _, k := range r.RoutingKeys {
		if k == routingKey {
			return true
		}
	}
	return false
}
