package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/oncall"
	"github.com/opsdeck/incident-commander/internal/pkg/ctxlog"
)

// RotationSource resolves the rotation whose contact methods receive
// non-escalation notifications.
type RotationSource interface {
	ActiveRotation(ctx context.Context, routingKey string) (*domain.OnCallRotation, error)
}

// Notifier is the single notification entry point for the incident
// lifecycle. It formats a message for the transition and forwards it to the
// dispatcher with incident metadata attached.
type Notifier struct {
	dispatcher *Dispatcher
	rotations  RotationSource
}

// NewNotifier creates a new notifier.
func NewNotifier(dispatcher *Dispatcher, rotations RotationSource) *Notifier {
	return &Notifier{dispatcher: dispatcher, rotations: rotations}
}

// Notify announces an incident transition. It never returns an error:
// delivery failures are logged and counted, and must not block the state
// transition that triggered them.
func (n *Notifier) Notify(ctx context.Context, kind Kind, incident *domain.Incident, extra Extra) {
	logger := ctxlog.FromContext(ctx)

	if n.dispatcher == nil {
		logger.Debug("notifications disabled, skipping", "incident_id", incident.ID, "kind", kind)
		return
	}

	subject, body := renderMessage(kind, incident, extra)
	metadata := map[string]string{
		"incident_id": incident.ID,
		"severity":    string(incident.Severity),
		"services":    strings.Join(incident.AffectedServices, ","),
		"kind":        string(kind),
	}

	for channel, recipients := range n.targets(ctx, kind, incident, extra) {
		if len(recipients) == 0 {
			continue
		}

		notification := Notification{
			To:       recipients,
			Subject:  subject,
			Body:     body,
			Metadata: metadata,
		}

		if err := n.dispatcher.Send(ctx, channel, notification); err != nil {
			logger.Error("notification delivery failed",
				"incident_id", incident.ID,
				"kind", kind,
				"channel", channel,
				"error", err,
			)
		}
	}
}

// targets resolves recipients per channel. Escalations use the fired
// level's own recipients and channels; every other kind goes to the contact
// methods of the rotation serving the incident's routing key.
func (n *Notifier) targets(ctx context.Context, kind Kind, incident *domain.Incident, extra Extra) map[domain.ChannelType][]string {
	if kind == KindEscalated && extra.Level != nil {
		out := make(map[domain.ChannelType][]string, len(extra.Level.Channels))
		for _, channel := range extra.Level.Channels {
			out[channel] = extra.Level.Recipients
		}
		return out
	}

	rotation, err := n.rotations.ActiveRotation(ctx, incident.RoutingKey)
	if err != nil {
		if !errors.Is(err, oncall.ErrNoActiveRotation) {
			ctxlog.FromContext(ctx).Error("failed to resolve rotation for notification",
				"incident_id", incident.ID,
				"error", err,
			)
		}
		return nil
	}

	return rotation.ContactMethods
}
