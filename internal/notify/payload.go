package notify

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/opsdeck/incident-commander/internal/domain"
)

var titleCaser = cases.Title(language.English)

// Extra carries kind-specific context for a notification.
type Extra struct {
	Level         *domain.EscalationLevel // escalations only
	Actor         string
	ChangedFields []string // updates only
	Message       string
}

// renderMessage builds the subject and body for an incident notification.
func renderMessage(kind Kind, incident *domain.Incident, extra Extra) (subject, body string) {
	subject = fmt.Sprintf("[%s] %s incident %s: %s",
		incident.Priority,
		titleCaser.String(string(incident.Severity)),
		verbFor(kind, extra),
		incident.Title,
	)

	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s (%s)\n", incident.ID, incident.Priority)
	fmt.Fprintf(&b, "Status: %s\n", titleCaser.String(string(incident.Status)))
	fmt.Fprintf(&b, "Severity: %s\n", titleCaser.String(string(incident.Severity)))

	if len(incident.AffectedServices) > 0 {
		fmt.Fprintf(&b, "Affected services: %s\n", strings.Join(incident.AffectedServices, ", "))
	}
	if incident.AssignedTo != nil {
		fmt.Fprintf(&b, "Assigned to: %s\n", *incident.AssignedTo)
	}
	if incident.Impact.UsersAffected > 0 {
		fmt.Fprintf(&b, "Users affected: %d\n", incident.Impact.UsersAffected)
	}

	switch kind {
	case KindEscalated:
		if extra.Level != nil {
			fmt.Fprintf(&b, "\nEscalated to level %d", extra.Level.Level)
			if extra.Level.Description != "" {
				fmt.Fprintf(&b, " (%s)", extra.Level.Description)
			}
			b.WriteString("\n")
		}
	case KindUpdated:
		if len(extra.ChangedFields) > 0 {
			fmt.Fprintf(&b, "\nChanged: %s\n", strings.Join(extra.ChangedFields, ", "))
		}
	case KindResolved:
		if incident.ResolvedAt != nil {
			fmt.Fprintf(&b, "\nResolved at %s after %s\n",
				incident.ResolvedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
				incident.ResolvedAt.Sub(incident.CreatedAt).Round(1e9),
			)
		}
	}

	if extra.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", extra.Message)
	}
	if incident.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", incident.Description)
	}

	return subject, strings.TrimSpace(b.String())
}

func verbFor(kind Kind, extra Extra) string {
	switch kind {
	case KindCreated:
		return "opened"
	case KindUpdated:
		return "updated"
	case KindEscalated:
		if extra.Level != nil {
			return fmt.Sprintf("escalated to level %d", extra.Level.Level)
		}
		return "escalated"
	case KindAssigned:
		return "assigned"
	case KindResolved:
		return "resolved"
	case KindPostmortem:
		return "awaiting postmortem"
	default:
		return string(kind)
	}
}
