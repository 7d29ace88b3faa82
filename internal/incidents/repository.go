package incidents

import (
	"context"

	"github.com/opsdeck/incident-commander/internal/domain"
)

// Filters narrows incident listings. Zero values mean "any".
type Filters struct {
	Status   domain.IncidentStatus
	Severity domain.Severity
	Service  string
}

// Repository defines the interface for incident storage. Update persists
// the incident's fields but not its timeline; events are append-only and go
// through AppendEvent.
type Repository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	Get(ctx context.Context, id string) (*domain.Incident, error)
	List(ctx context.Context, filters Filters) ([]*domain.Incident, error)
	ListOpen(ctx context.Context) ([]*domain.Incident, error)
	Update(ctx context.Context, incident *domain.Incident) error
	AppendEvent(ctx context.Context, incidentID string, event *domain.IncidentEvent) error
	AttachPostmortem(ctx context.Context, incidentID string, pm *domain.Postmortem) error
}
