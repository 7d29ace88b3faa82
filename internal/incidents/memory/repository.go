// Package memory provides an in-memory incident repository for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/incidents"
)

// Repository is an in-memory implementation of incidents.Repository.
type Repository struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Incident
	order []string // insertion order for stable listings
}

// NewRepository creates a new in-memory incident repository.
func NewRepository() *Repository {
	return &Repository{byID: make(map[string]*domain.Incident)}
}

// Create stores a new incident.
func (r *Repository) Create(_ context.Context, incident *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[incident.ID] = cloneIncident(incident)
	r.order = append(r.order, incident.ID)
	return nil
}

// Get retrieves an incident by ID.
func (r *Repository) Get(_ context.Context, id string) (*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	incident, ok := r.byID[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	return cloneIncident(incident), nil
}

// List retrieves incidents matching the filters in insertion order.
func (r *Repository) List(_ context.Context, filters incidents.Filters) ([]*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Incident, 0, len(r.order))
	for _, id := range r.order {
		incident := r.byID[id]
		if !matches(incident, filters) {
			continue
		}
		out = append(out, cloneIncident(incident))
	}
	return out, nil
}

// ListOpen retrieves all non-resolved incidents in insertion order.
func (r *Repository) ListOpen(_ context.Context) ([]*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Incident
	for _, id := range r.order {
		incident := r.byID[id]
		if incident.Status.IsTerminal() {
			continue
		}
		out = append(out, cloneIncident(incident))
	}
	return out, nil
}

// Update persists the incident's fields. The stored timeline is kept as is;
// events only arrive through AppendEvent.
func (r *Repository) Update(_ context.Context, incident *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[incident.ID]
	if !ok {
		return incidents.ErrIncidentNotFound
	}

	updated := cloneIncident(incident)
	updated.Timeline = stored.Timeline
	updated.Postmortem = stored.Postmortem
	r.byID[incident.ID] = updated
	return nil
}

// AppendEvent appends a timeline event to an incident.
func (r *Repository) AppendEvent(_ context.Context, incidentID string, event *domain.IncidentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[incidentID]
	if !ok {
		return incidents.ErrIncidentNotFound
	}
	stored.Timeline = append(stored.Timeline, *cloneEvent(event))
	return nil
}

// AttachPostmortem attaches a postmortem shell to an incident.
func (r *Repository) AttachPostmortem(_ context.Context, incidentID string, pm *domain.Postmortem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[incidentID]
	if !ok {
		return incidents.ErrIncidentNotFound
	}
	clone := *pm
	stored.Postmortem = &clone
	return nil
}

func matches(incident *domain.Incident, filters incidents.Filters) bool {
	if filters.Status != "" && incident.Status != filters.Status {
		return false
	}
	if filters.Severity != "" && incident.Severity != filters.Severity {
		return false
	}
	if filters.Service != "" {
		found := false
		for _, svc := range incident.AffectedServices {
			if svc == filters.Service {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cloneIncident(incident *domain.Incident) *domain.Incident {
	out := *incident
	out.AffectedServices = append([]string(nil), incident.AffectedServices...)
	out.Timeline = make([]domain.IncidentEvent, len(incident.Timeline))
	for i := range incident.Timeline {
		out.Timeline[i] = *cloneEvent(&incident.Timeline[i])
	}
	if incident.AssignedTo != nil {
		assignee := *incident.AssignedTo
		out.AssignedTo = &assignee
	}
	if incident.ResolvedAt != nil {
		resolvedAt := *incident.ResolvedAt
		out.ResolvedAt = &resolvedAt
	}
	if incident.Postmortem != nil {
		pm := *incident.Postmortem
		out.Postmortem = &pm
	}
	return &out
}

func cloneEvent(event *domain.IncidentEvent) *domain.IncidentEvent {
	out := *event
	if event.Metadata != nil {
		out.Metadata = make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
