// Package memory provides an in-memory implementation of the oncall
// repository, used by tests and the zero-dependency storage backend.
package memory

import (
	"context"
	"sync"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/oncall"
)

// Repository implements oncall.Repository with mutex-guarded maps.
// Insertion order is preserved so that "first active rotation" selection
// stays deterministic.
type Repository struct {
	mu        sync.RWMutex
	rotations map[string]*domain.OnCallRotation
	order     []string
}

// NewRepository creates a new in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		rotations: make(map[string]*domain.OnCallRotation),
	}
}

// Create stores a new rotation.
func (r *Repository) Create(_ context.Context, rotation *domain.OnCallRotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rotations[rotation.ID]; !exists {
		r.order = append(r.order, rotation.ID)
	}
	r.rotations[rotation.ID] = cloneRotation(rotation)
	return nil
}

// Get retrieves a rotation by ID.
func (r *Repository) Get(_ context.Context, id string) (*domain.OnCallRotation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rotation, ok := r.rotations[id]
	if !ok {
		return nil, oncall.ErrRotationNotFound
	}
	return cloneRotation(rotation), nil
}

// List retrieves all rotations in insertion order.
func (r *Repository) List(_ context.Context) ([]*domain.OnCallRotation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.OnCallRotation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneRotation(r.rotations[id]))
	}
	return out, nil
}

// ListActive retrieves active rotations in insertion order.
func (r *Repository) ListActive(_ context.Context) ([]*domain.OnCallRotation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.OnCallRotation
	for _, id := range r.order {
		if rotation := r.rotations[id]; rotation.Active {
			out = append(out, cloneRotation(rotation))
		}
	}
	return out, nil
}

// Update replaces an existing rotation.
func (r *Repository) Update(_ context.Context, rotation *domain.OnCallRotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rotations[rotation.ID]; !ok {
		return oncall.ErrRotationNotFound
	}
	r.rotations[rotation.ID] = cloneRotation(rotation)
	return nil
}

// cloneRotation copies a rotation so callers cannot mutate stored state.
func cloneRotation(in *domain.OnCallRotation) *domain.OnCallRotation {
	out := *in
	out.RoutingKeys = append([]string(nil), in.RoutingKeys...)
	out.Schedule = append([]domain.OnCallSchedule(nil), in.Schedule...)
	out.EscalationPolicy = append([]domain.EscalationLevel(nil), in.EscalationPolicy...)
	if in.ContactMethods != nil {
		out.ContactMethods = make(map[domain.ChannelType][]string, len(in.ContactMethods))
		for ch, targets := range in.ContactMethods {
			out.ContactMethods[ch] = append([]string(nil), targets...)
		}
	}
	return &out
}
