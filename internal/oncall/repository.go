// Package oncall resolves the current on-call responder and manages
// rotations and their escalation policies.
package oncall

import (
	"context"

	"github.com/opsdeck/incident-commander/internal/domain"
)

// Repository defines the interface for rotation data access.
type Repository interface {
	Create(ctx context.Context, rotation *domain.OnCallRotation) error
	Get(ctx context.Context, id string) (*domain.OnCallRotation, error)
	List(ctx context.Context) ([]*domain.OnCallRotation, error)
	ListActive(ctx context.Context) ([]*domain.OnCallRotation, error)
	Update(ctx context.Context, rotation *domain.OnCallRotation) error
}
