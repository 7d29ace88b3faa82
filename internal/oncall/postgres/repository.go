// Package postgres provides the PostgreSQL implementation of the oncall
// repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/oncall"
)

// Repository implements oncall.Repository using PostgreSQL. Schedule,
// escalation policy and contact methods are stored as JSONB documents; the
// engine never queries inside them.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create stores a new rotation.
func (r *Repository) Create(ctx context.Context, rotation *domain.OnCallRotation) error {
	schedule, policy, contacts, err := marshalDocs(rotation)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rotations (
			id, name, routing_keys, schedule, escalation_policy,
			contact_methods, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Exec(ctx, query,
		rotation.ID,
		rotation.Name,
		rotation.RoutingKeys,
		schedule,
		policy,
		contacts,
		rotation.Active,
		rotation.CreatedAt,
		rotation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create rotation: %w", err)
	}
	return nil
}

// Get retrieves a rotation by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.OnCallRotation, error) {
	query := `
		SELECT id, name, routing_keys, schedule, escalation_policy,
		       contact_methods, active, created_at, updated_at
		FROM rotations
		WHERE id = $1
	`
	rotation, err := scanRotation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oncall.ErrRotationNotFound
		}
		return nil, fmt.Errorf("get rotation: %w", err)
	}
	return rotation, nil
}

// List retrieves all rotations ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]*domain.OnCallRotation, error) {
	return r.list(ctx, `
		SELECT id, name, routing_keys, schedule, escalation_policy,
		       contact_methods, active, created_at, updated_at
		FROM rotations
		ORDER BY created_at
	`)
}

// ListActive retrieves active rotations ordered by creation time.
func (r *Repository) ListActive(ctx context.Context) ([]*domain.OnCallRotation, error) {
	return r.list(ctx, `
		SELECT id, name, routing_keys, schedule, escalation_policy,
		       contact_methods, active, created_at, updated_at
		FROM rotations
		WHERE active
		ORDER BY created_at
	`)
}

// Update replaces an existing rotation.
func (r *Repository) Update(ctx context.Context, rotation *domain.OnCallRotation) error {
	schedule, policy, contacts, err := marshalDocs(rotation)
	if err != nil {
		return err
	}

	query := `
		UPDATE rotations
		SET name = $2, routing_keys = $3, schedule = $4,
		    escalation_policy = $5, contact_methods = $6, active = $7,
		    updated_at = $8
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		rotation.ID,
		rotation.Name,
		rotation.RoutingKeys,
		schedule,
		policy,
		contacts,
		rotation.Active,
		rotation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update rotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return oncall.ErrRotationNotFound
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string) ([]*domain.OnCallRotation, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rotations: %w", err)
	}
	defer rows.Close()

	var out []*domain.OnCallRotation
	for rows.Next() {
		rotation, err := scanRotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rotation: %w", err)
		}
		out = append(out, rotation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rotations: %w", err)
	}
	return out, nil
}

func marshalDocs(rotation *domain.OnCallRotation) (schedule, policy, contacts []byte, err error) {
	if schedule, err = json.Marshal(rotation.Schedule); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal schedule: %w", err)
	}
	if policy, err = json.Marshal(rotation.EscalationPolicy); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal escalation policy: %w", err)
	}
	if contacts, err = json.Marshal(rotation.ContactMethods); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal contact methods: %w", err)
	}
	return schedule, policy, contacts, nil
}

func scanRotation(row pgx.Row) (*domain.OnCallRotation, error) {
	var rotation domain.OnCallRotation
	var schedule, policy, contacts []byte

	err := row.Scan(
		&rotation.ID,
		&rotation.Name,
		&rotation.RoutingKeys,
		&schedule,
		&policy,
		&contacts,
		&rotation.Active,
		&rotation.CreatedAt,
		&rotation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(schedule, &rotation.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal(policy, &rotation.EscalationPolicy); err != nil {
		return nil, fmt.Errorf("unmarshal escalation policy: %w", err)
	}
	if err := json.Unmarshal(contacts, &rotation.ContactMethods); err != nil {
		return nil, fmt.Errorf("unmarshal contact methods: %w", err)
	}

	return &rotation, nil
}
