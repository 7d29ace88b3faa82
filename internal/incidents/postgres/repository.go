// Package postgres provides the PostgreSQL implementation of the incident
// repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/incidents"
)

// Repository implements incidents.Repository using PostgreSQL. Timeline
// events live in their own table ordered by an insertion sequence, so the
// audit trail is append-only at the storage level too.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `
	id, title, description, severity, priority, status,
	affected_services, impact_users, impact_revenue, impact_desc,
	assigned_to, routing_key, escalation_level, created_by,
	created_at, updated_at, resolved_at
`

// Create stores a new incident and its initial timeline events in one
// transaction.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = tx.Exec(ctx, query,
		incident.ID,
		incident.Title,
		incident.Description,
		incident.Severity,
		incident.Priority,
		incident.Status,
		incident.AffectedServices,
		incident.Impact.UsersAffected,
		incident.Impact.RevenueAtRisk,
		incident.Impact.Description,
		incident.AssignedTo,
		incident.RoutingKey,
		incident.EscalationLevel,
		incident.CreatedBy,
		incident.CreatedAt,
		incident.UpdatedAt,
		incident.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}

	for i := range incident.Timeline {
		if err := insertEvent(ctx, tx, incident.ID, &incident.Timeline[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get retrieves an incident with its timeline and postmortem.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}

	if incident.Timeline, err = r.loadEvents(ctx, id); err != nil {
		return nil, err
	}
	if incident.Postmortem, err = r.loadPostmortem(ctx, id); err != nil {
		return nil, err
	}
	return incident, nil
}

// List retrieves incidents matching the filters ordered by creation time.
// Listings carry no timeline; callers fetch it via Get.
func (r *Repository) List(ctx context.Context, filters incidents.Filters) ([]*domain.Incident, error) {
	var conditions []string
	var args []any

	if filters.Status != "" {
		args = append(args, filters.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.Severity != "" {
		args = append(args, filters.Severity)
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filters.Service != "" {
		args = append(args, filters.Service)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(affected_services)", len(args)))
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at"

	return r.list(ctx, query, args...)
}

// ListOpen retrieves all non-resolved incidents ordered by creation time.
func (r *Repository) ListOpen(ctx context.Context) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE status <> $1 ORDER BY created_at`
	return r.list(ctx, query, domain.IncidentStatusResolved)
}

// Update persists the incident's fields. Timeline events are append-only
// and go through AppendEvent.
func (r *Repository) Update(ctx context.Context, incident *domain.Incident) error {
	query := `
		UPDATE incidents
		SET title = $2, description = $3, severity = $4, priority = $5,
		    status = $6, affected_services = $7, impact_users = $8,
		    impact_revenue = $9, impact_desc = $10, assigned_to = $11,
		    routing_key = $12, escalation_level = $13, updated_at = $14,
		    resolved_at = $15
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		incident.ID,
		incident.Title,
		incident.Description,
		incident.Severity,
		incident.Priority,
		incident.Status,
		incident.AffectedServices,
		incident.Impact.UsersAffected,
		incident.Impact.RevenueAtRisk,
		incident.Impact.Description,
		incident.AssignedTo,
		incident.RoutingKey,
		incident.EscalationLevel,
		incident.UpdatedAt,
		incident.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// AppendEvent appends a timeline event to an incident.
func (r *Repository) AppendEvent(ctx context.Context, incidentID string, event *domain.IncidentEvent) error {
	return insertEvent(ctx, r.db, incidentID, event)
}

// AttachPostmortem attaches a postmortem shell to an incident. The unique
// constraint on incident_id keeps it one postmortem per incident.
func (r *Repository) AttachPostmortem(ctx context.Context, incidentID string, pm *domain.Postmortem) error {
	actionItems, err := json.Marshal(pm.ActionItems)
	if err != nil {
		return fmt.Errorf("marshal action items: %w", err)
	}

	query := `
		INSERT INTO postmortems (
			id, incident_id, summary, root_cause, timeline, lessons,
			action_items, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Exec(ctx, query,
		pm.ID,
		incidentID,
		pm.Summary,
		pm.RootCause,
		pm.Timeline,
		pm.Lessons,
		actionItems,
		pm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("attach postmortem: %w", err)
	}
	return nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting event
// inserts share code between Create's transaction and AppendEvent.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, db execer, incidentID string, event *domain.IncidentEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO incident_events (id, incident_id, ts, type, actor, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = db.Exec(ctx, query,
		event.ID,
		incidentID,
		event.Timestamp,
		event.Type,
		event.Actor,
		event.Description,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*domain.Incident, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

func (r *Repository) loadEvents(ctx context.Context, incidentID string) ([]domain.IncidentEvent, error) {
	query := `
		SELECT id, ts, type, actor, description, metadata
		FROM incident_events
		WHERE incident_id = $1
		ORDER BY seq
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []domain.IncidentEvent
	for rows.Next() {
		var event domain.IncidentEvent
		var metadata []byte
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Type, &event.Actor, &event.Description, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (r *Repository) loadPostmortem(ctx context.Context, incidentID string) (*domain.Postmortem, error) {
	query := `
		SELECT id, incident_id, summary, root_cause, timeline, lessons,
		       action_items, created_at
		FROM postmortems
		WHERE incident_id = $1
	`
	var pm domain.Postmortem
	var actionItems []byte
	err := r.db.QueryRow(ctx, query, incidentID).Scan(
		&pm.ID,
		&pm.IncidentID,
		&pm.Summary,
		&pm.RootCause,
		&pm.Timeline,
		&pm.Lessons,
		&actionItems,
		&pm.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load postmortem: %w", err)
	}
	if err := json.Unmarshal(actionItems, &pm.ActionItems); err != nil {
		return nil, fmt.Errorf("unmarshal action items: %w", err)
	}
	return &pm, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.Title,
		&incident.Description,
		&incident.Severity,
		&incident.Priority,
		&incident.Status,
		&incident.AffectedServices,
		&incident.Impact.UsersAffected,
		&incident.Impact.RevenueAtRisk,
		&incident.Impact.Description,
		&incident.AssignedTo,
		&incident.RoutingKey,
		&incident.EscalationLevel,
		&incident.CreatedBy,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}
