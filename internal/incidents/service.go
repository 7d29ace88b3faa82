// Package incidents implements the incident lifecycle: creation,
// updates, escalation, resolution and the audit timeline.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/notify"
	"github.com/opsdeck/incident-commander/internal/oncall"
	"github.com/opsdeck/incident-commander/internal/pkg/ctxlog"
)

// OnCallResolver resolves who is on call and which escalation policy
// applies for a routing key.
type OnCallResolver interface {
	CurrentOnCall(ctx context.Context, routingKey string) (*oncall.Assignment, error)
	ActivePolicy(ctx context.Context, routingKey string) ([]domain.EscalationLevel, error)
}

// EscalationScheduler arms and cancels escalation timer chains.
type EscalationScheduler interface {
	Start(incident *domain.Incident) error
	Cancel(incidentID string)
}

// PostmortemScheduler defers postmortem shell creation for severe
// incidents.
type PostmortemScheduler interface {
	Schedule(incident *domain.Incident)
}

// Notifier announces incident transitions. Implementations never fail the
// transition.
type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, incident *domain.Incident, extra notify.Extra)
}

// Service implements the incident lifecycle manager.
type Service struct {
	repo        Repository
	oncall      OnCallResolver
	escalations EscalationScheduler
	postmortems PostmortemScheduler
	notifier    Notifier
	clock       clockwork.Clock

	// Serializes read-modify-write sequences; the scheduler callback and
	// API handlers mutate the same incidents concurrently.
	mu sync.Mutex
}

// NewService creates a new incident service.
func NewService(
	repo Repository,
	onCall OnCallResolver,
	escalations EscalationScheduler,
	postmortems PostmortemScheduler,
	notifier Notifier,
	clock clockwork.Clock,
) *Service {
	return &Service{
		repo:        repo,
		oncall:      onCall,
		escalations: escalations,
		postmortems: postmortems,
		notifier:    notifier,
		clock:       clock,
	}
}

// CreateIncidentInput holds data for declaring an incident.
type CreateIncidentInput struct {
	Title            string
	Description      string
	Severity         domain.Severity
	AffectedServices []string
	Impact           domain.Impact
	RoutingKey       string
	CreatedBy        string
}

// CreateIncident declares a new incident. The incident opens in
// investigating status with its priority derived from severity, is
// auto-assigned to the current on-call responder when one exists, and has
// its escalation chain armed. On-call and escalation failures degrade the
// incident but never abort creation.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (*domain.Incident, error) {
	logger := ctxlog.FromContext(ctx)

	if !input.Severity.IsValid() {
		return nil, fmt.Errorf("unknown severity %q", input.Severity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	routingKey := input.RoutingKey
	if routingKey == "" && len(input.AffectedServices) > 0 {
		routingKey = input.AffectedServices[0]
	}

	incident := &domain.Incident{
		ID:               newIncidentID(now),
		Title:            input.Title,
		Description:      input.Description,
		Severity:         input.Severity,
		Priority:         domain.PriorityForSeverity(input.Severity),
		Status:           domain.IncidentStatusInvestigating,
		AffectedServices: input.AffectedServices,
		Impact:           input.Impact,
		RoutingKey:       routingKey,
		CreatedBy:        input.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	incident.Timeline = append(incident.Timeline, domain.IncidentEvent{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Type:        domain.EventTypeCreated,
		Actor:       input.CreatedBy,
		Description: fmt.Sprintf("Incident declared with severity %s", input.Severity),
		Metadata:    map[string]string{"severity": string(input.Severity)},
	})

	if assignment, err := s.oncall.CurrentOnCall(ctx, routingKey); err == nil {
		incident.AssignedTo = &assignment.ResponderID
		incident.Timeline = append(incident.Timeline, domain.IncidentEvent{
			ID:          uuid.New().String(),
			Timestamp:   now,
			Type:        domain.EventTypeAssigned,
			Actor:       "system",
			Description: fmt.Sprintf("Auto-assigned to on-call responder %s", assignment.ResponderID),
			Metadata:    map[string]string{"rotation_id": assignment.RotationID},
		})
	} else if errors.Is(err, oncall.ErrNoOnCall) {
		logger.Debug("no on-call responder, incident unassigned", "incident_id", incident.ID)
	} else {
		logger.Warn("on-call resolution failed, incident unassigned",
			"incident_id", incident.ID,
			"error", err,
		)
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	if err := s.escalations.Start(incident); err != nil {
		logger.Warn("incident created without escalation chain",
			"incident_id", incident.ID,
			"error", err,
		)
	}

	incidentsCreated.WithLabelValues(string(incident.Severity)).Inc()
	logger.Info("incident created",
		"incident_id", incident.ID,
		"severity", incident.Severity,
		"priority", incident.Priority,
		"routing_key", routingKey,
	)

	s.dispatch(ctx, notify.KindCreated, incident, notify.Extra{Actor: input.CreatedBy})
	return incident, nil
}

// UpdateIncidentInput holds optional fields for updating an incident. Nil
// fields are left unchanged.
type UpdateIncidentInput struct {
	Title            *string
	Description      *string
	Severity         *domain.Severity
	Status           *domain.IncidentStatus
	AffectedServices *[]string
	Impact           *domain.Impact
	UpdatedBy        string
}

// UpdateIncident merges the provided fields into an incident and records
// an updated event naming the changed fields. Setting status to resolved
// routes through the resolution path. Updating a resolved incident returns
// ErrIncidentResolved.
func (s *Service) UpdateIncident(ctx context.Context, id string, input UpdateIncidentInput) (*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status.IsTerminal() {
		return nil, ErrIncidentResolved
	}

	var changed []string
	if input.Title != nil && *input.Title != incident.Title {
		incident.Title = *input.Title
		changed = append(changed, "title")
	}
	if input.Description != nil && *input.Description != incident.Description {
		incident.Description = *input.Description
		changed = append(changed, "description")
	}
	if input.Severity != nil && *input.Severity != incident.Severity {
		if !input.Severity.IsValid() {
			return nil, fmt.Errorf("unknown severity %q", *input.Severity)
		}
		incident.Severity = *input.Severity
		incident.Priority = domain.PriorityForSeverity(*input.Severity)
		changed = append(changed, "severity")
	}
	if input.AffectedServices != nil {
		incident.AffectedServices = *input.AffectedServices
		changed = append(changed, "affected_services")
	}
	if input.Impact != nil {
		incident.Impact = *input.Impact
		changed = append(changed, "impact")
	}

	resolving := false
	if input.Status != nil && *input.Status != incident.Status {
		if !input.Status.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTransition, *input.Status)
		}
		if *input.Status == domain.IncidentStatusResolved {
			resolving = true
		} else {
			incident.Status = *input.Status
			changed = append(changed, "status")
		}
	}

	if len(changed) > 0 {
		now := s.clock.Now().UTC()
		incident.UpdatedAt = now
		event := &domain.IncidentEvent{
			ID:          uuid.New().String(),
			Timestamp:   now,
			Type:        domain.EventTypeUpdated,
			Actor:       input.UpdatedBy,
			Description: fmt.Sprintf("Updated fields: %s", strings.Join(changed, ", ")),
		}
		incident.Timeline = append(incident.Timeline, *event)

		if err := s.repo.Update(ctx, incident); err != nil {
			return nil, fmt.Errorf("update incident: %w", err)
		}
		if err := s.repo.AppendEvent(ctx, incident.ID, event); err != nil {
			return nil, fmt.Errorf("append event: %w", err)
		}
	}

	if resolving {
		if err := s.resolveLocked(ctx, incident, input.UpdatedBy); err != nil {
			return nil, err
		}
		return incident, nil
	}

	if len(changed) > 0 {
		s.dispatch(ctx, notify.KindUpdated, incident, notify.Extra{
			Actor:         input.UpdatedBy,
			ChangedFields: changed,
		})
	}
	return incident, nil
}

// ResolveIncident marks an incident resolved. Resolving an already
// resolved incident returns ErrIncidentResolved.
func (s *Service) ResolveIncident(ctx context.Context, id, resolvedBy string) (*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status.IsTerminal() {
		return nil, ErrIncidentResolved
	}
	if err := s.resolveLocked(ctx, incident, resolvedBy); err != nil {
		return nil, err
	}
	return incident, nil
}

// resolveLocked performs the resolution transition. Caller holds s.mu and
// has verified the incident is open. The escalation chain is cancelled
// before anything else so no timer fires mid-resolution.
func (s *Service) resolveLocked(ctx context.Context, incident *domain.Incident, actor string) error {
	s.escalations.Cancel(incident.ID)

	now := s.clock.Now().UTC()
	incident.Status = domain.IncidentStatusResolved
	incident.ResolvedAt = &now
	incident.UpdatedAt = now

	event := &domain.IncidentEvent{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Type:        domain.EventTypeResolved,
		Actor:       actor,
		Description: fmt.Sprintf("Incident resolved after %s", now.Sub(incident.CreatedAt).Round(1e9)),
	}
	incident.Timeline = append(incident.Timeline, *event)

	if err := s.repo.Update(ctx, incident); err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if err := s.repo.AppendEvent(ctx, incident.ID, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if incident.Severity.RequiresPostmortem() {
		s.postmortems.Schedule(incident)
	}

	incidentsResolved.WithLabelValues(string(incident.Severity)).Inc()
	resolutionSeconds.WithLabelValues(string(incident.Severity)).
		Observe(now.Sub(incident.CreatedAt).Seconds())
	ctxlog.FromContext(ctx).Info("incident resolved",
		"incident_id", incident.ID,
		"resolved_by", actor,
		"duration", now.Sub(incident.CreatedAt),
	)

	s.dispatch(ctx, notify.KindResolved, incident, notify.Extra{Actor: actor})
	return nil
}

// Escalate raises the incident's escalation high-water mark and notifies
// the fired level's recipients. Status is untouched; escalation level and
// lifecycle status are independent axes. Escalating a resolved incident
// returns ErrIncidentResolved so timer callbacks racing a resolution drop
// out quietly.
func (s *Service) Escalate(ctx context.Context, id string, level int, actor string) (*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status.IsTerminal() {
		return nil, ErrIncidentResolved
	}

	now := s.clock.Now().UTC()
	if level > incident.EscalationLevel {
		incident.EscalationLevel = level
	}
	incident.UpdatedAt = now

	event := &domain.IncidentEvent{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Type:        domain.EventTypeEscalated,
		Actor:       actor,
		Description: fmt.Sprintf("Escalated to level %d", level),
		Metadata:    map[string]string{"level": fmt.Sprintf("%d", level)},
	}
	incident.Timeline = append(incident.Timeline, *event)

	if err := s.repo.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("escalate incident: %w", err)
	}
	if err := s.repo.AppendEvent(ctx, incident.ID, event); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	source := "manual"
	if actor == "system" {
		source = "timer"
	}
	incidentsEscalated.WithLabelValues(source).Inc()
	ctxlog.FromContext(ctx).Info("incident escalated",
		"incident_id", incident.ID,
		"level", level,
		"actor", actor,
	)

	s.dispatch(ctx, notify.KindEscalated, incident, notify.Extra{
		Actor: actor,
		Level: s.levelDetails(ctx, incident.RoutingKey, level),
	})
	return incident, nil
}

// AssignIncident hands the incident to a responder and records the
// reassignment.
func (s *Service) AssignIncident(ctx context.Context, id, responderID, assignedBy string) (*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status.IsTerminal() {
		return nil, ErrIncidentResolved
	}

	now := s.clock.Now().UTC()
	incident.AssignedTo = &responderID
	incident.UpdatedAt = now

	event := &domain.IncidentEvent{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Type:        domain.EventTypeAssigned,
		Actor:       assignedBy,
		Description: fmt.Sprintf("Assigned to %s", responderID),
	}
	incident.Timeline = append(incident.Timeline, *event)

	if err := s.repo.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("assign incident: %w", err)
	}
	if err := s.repo.AppendEvent(ctx, incident.ID, event); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	s.dispatch(ctx, notify.KindAssigned, incident, notify.Extra{
		Actor:   assignedBy,
		Message: fmt.Sprintf("Incident assigned to %s.", responderID),
	})
	return incident, nil
}

// AddComment appends a comment event to the timeline. Comments are allowed
// on resolved incidents; the audit trail stays open even when the incident
// does not.
func (s *Service) AddComment(ctx context.Context, id, text, author string) (*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	event := &domain.IncidentEvent{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Type:        domain.EventTypeComment,
		Actor:       author,
		Description: text,
	}
	incident.Timeline = append(incident.Timeline, *event)

	if err := s.repo.AppendEvent(ctx, incident.ID, event); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return incident, nil
}

// GetIncident retrieves an incident with its full timeline.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.Get(ctx, id)
}

// ListIncidents retrieves incidents matching the filters.
func (s *Service) ListIncidents(ctx context.Context, filters Filters) ([]*domain.Incident, error) {
	return s.repo.List(ctx, filters)
}

// ListOpen retrieves all non-resolved incidents.
func (s *Service) ListOpen(ctx context.Context) ([]*domain.Incident, error) {
	return s.repo.ListOpen(ctx)
}

// dispatch announces a transition on its own goroutine. Delivery must not
// stall the caller or hold s.mu across channel I/O, so the incident is
// snapshotted first and the context is detached from request cancellation.
func (s *Service) dispatch(ctx context.Context, kind notify.Kind, incident *domain.Incident, extra notify.Extra) {
	snapshot := *incident
	snapshot.Timeline = append([]domain.IncidentEvent(nil), incident.Timeline...)
	detached := context.WithoutCancel(ctx)
	go s.notifier.Notify(detached, kind, &snapshot, extra)
}

// levelDetails looks up the fired level in the active policy so the
// notification can target that level's own recipients. Best effort; a nil
// result falls back to rotation contact methods.
func (s *Service) levelDetails(ctx context.Context, routingKey string, level int) *domain.EscalationLevel {
	policy, err := s.oncall.ActivePolicy(ctx, routingKey)
	if err != nil {
		return nil
	}
	for i := range policy {
		if policy[i].Level == level {
			return &policy[i]
		}
	}
	return nil
}

// newIncidentID builds a human-legible incident ID, e.g.
// INC-20260115-9f3a2b1c.
func newIncidentID(now time.Time) string {
	return fmt.Sprintf("INC-%s-%s", now.Format("20060102"), uuid.New().String()[:8])
}
