package oncall

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/pkg/ctxlog"
)

// Assignment is the result of on-call resolution.
type Assignment struct {
	RotationID  string   `json:"rotation_id"`
	ResponderID string   `json:"responder_id"`
	Backups     []string `json:"backups"`
}

// Service implements on-call resolution and rotation management.
type Service struct {
	repo  Repository
	clock clockwork.Clock
}

// NewService creates a new on-call service.
func NewService(repo Repository, clock clockwork.Clock) *Service {
	return &Service{repo: repo, clock: clock}
}

// CreateRotationInput holds data for creating a rotation.
type CreateRotationInput struct {
	Name             string
	RoutingKeys      []string
	Schedule         []domain.OnCallSchedule
	EscalationPolicy []domain.EscalationLevel
	ContactMethods   map[domain.ChannelType][]string
	Active           bool
}

// CreateRotation creates a rotation after validating its schedule and
// escalation policy.
func (s *Service) CreateRotation(ctx context.Context, input CreateRotationInput) (*domain.OnCallRotation, error) {
	if err := validateSchedule(input.Schedule); err != nil {
		return nil, err
	}
	if err := validatePolicy(input.EscalationPolicy); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	rotation := &domain.OnCallRotation{
		ID:               uuid.New().String(),
		Name:             input.Name,
		RoutingKeys:      input.RoutingKeys,
		Schedule:         input.Schedule,
		EscalationPolicy: sortedPolicy(input.EscalationPolicy),
		ContactMethods:   input.ContactMethods,
		Active:           input.Active,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, rotation); err != nil {
		return nil, fmt.Errorf("create rotation: %w", err)
	}

	return rotation, nil
}

// GetRotation retrieves a rotation by ID.
func (s *Service) GetRotation(ctx context.Context, id string) (*domain.OnCallRotation, error) {
	return s.repo.Get(ctx, id)
}

// ListRotations retrieves all rotations.
func (s *Service) ListRotations(ctx context.Context) ([]*domain.OnCallRotation, error) {
	return s.repo.List(ctx)
}

// UpdateRotationInput holds optional fields for updating a rotation.
type UpdateRotationInput struct {
	Name             *string
	RoutingKeys      *[]string
	Schedule         *[]domain.OnCallSchedule
	EscalationPolicy *[]domain.EscalationLevel
	ContactMethods   *map[domain.ChannelType][]string
	Active           *bool
}

// UpdateRotation merges the provided fields into an existing rotation.
func (s *Service) UpdateRotation(ctx context.Context, id string, input UpdateRotationInput) (*domain.OnCallRotation, error) {
	rotation, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		rotation.Name = *input.Name
	}
	if input.RoutingKeys != nil {
		rotation.RoutingKeys = *input.RoutingKeys
	}
	if input.Schedule != nil {
		if err := validateSchedule(*input.Schedule); err != nil {
			return nil, err
		}
		rotation.Schedule = *input.Schedule
	}
	if input.EscalationPolicy != nil {
		if err := validatePolicy(*input.EscalationPolicy); err != nil {
			return nil, err
		}
		rotation.EscalationPolicy = sortedPolicy(*input.EscalationPolicy)
	}
	if input.ContactMethods != nil {
		rotation.ContactMethods = *input.ContactMethods
	}
	if input.Active != nil {
		rotation.Active = *input.Active
	}
	rotation.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.Update(ctx, rotation); err != nil {
		return nil, fmt.Errorf("update rotation: %w", err)
	}

	return rotation, nil
}

// ActiveRotation selects the rotation serving the given routing key. A
// rotation whose routing keys contain the key wins; otherwise the first
// active rotation is the default. Returns ErrNoActiveRotation when no
// rotation is active at all.
func (s *Service) ActiveRotation(ctx context.Context, routingKey string) (*domain.OnCallRotation, error) {
	rotations, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rotations: %w", err)
	}
	if len(rotations) == 0 {
		return nil, ErrNoActiveRotation
	}

	if routingKey != "" {
		for _, r := range rotations {
			if r.Matches(routingKey) {
				return r, nil
			}
		}
	}

	return rotations[0], nil
}

// CurrentOnCall resolves the responder currently scheduled for the routing
// key. When shifts overlap, the first matching schedule entry in list order
// wins; the tie-break is deterministic but arbitrary. Returns ErrNoOnCall
// when no shift covers the current time; callers treat this as "nobody on
// call", not a failure.
func (s *Service) CurrentOnCall(ctx context.Context, routingKey string) (*Assignment, error) {
	rotation, err := s.ActiveRotation(ctx, routingKey)
	if err != nil {
		if err == ErrNoActiveRotation {
			return nil, ErrNoOnCall
		}
		return nil, err
	}

	now := s.clock.Now()
	for _, shift := range rotation.Schedule {
		if shift.Covers(now) {
			return &Assignment{
				RotationID:  rotation.ID,
				ResponderID: shift.ResponderID,
				Backups:     shift.BackupResponderIDs,
			}, nil
		}
	}

	ctxlog.FromContext(ctx).Debug("no on-call shift covers current time",
		"rotation_id", rotation.ID,
		"routing_key", routingKey,
	)
	return nil, ErrNoOnCall
}

// ActivePolicy returns the escalation policy of the rotation serving the
// routing key, sorted ascending by level.
func (s *Service) ActivePolicy(ctx context.Context, routingKey string) ([]domain.EscalationLevel, error) {
	rotation, err := s.ActiveRotation(ctx, routingKey)
	if err != nil {
		return nil, err
	}
	return sortedPolicy(rotation.EscalationPolicy), nil
}

func validateSchedule(schedule []domain.OnCallSchedule) error {
	for i, shift := range schedule {
		if shift.ResponderID == "" {
			return fmt.Errorf("%w: entry %d has no responder", ErrInvalidSchedule, i)
		}
		if !shift.EndTime.After(shift.StartTime) {
			return fmt.Errorf("%w: entry %d ends before it starts", ErrInvalidSchedule, i)
		}
		if shift.Timezone != "" {
			if _, err := time.LoadLocation(shift.Timezone); err != nil {
				return fmt.Errorf("%w: entry %d has unknown timezone %q", ErrInvalidSchedule, i, shift.Timezone)
			}
		}
	}
	return nil
}

func validatePolicy(policy []domain.EscalationLevel) error {
	sorted := sortedPolicy(policy)
	prev := 0
	for _, level := range sorted {
		if level.Level <= 0 {
			return fmt.Errorf("%w: level must be positive, got %d", ErrInvalidPolicy, level.Level)
		}
		if level.Level == prev {
			return fmt.Errorf("%w: duplicate level %d", ErrInvalidPolicy, level.Level)
		}
		if level.Delay <= 0 {
			return fmt.Errorf("%w: level %d has non-positive delay", ErrInvalidPolicy, level.Level)
		}
		for _, ch := range level.Channels {
			if !ch.IsValid() {
				return fmt.Errorf("%w: level %d has unknown channel %q", ErrInvalidPolicy, level.Level, ch)
			}
		}
		prev = level.Level
	}
	return nil
}

func sortedPolicy(policy []domain.EscalationLevel) []domain.EscalationLevel {
	out := make([]domain.EscalationLevel, len(policy))
	copy(out, policy)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
