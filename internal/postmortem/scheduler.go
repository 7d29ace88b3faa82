// Package postmortem schedules deferred postmortem shells for severe
// resolved incidents.
package postmortem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/notify"
)

// Store attaches a completed postmortem shell to its incident.
type Store interface {
	AttachPostmortem(ctx context.Context, incidentID string, pm *domain.Postmortem) error
}

// Notifier announces the postmortem to its owners.
type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, incident *domain.Incident, extra notify.Extra)
}

// Config contains scheduler configuration.
type Config struct {
	Delay time.Duration // defer between resolution and shell creation
}

// Scheduler defers postmortem shell creation after incident resolution.
type Scheduler struct {
	config   Config
	store    Store
	notifier Notifier
	clock    clockwork.Clock

	mu      sync.Mutex
	pending map[string]clockwork.Timer
}

// NewScheduler creates a new postmortem scheduler.
func NewScheduler(config Config, store Store, notifier Notifier, clock clockwork.Clock) *Scheduler {
	if config.Delay <= 0 {
		config.Delay = 24 * time.Hour
	}
	return &Scheduler{
		config:   config,
		store:    store,
		notifier: notifier,
		clock:    clock,
		pending:  make(map[string]clockwork.Timer),
	}
}

// Schedule arms the deferred postmortem job for a resolved incident.
// Idempotent: scheduling an incident that already has a pending job is a
// no-op.
func (s *Scheduler) Schedule(incident *domain.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[incident.ID]; exists {
		return
	}

	// Snapshot for the deferred callback; the live incident may be
	// updated meanwhile.
	snapshot := *incident

	s.pending[incident.ID] = s.clock.AfterFunc(s.config.Delay, func() {
		s.create(&snapshot)
	})

	slog.Info("postmortem scheduled",
		"incident_id", incident.ID,
		"severity", incident.Severity,
		"delay", s.config.Delay,
	)
}

// Stop cancels all pending jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}

	slog.Info("postmortem scheduler stopped")
}

func (s *Scheduler) create(incident *domain.Incident) {
	s.mu.Lock()
	delete(s.pending, incident.ID)
	s.mu.Unlock()

	ctx := context.Background()

	pm := &domain.Postmortem{
		ID:         uuid.New().String(),
		IncidentID: incident.ID,
		Summary:    fmt.Sprintf("%s incident %s: %s", incident.Severity, incident.ID, incident.Title),
		CreatedAt:  s.clock.Now().UTC(),
	}

	if err := s.store.AttachPostmortem(ctx, incident.ID, pm); err != nil {
		slog.Error("failed to attach postmortem", "incident_id", incident.ID, "error", err)
		return
	}

	slog.Info("postmortem shell created", "incident_id", incident.ID, "postmortem_id", pm.ID)

	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.KindPostmortem, incident, notify.Extra{
			Message: fmt.Sprintf("A postmortem is due for incident %s. Please fill in the root cause, timeline and action items.", incident.ID),
		})
	}
}
