// Package escalation runs cancellable timer chains that walk an incident
// through its rotation's escalation policy until resolution or exhaustion.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/opsdeck/incident-commander/internal/domain"
)

// PolicySource resolves the escalation policy serving a routing key,
// sorted ascending by level.
type PolicySource interface {
	ActivePolicy(ctx context.Context, routingKey string) ([]domain.EscalationLevel, error)
}

// Escalator performs the escalate transition. Implemented by the incident
// lifecycle manager; the scheduler never mutates incident state directly.
type Escalator interface {
	Escalate(ctx context.Context, incidentID string, level int, actor string) (*domain.Incident, error)
}

// OpenIncidentLister lists non-resolved incidents for the sweep.
type OpenIncidentLister interface {
	ListOpen(ctx context.Context) ([]*domain.Incident, error)
}

// Config contains scheduler configuration.
type Config struct {
	SweepInterval time.Duration
}

// chain tracks the timer state for one incident. The cancelled flag is the
// cancellation token checked at callback execution time: a timer that fired
// before Cancel won but ran after it must no-op.
type chain struct {
	incidentID string
	routingKey string
	levels     []domain.EscalationLevel
	next       int // index of the next level to fire
	timer      clockwork.Timer
	cancelled  bool
}

// Scheduler maintains at most one outstanding escalation timer per open
// incident. A periodic sweep re-arms chains lost to restarts; it is a
// reconciliation pass only and never escalates on its own authority.
type Scheduler struct {
	config   Config
	policies PolicySource
	clock    clockwork.Clock

	mu     sync.Mutex
	chains map[string]*chain

	escalator Escalator
	incidents OpenIncidentLister

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new escalation scheduler. Bind must be called
// before Start or Run.
func NewScheduler(config Config, policies PolicySource, clock clockwork.Clock) *Scheduler {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 60 * time.Second
	}
	return &Scheduler{
		config:   config,
		policies: policies,
		clock:    clock,
		chains:   make(map[string]*chain),
		stopCh:   make(chan struct{}),
	}
}

// Bind attaches the escalator and incident lister. Separate from the
// constructor because the lifecycle manager and the scheduler reference
// each other.
func (s *Scheduler) Bind(escalator Escalator, incidents OpenIncidentLister) {
	s.escalator = escalator
	s.incidents = incidents
}

// Start arms the escalation chain for an incident, beginning at the first
// policy level above the incident's current escalation high-water mark.
// Starting an incident that already has a running chain is a no-op.
func (s *Scheduler) Start(incident *domain.Incident) error {
	levels, err := s.policies.ActivePolicy(context.Background(), incident.RoutingKey)
	if err != nil {
		return fmt.Errorf("resolve escalation policy: %w", err)
	}

	next := 0
	for next < len(levels) && levels[next].Level <= incident.EscalationLevel {
		next++
	}
	if next >= len(levels) {
		slog.Debug("no escalation levels to arm",
			"incident_id", incident.ID,
			"escalation_level", incident.EscalationLevel,
		)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chains[incident.ID]; exists {
		return nil
	}

	c := &chain{
		incidentID: incident.ID,
		routingKey: incident.RoutingKey,
		levels:     levels,
		next:       next,
	}
	s.chains[incident.ID] = c
	s.armLocked(c)
	activeChains.Set(float64(len(s.chains)))

	slog.Info("escalation chain armed",
		"incident_id", incident.ID,
		"level", levels[next].Level,
		"delay", levels[next].Delay,
	)
	return nil
}

// Cancel stops any outstanding timer for the incident. Idempotent:
// cancelling an already-fired or already-cleared chain is a no-op.
func (s *Scheduler) Cancel(incidentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chains[incidentID]
	if !ok {
		return
	}

	c.cancelled = true
	if c.timer != nil {
		c.timer.Stop()
	}
	delete(s.chains, incidentID)
	activeChains.Set(float64(len(s.chains)))

	slog.Debug("escalation chain cancelled", "incident_id", incidentID)
}

// armLocked arms the timer for the chain's next level. Caller holds s.mu.
func (s *Scheduler) armLocked(c *chain) {
	delay := c.levels[c.next].Delay
	c.timer = s.clock.AfterFunc(delay, func() { s.fire(c) })
}

// fire runs when a level's timer elapses. It re-checks the chain under the
// lock before acting: a chain cancelled between timer expiry and callback
// execution must not escalate.
func (s *Scheduler) fire(c *chain) {
	s.mu.Lock()
	if s.chains[c.incidentID] != c || c.cancelled {
		s.mu.Unlock()
		timersFired.WithLabelValues("cancelled").Inc()
		return
	}
	level := c.levels[c.next]
	c.next++
	s.mu.Unlock()

	_, err := s.escalator.Escalate(context.Background(), c.incidentID, level.Level, "system")
	if err != nil {
		// Resolved or deleted between expiry and execution; the chain
		// has nothing left to do.
		timersFired.WithLabelValues("dropped").Inc()
		slog.Info("escalation chain stopped",
			"incident_id", c.incidentID,
			"level", level.Level,
			"reason", err,
		)
		s.Cancel(c.incidentID)
		return
	}
	timersFired.WithLabelValues("escalated").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chains[c.incidentID] != c || c.cancelled {
		return
	}
	if c.next >= len(c.levels) {
		delete(s.chains, c.incidentID)
		activeChains.Set(float64(len(s.chains)))
		slog.Info("escalation chain exhausted", "incident_id", c.incidentID)
		return
	}
	s.armLocked(c)
}

// Run starts the reconciliation sweep.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	go s.sweep(ctx)
}

// Stop halts the sweep and cancels all outstanding timers.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chains {
		c.cancelled = true
		if c.timer != nil {
			c.timer.Stop()
		}
		delete(s.chains, id)
	}
	activeChains.Set(0)

	slog.Info("escalation scheduler stopped")
}

func (s *Scheduler) sweep(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.Chan():
			s.reconcile(ctx)
		}
	}
}

// reconcile re-arms chains for open incidents that have none running, e.g.
// after a process restart. It resumes from the incident's escalation
// high-water mark rather than escalating anything itself.
func (s *Scheduler) reconcile(ctx context.Context) {
	open, err := s.incidents.ListOpen(ctx)
	if err != nil {
		slog.Error("escalation sweep failed to list open incidents", "error", err)
		return
	}

	for _, incident := range open {
		s.mu.Lock()
		_, exists := s.chains[incident.ID]
		s.mu.Unlock()
		if exists {
			continue
		}

		before := s.chainCount()
		if err := s.Start(incident); err != nil {
			slog.Warn("escalation sweep failed to re-arm chain",
				"incident_id", incident.ID,
				"error", err,
			)
			continue
		}
		if s.chainCount() > before {
			sweepRearms.Inc()
			slog.Warn("escalation sweep re-armed missing chain", "incident_id", incident.ID)
		}
	}
}

func (s *Scheduler) chainCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains)
}
