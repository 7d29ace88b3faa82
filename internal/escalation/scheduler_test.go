package escalation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/escalation"
)

type escalateCall struct {
	incidentID string
	level      int
	actor      string
}

type mockEscalator struct {
	mu    sync.Mutex
	calls []escalateCall
	err   error
}

func (m *mockEscalator) Escalate(_ context.Context, incidentID string, level int, actor string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.calls = append(m.calls, escalateCall{incidentID: incidentID, level: level, actor: actor})
	return &domain.Incident{ID: incidentID, EscalationLevel: level}, nil
}

func (m *mockEscalator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockEscalator) call(i int) escalateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

type stubPolicySource struct {
	levels []domain.EscalationLevel
	err    error
}

func (s *stubPolicySource) ActivePolicy(context.Context, string) ([]domain.EscalationLevel, error) {
	return s.levels, s.err
}

type stubLister struct {
	mu        sync.Mutex
	incidents []*domain.Incident
}

func (s *stubLister) ListOpen(context.Context) ([]*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incidents, nil
}

func twoLevelPolicy() []domain.EscalationLevel {
	return []domain.EscalationLevel{
		{Level: 1, Delay: 5 * time.Minute},
		{Level: 2, Delay: 15 * time.Minute},
	}
}

func newScheduler(t *testing.T, policy []domain.EscalationLevel, escalator *mockEscalator) (*escalation.Scheduler, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	s := escalation.NewScheduler(escalation.Config{SweepInterval: time.Minute}, &stubPolicySource{levels: policy}, clock)
	s.Bind(escalator, &stubLister{})
	return s, clock
}

func waitForCalls(t *testing.T, escalator *mockEscalator, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return escalator.count() >= n },
		time.Second, time.Millisecond, "expected %d escalations", n)
}

func TestScheduler_FiresChainLevels(t *testing.T) {
	escalator := &mockEscalator{}
	s, clock := newScheduler(t, twoLevelPolicy(), escalator)
	defer s.Stop()

	require.NoError(t, s.Start(&domain.Incident{ID: "INC-1", RoutingKey: "payments"}))

	clock.Advance(5 * time.Minute)
	waitForCalls(t, escalator, 1)
	assert.Equal(t, escalateCall{incidentID: "INC-1", level: 1, actor: "system"}, escalator.call(0))

	// Level 2 arms only after level 1 completes.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(15 * time.Minute)
	waitForCalls(t, escalator, 2)
	assert.Equal(t, escalateCall{incidentID: "INC-1", level: 2, actor: "system"}, escalator.call(1))

	// Chain exhausted: nothing further fires.
	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, escalator.count())
}

func TestScheduler_CancelStopsChain(t *testing.T) {
	escalator := &mockEscalator{}
	s, clock := newScheduler(t, twoLevelPolicy(), escalator)
	defer s.Stop()

	require.NoError(t, s.Start(&domain.Incident{ID: "INC-1"}))
	s.Cancel("INC-1")

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, escalator.count())
}

func TestScheduler_CancelIsIdempotent(t *testing.T) {
	escalator := &mockEscalator{}
	s, _ := newScheduler(t, twoLevelPolicy(), escalator)
	defer s.Stop()

	require.NoError(t, s.Start(&domain.Incident{ID: "INC-1"}))
	s.Cancel("INC-1")
	s.Cancel("INC-1")
	s.Cancel("never-existed")
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	escalator := &mockEscalator{}
	s, clock := newScheduler(t, twoLevelPolicy(), escalator)
	defer s.Stop()

	incident := &domain.Incident{ID: "INC-1"}
	require.NoError(t, s.Start(incident))
	require.NoError(t, s.Start(incident))

	clock.Advance(5 * time.Minute)
	waitForCalls(t, escalator, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, escalator.count(), "double Start must not double the timers")
}

func TestScheduler_StartSkipsReachedLevels(t *testing.T) {
	escalator := &mockEscalator{}
	s, clock := newScheduler(t, twoLevelPolicy(), escalator)
	defer s.Stop()

	// High-water mark already past level 1; only level 2 remains.
	require.NoError(t, s.Start(&domain.Incident{ID: "INC-1", EscalationLevel: 1}))

	clock.Advance(15 * time.Minute)
	waitForCalls(t, escalator, 1)
	assert.Equal(t, 2, escalator.call(0).level)
}

func TestScheduler_StartWithExhaustedPolicyIsNoop(t *testing.T) {
	escalator := &mockEscalator{}
	s, clock := newScheduler(t, twoLevelPolicy(), escalator)
	defer s.Stop()

	require.NoError(t, s.Start(&domain.Incident{ID: "INC-1", EscalationLevel: 2}))

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, escalator.count())
}

func TestScheduler_DropsChainWhenEscalateFails(t *testing.T) {
	escalator := &mockEscalator{err: errors.New("incident already resolved")}
	s, clock := newScheduler(t, twoLevelPolicy(), escalator)
	defer s.Stop()

	require.NoError(t, s.Start(&domain.Incident{ID: "INC-1"}))

	clock.Advance(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)

	// The chain is gone: the same incident can be re-armed from scratch.
	require.NoError(t, s.Start(&domain.Incident{ID: "INC-1"}))
}

func TestScheduler_SweepRearmsMissingChain(t *testing.T) {
	escalator := &mockEscalator{}
	clock := clockwork.NewFakeClock()
	lister := &stubLister{incidents: []*domain.Incident{{ID: "INC-1", EscalationLevel: 1}}}

	s := escalation.NewScheduler(escalation.Config{SweepInterval: time.Minute}, &stubPolicySource{levels: twoLevelPolicy()}, clock)
	s.Bind(escalator, lister)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Run(ctx)

	// Wait for the sweep ticker to arm before advancing.
	blockCtx, blockCancel := context.WithTimeout(context.Background(), time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))

	clock.Advance(time.Minute)

	// The re-armed chain resumes at level 2 after its own delay.
	blockCtx2, blockCancel2 := context.WithTimeout(context.Background(), time.Second)
	defer blockCancel2()
	require.NoError(t, clock.BlockUntilContext(blockCtx2, 2))

	clock.Advance(15 * time.Minute)
	waitForCalls(t, escalator, 1)
	assert.Equal(t, escalateCall{incidentID: "INC-1", level: 2, actor: "system"}, escalator.call(0))
}
