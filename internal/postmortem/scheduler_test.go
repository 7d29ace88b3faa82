package postmortem_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/notify"
	"github.com/opsdeck/incident-commander/internal/postmortem"
)

type mockStore struct {
	mu       sync.Mutex
	attached map[string]*domain.Postmortem
	calls    int
}

func newMockStore() *mockStore {
	return &mockStore{attached: make(map[string]*domain.Postmortem)}
}

func (m *mockStore) AttachPostmortem(_ context.Context, incidentID string, pm *domain.Postmortem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached[incidentID] = pm
	m.calls++
	return nil
}

func (m *mockStore) get(incidentID string) *domain.Postmortem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached[incidentID]
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockNotifier struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (m *mockNotifier) Notify(_ context.Context, kind notify.Kind, _ *domain.Incident, _ notify.Extra) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.kinds)
}

func testIncident() *domain.Incident {
	return &domain.Incident{
		ID:       "INC-20260115-deadbeef",
		Title:    "Checkout is down",
		Severity: domain.SeverityCritical,
		Status:   domain.IncidentStatusResolved,
	}
}

func TestSchedule_CreatesShellAfterDelay(t *testing.T) {
	store := newMockStore()
	notifier := &mockNotifier{}
	clock := clockwork.NewFakeClock()
	s := postmortem.NewScheduler(postmortem.Config{Delay: 24 * time.Hour}, store, notifier, clock)
	defer s.Stop()

	incident := testIncident()
	s.Schedule(incident)

	clock.Advance(23 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, store.count(), "shell must not exist before the delay elapses")

	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)

	pm := store.get(incident.ID)
	require.NotNil(t, pm)
	assert.NotEmpty(t, pm.ID)
	assert.Equal(t, incident.ID, pm.IncidentID)
	assert.Contains(t, pm.Summary, incident.Title)
	assert.Empty(t, pm.RootCause, "shell starts empty")

	require.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, time.Millisecond)
}

func TestSchedule_Idempotent(t *testing.T) {
	store := newMockStore()
	clock := clockwork.NewFakeClock()
	s := postmortem.NewScheduler(postmortem.Config{Delay: time.Hour}, store, &mockNotifier{}, clock)
	defer s.Stop()

	incident := testIncident()
	s.Schedule(incident)
	s.Schedule(incident)

	clock.Advance(2 * time.Hour)
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, store.count())
}

func TestStop_CancelsPendingJobs(t *testing.T) {
	store := newMockStore()
	clock := clockwork.NewFakeClock()
	s := postmortem.NewScheduler(postmortem.Config{Delay: time.Hour}, store, &mockNotifier{}, clock)

	s.Schedule(testIncident())
	s.Stop()

	clock.Advance(2 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, store.count())
}
