package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/incidents"
)

func seed(t *testing.T, r *Repository, id string, status domain.IncidentStatus, severity domain.Severity, services ...string) *domain.Incident {
	t.Helper()
	incident := &domain.Incident{
		ID:               id,
		Title:            "incident " + id,
		Severity:         severity,
		Status:           status,
		AffectedServices: services,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, r.Create(context.Background(), incident))
	return incident
}

func TestRepository_GetNotFound(t *testing.T) {
	r := NewRepository()

	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestRepository_GetReturnsClone(t *testing.T) {
	r := NewRepository()
	seed(t, r, "INC-1", domain.IncidentStatusInvestigating, domain.SeverityHigh)

	got, err := r.Get(context.Background(), "INC-1")
	require.NoError(t, err)
	got.Title = "mutated"

	again, err := r.Get(context.Background(), "INC-1")
	require.NoError(t, err)
	assert.Equal(t, "incident INC-1", again.Title)
}

func TestRepository_ListFilters(t *testing.T) {
	r := NewRepository()
	seed(t, r, "INC-1", domain.IncidentStatusInvestigating, domain.SeverityCritical, "checkout")
	seed(t, r, "INC-2", domain.IncidentStatusResolved, domain.SeverityCritical, "search")
	seed(t, r, "INC-3", domain.IncidentStatusInvestigating, domain.SeverityLow, "checkout")

	all, err := r.List(context.Background(), incidents.Filters{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bySeverity, err := r.List(context.Background(), incidents.Filters{Severity: domain.SeverityCritical})
	require.NoError(t, err)
	assert.Len(t, bySeverity, 2)

	byService, err := r.List(context.Background(), incidents.Filters{Service: "checkout"})
	require.NoError(t, err)
	assert.Len(t, byService, 2)

	combined, err := r.List(context.Background(), incidents.Filters{
		Status:   domain.IncidentStatusInvestigating,
		Severity: domain.SeverityCritical,
	})
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Equal(t, "INC-1", combined[0].ID)

	open, err := r.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestRepository_UpdateKeepsTimeline(t *testing.T) {
	r := NewRepository()
	incident := seed(t, r, "INC-1", domain.IncidentStatusInvestigating, domain.SeverityHigh)

	require.NoError(t, r.AppendEvent(context.Background(), "INC-1", &domain.IncidentEvent{
		ID:   "evt-1",
		Type: domain.EventTypeCreated,
	}))

	// An update carrying a stale or empty timeline must not clobber
	// stored events.
	incident.Status = domain.IncidentStatusMonitoring
	incident.Timeline = nil
	require.NoError(t, r.Update(context.Background(), incident))

	got, err := r.Get(context.Background(), "INC-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusMonitoring, got.Status)
	require.Len(t, got.Timeline, 1)
	assert.Equal(t, "evt-1", got.Timeline[0].ID)
}

func TestRepository_UpdateNotFound(t *testing.T) {
	r := NewRepository()

	err := r.Update(context.Background(), &domain.Incident{ID: "missing"})
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestRepository_AppendEventOrder(t *testing.T) {
	r := NewRepository()
	seed(t, r, "INC-1", domain.IncidentStatusInvestigating, domain.SeverityHigh)

	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		require.NoError(t, r.AppendEvent(context.Background(), "INC-1", &domain.IncidentEvent{ID: id}))
	}

	got, err := r.Get(context.Background(), "INC-1")
	require.NoError(t, err)
	require.Len(t, got.Timeline, 3)
	assert.Equal(t, "evt-1", got.Timeline[0].ID)
	assert.Equal(t, "evt-3", got.Timeline[2].ID)
}

func TestRepository_AttachPostmortem(t *testing.T) {
	r := NewRepository()
	seed(t, r, "INC-1", domain.IncidentStatusResolved, domain.SeverityCritical)

	require.NoError(t, r.AttachPostmortem(context.Background(), "INC-1", &domain.Postmortem{
		ID:         "pm-1",
		IncidentID: "INC-1",
	}))

	got, err := r.Get(context.Background(), "INC-1")
	require.NoError(t, err)
	require.NotNil(t, got.Postmortem)
	assert.Equal(t, "pm-1", got.Postmortem.ID)

	err = r.AttachPostmortem(context.Background(), "missing", &domain.Postmortem{ID: "pm-2"})
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}
