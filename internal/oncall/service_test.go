package oncall_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/oncall"
	"github.com/opsdeck/incident-commander/internal/oncall/memory"
)

func newService(t *testing.T) (*oncall.Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	return oncall.NewService(memory.NewRepository(), clock), clock
}

func shift(responder string, start, end time.Time, backups ...string) domain.OnCallSchedule {
	return domain.OnCallSchedule{
		ResponderID:        responder,
		StartTime:          start,
		EndTime:            end,
		BackupResponderIDs: backups,
	}
}

func validPolicy() []domain.EscalationLevel {
	return []domain.EscalationLevel{
		{Level: 1, Delay: 5 * time.Minute, Recipients: []string{"primary@example.com"}, Channels: []domain.ChannelType{domain.ChannelTypeEmail}},
		{Level: 2, Delay: 15 * time.Minute, Recipients: []string{"lead@example.com"}, Channels: []domain.ChannelType{domain.ChannelTypeSlack}},
	}
}

func TestCurrentOnCall_CoveringShift(t *testing.T) {
	service, clock := newService(t)
	now := clock.Now()

	rotation, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
		Name: "payments",
		Schedule: []domain.OnCallSchedule{
			shift("alice", now.Add(-time.Hour), now.Add(time.Hour), "bob"),
		},
		EscalationPolicy: validPolicy(),
		Active:           true,
	})
	require.NoError(t, err)

	assignment, err := service.CurrentOnCall(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, rotation.ID, assignment.RotationID)
	assert.Equal(t, "alice", assignment.ResponderID)
	assert.Equal(t, []string{"bob"}, assignment.Backups)
}

func TestCurrentOnCall_OverlappingShiftsFirstWins(t *testing.T) {
	service, clock := newService(t)
	now := clock.Now()

	_, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
		Name: "payments",
		Schedule: []domain.OnCallSchedule{
			shift("alice", now.Add(-time.Hour), now.Add(time.Hour)),
			shift("bob", now.Add(-2*time.Hour), now.Add(2*time.Hour)),
		},
		EscalationPolicy: validPolicy(),
		Active:           true,
	})
	require.NoError(t, err)

	assignment, err := service.CurrentOnCall(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "alice", assignment.ResponderID)
}

func TestCurrentOnCall_NoCoveringShift(t *testing.T) {
	service, clock := newService(t)
	now := clock.Now()

	_, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
		Name: "payments",
		Schedule: []domain.OnCallSchedule{
			shift("alice", now.Add(time.Hour), now.Add(2*time.Hour)),
		},
		EscalationPolicy: validPolicy(),
		Active:           true,
	})
	require.NoError(t, err)

	_, err = service.CurrentOnCall(context.Background(), "")
	assert.ErrorIs(t, err, oncall.ErrNoOnCall)
}

func TestCurrentOnCall_NoActiveRotation(t *testing.T) {
	service, _ := newService(t)

	_, err := service.CurrentOnCall(context.Background(), "payments")
	assert.ErrorIs(t, err, oncall.ErrNoOnCall)
}

func TestActiveRotation_RoutingKeySelection(t *testing.T) {
	service, clock := newService(t)
	now := clock.Now()

	fallback, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
		Name:             "default",
		Schedule:         []domain.OnCallSchedule{shift("alice", now.Add(-time.Hour), now.Add(time.Hour))},
		EscalationPolicy: validPolicy(),
		Active:           true,
	})
	require.NoError(t, err)

	payments, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
		Name:             "payments",
		RoutingKeys:      []string{"payments", "billing"},
		Schedule:         []domain.OnCallSchedule{shift("bob", now.Add(-time.Hour), now.Add(time.Hour))},
		EscalationPolicy: validPolicy(),
		Active:           true,
	})
	require.NoError(t, err)

	matched, err := service.ActiveRotation(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, payments.ID, matched.ID)

	unmatched, err := service.ActiveRotation(context.Background(), "search")
	require.NoError(t, err)
	assert.Equal(t, fallback.ID, unmatched.ID)
}

func TestActivePolicy_SortedAscending(t *testing.T) {
	service, clock := newService(t)
	now := clock.Now()

	_, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
		Name:     "payments",
		Schedule: []domain.OnCallSchedule{shift("alice", now.Add(-time.Hour), now.Add(time.Hour))},
		EscalationPolicy: []domain.EscalationLevel{
			{Level: 3, Delay: 30 * time.Minute},
			{Level: 1, Delay: 5 * time.Minute},
			{Level: 2, Delay: 15 * time.Minute},
		},
		Active: true,
	})
	require.NoError(t, err)

	policy, err := service.ActivePolicy(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, policy, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{policy[0].Level, policy[1].Level, policy[2].Level})
}

func TestCreateRotation_InvalidPolicy(t *testing.T) {
	service, clock := newService(t)
	now := clock.Now()

	tests := []struct {
		name   string
		policy []domain.EscalationLevel
	}{
		{"duplicate level", []domain.EscalationLevel{{Level: 1, Delay: time.Minute}, {Level: 1, Delay: time.Minute}}},
		{"zero delay", []domain.EscalationLevel{{Level: 1}}},
		{"non-positive level", []domain.EscalationLevel{{Level: 0, Delay: time.Minute}}},
		{"unknown channel", []domain.EscalationLevel{{Level: 1, Delay: time.Minute, Channels: []domain.ChannelType{"pager"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
				Name:             "broken",
				Schedule:         []domain.OnCallSchedule{shift("alice", now, now.Add(time.Hour))},
				EscalationPolicy: tt.policy,
				Active:           true,
			})
			assert.ErrorIs(t, err, oncall.ErrInvalidPolicy)
		})
	}
}

func TestCreateRotation_InvalidSchedule(t *testing.T) {
	service, clock := newService(t)
	now := clock.Now()

	_, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
		Name:             "broken",
		Schedule:         []domain.OnCallSchedule{shift("alice", now.Add(time.Hour), now)},
		EscalationPolicy: validPolicy(),
		Active:           true,
	})
	assert.ErrorIs(t, err, oncall.ErrInvalidSchedule)
}

func TestUpdateRotation_MergesFields(t *testing.T) {
	service, clock := newService(t)
	now := clock.Now()

	rotation, err := service.CreateRotation(context.Background(), oncall.CreateRotationInput{
		Name:             "payments",
		Schedule:         []domain.OnCallSchedule{shift("alice", now.Add(-time.Hour), now.Add(time.Hour))},
		EscalationPolicy: validPolicy(),
		Active:           true,
	})
	require.NoError(t, err)

	name := "payments-emea"
	active := false
	updated, err := service.UpdateRotation(context.Background(), rotation.ID, oncall.UpdateRotationInput{
		Name:   &name,
		Active: &active,
	})
	require.NoError(t, err)
	assert.Equal(t, "payments-emea", updated.Name)
	assert.False(t, updated.Active)
	assert.Len(t, updated.Schedule, 1, "unset fields keep their values")

	_, err = service.CurrentOnCall(context.Background(), "")
	assert.ErrorIs(t, err, oncall.ErrNoOnCall, "deactivated rotation no longer serves on-call")
}

func TestGetRotation_NotFound(t *testing.T) {
	service, _ := newService(t)

	_, err := service.GetRotation(context.Background(), "missing")
	assert.ErrorIs(t, err, oncall.ErrRotationNotFound)
}
