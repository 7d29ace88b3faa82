package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/oncall"
)

type mockSender struct {
	mu          sync.Mutex
	channelType domain.ChannelType
	sent        []Notification
	err         error
}

func (m *mockSender) Type() domain.ChannelType { return m.channelType }

func (m *mockSender) Send(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

type stubRotations struct {
	rotation *domain.OnCallRotation
	err      error
}

func (s *stubRotations) ActiveRotation(context.Context, string) (*domain.OnCallRotation, error) {
	return s.rotation, s.err
}

func testIncident() *domain.Incident {
	assignee := "alice"
	resolvedAt := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)
	return &domain.Incident{
		ID:               "INC-20260115-deadbeef",
		Title:            "Checkout is down",
		Description:      "5xx spike on checkout",
		Severity:         domain.SeverityCritical,
		Priority:         domain.PriorityP1,
		Status:           domain.IncidentStatusInvestigating,
		AffectedServices: []string{"checkout"},
		Impact:           domain.Impact{UsersAffected: 1200},
		AssignedTo:       &assignee,
		RoutingKey:       "payments",
		CreatedAt:        resolvedAt.Add(-time.Hour),
	}
}

func TestRenderMessage_Subject(t *testing.T) {
	subject, body := renderMessage(KindCreated, testIncident(), Extra{})

	assert.Equal(t, "[P1] Critical incident opened: Checkout is down", subject)
	assert.Contains(t, body, "Status: Investigating")
	assert.Contains(t, body, "Severity: Critical")
	assert.Contains(t, body, "Assigned to: alice")
	assert.Contains(t, body, "Users affected: 1200")
}

func TestRenderMessage_Escalation(t *testing.T) {
	level := &domain.EscalationLevel{Level: 2, Description: "engineering leads"}
	subject, body := renderMessage(KindEscalated, testIncident(), Extra{Level: level})

	assert.Equal(t, "[P1] Critical incident escalated to level 2: Checkout is down", subject)
	assert.Contains(t, body, "Escalated to level 2 (engineering leads)")
}

func TestRenderMessage_Resolution(t *testing.T) {
	incident := testIncident()
	resolvedAt := incident.CreatedAt.Add(42 * time.Minute)
	incident.Status = domain.IncidentStatusResolved
	incident.ResolvedAt = &resolvedAt

	subject, body := renderMessage(KindResolved, incident, Extra{})

	assert.Equal(t, "[P1] Critical incident resolved: Checkout is down", subject)
	assert.Contains(t, body, "after 42m0s")
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	email := &mockSender{channelType: domain.ChannelTypeEmail}
	slack := &mockSender{channelType: domain.ChannelTypeSlack}
	d := NewDispatcher(email, slack)

	err := d.Send(context.Background(), domain.ChannelTypeSlack, Notification{Subject: "s"})
	require.NoError(t, err)
	assert.Empty(t, email.sent)
	assert.Len(t, slack.sent, 1)
}

func TestDispatcher_MissingSenderIsSkipped(t *testing.T) {
	d := NewDispatcher(&mockSender{channelType: domain.ChannelTypeEmail})

	err := d.Send(context.Background(), domain.ChannelTypeCall, Notification{Subject: "s"})
	assert.NoError(t, err)
}

func TestNotifier_UsesRotationContactMethods(t *testing.T) {
	email := &mockSender{channelType: domain.ChannelTypeEmail}
	slack := &mockSender{channelType: domain.ChannelTypeSlack}
	rotations := &stubRotations{rotation: &domain.OnCallRotation{
		ContactMethods: map[domain.ChannelType][]string{
			domain.ChannelTypeEmail: {"oncall@example.com"},
			domain.ChannelTypeSlack: {"https://hooks.slack.com/services/T/B/x"},
		},
	}}
	n := NewNotifier(NewDispatcher(email, slack), rotations)

	n.Notify(context.Background(), KindCreated, testIncident(), Extra{})

	require.Len(t, email.sent, 1)
	assert.Equal(t, []string{"oncall@example.com"}, email.sent[0].To)
	assert.Equal(t, "INC-20260115-deadbeef", email.sent[0].Metadata["incident_id"])
	require.Len(t, slack.sent, 1)
}

func TestNotifier_EscalationTargetsFiredLevel(t *testing.T) {
	email := &mockSender{channelType: domain.ChannelTypeEmail}
	sms := &mockSender{channelType: domain.ChannelTypeSMS}
	rotations := &stubRotations{rotation: &domain.OnCallRotation{
		ContactMethods: map[domain.ChannelType][]string{
			domain.ChannelTypeEmail: {"oncall@example.com"},
		},
	}}
	n := NewNotifier(NewDispatcher(email, sms), rotations)

	n.Notify(context.Background(), KindEscalated, testIncident(), Extra{
		Level: &domain.EscalationLevel{
			Level:      2,
			Recipients: []string{"+15550100"},
			Channels:   []domain.ChannelType{domain.ChannelTypeSMS},
		},
	})

	assert.Empty(t, email.sent, "rotation contacts are bypassed for escalations")
	require.Len(t, sms.sent, 1)
	assert.Equal(t, []string{"+15550100"}, sms.sent[0].To)
}

func TestNotifier_SwallowsDeliveryErrors(t *testing.T) {
	email := &mockSender{channelType: domain.ChannelTypeEmail, err: errors.New("smtp down")}
	rotations := &stubRotations{rotation: &domain.OnCallRotation{
		ContactMethods: map[domain.ChannelType][]string{
			domain.ChannelTypeEmail: {"oncall@example.com"},
		},
	}}
	n := NewNotifier(NewDispatcher(email), rotations)

	n.Notify(context.Background(), KindCreated, testIncident(), Extra{})
}

func TestNotifier_NoActiveRotationIsSilent(t *testing.T) {
	email := &mockSender{channelType: domain.ChannelTypeEmail}
	n := NewNotifier(NewDispatcher(email), &stubRotations{err: oncall.ErrNoActiveRotation})

	n.Notify(context.Background(), KindCreated, testIncident(), Extra{})
	assert.Empty(t, email.sent)
}

func TestNotifier_NilDispatcherSkips(t *testing.T) {
	n := NewNotifier(nil, &stubRotations{})
	n.Notify(context.Background(), KindCreated, testIncident(), Extra{})
}
