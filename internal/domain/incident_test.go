package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityForSeverity(t *testing.T) {
	tests := []struct {
		severity Severity
		want     Priority
	}{
		{SeverityCritical, PriorityP1},
		{SeverityHigh, PriorityP2},
		{SeverityMedium, PriorityP3},
		{SeverityLow, PriorityP4},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			assert.Equal(t, tt.want, PriorityForSeverity(tt.severity))
		})
	}
}

func TestSeverityRequiresPostmortem(t *testing.T) {
	assert.True(t, SeverityCritical.RequiresPostmortem())
	assert.True(t, SeverityHigh.RequiresPostmortem())
	assert.False(t, SeverityMedium.RequiresPostmortem())
	assert.False(t, SeverityLow.RequiresPostmortem())
}

func TestIncidentStatusIsTerminal(t *testing.T) {
	assert.True(t, IncidentStatusResolved.IsTerminal())
	assert.False(t, IncidentStatusInvestigating.IsTerminal())
	assert.False(t, IncidentStatusIdentified.IsTerminal())
	assert.False(t, IncidentStatusMonitoring.IsTerminal())
}
