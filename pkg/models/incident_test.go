package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from IncidentStatus
		to   IncidentStatus
		want bool
	}{
		{"triaged to mitigated", StatusTriaged, StatusMitigated, true},
		{"triaged to resolved", StatusTriaged, StatusResolved, true},
		{"mitigated to resolved", StatusMitigated, StatusResolved, true},
		{"triaged to postmortem", StatusTriaged, StatusPostmortemRequired, true},
		{"mitigated to postmortem", StatusMitigated, StatusPostmortemRequired, true},
		{"resolved to postmortem", StatusResolved, StatusPostmortemRequired, true},
		{"open to resolved", StatusOpen, StatusResolved, false},
		{"open to mitigated", StatusOpen, StatusMitigated, false},
		{"awaiting review to resolved", StatusAwaitingHumanReview, StatusResolved, false},
		{"resolved to mitigated", StatusResolved, StatusMitigated, false},
		{"anything to open", StatusTriaged, StatusOpen, false},
		{"anything to triaging", StatusOpen, StatusTriaging, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestReopenableStatuses(t *testing.T) {
	assert.True(t, ReopenableStatuses[StatusFailed])
	assert.True(t, ReopenableStatuses[StatusAwaitingHumanReview])
	assert.True(t, ReopenableStatuses[StatusTriaged])
	assert.True(t, ReopenableStatuses[StatusMitigated])
	assert.True(t, ReopenableStatuses[StatusResolved])
	assert.True(t, ReopenableStatuses[StatusPostmortemRequired])

	assert.False(t, ReopenableStatuses[StatusOpen])
	assert.False(t, ReopenableStatuses[StatusTriaging])
}
