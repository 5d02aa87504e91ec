package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanBeActedOnBy(t *testing.T) {
	approver := "user-1"
	role := "BILLING_MANAGER"
	delegate := "user-2"

	tests := []struct {
		name  string
		step  ApprovalStep
		actor string
		roles []string
		want  bool
	}{
		{
			name:  "assigned approver",
			step:  ApprovalStep{ApproverID: &approver},
			actor: "user-1",
			want:  true,
		},
		{
			name:  "other user",
			step:  ApprovalStep{ApproverID: &approver},
			actor: "user-9",
			want:  false,
		},
		{
			name:  "role match",
			step:  ApprovalStep{ApproverRole: &role},
			actor: "anyone",
			roles: []string{"ASSOCIATE", "BILLING_MANAGER"},
			want:  true,
		},
		{
			name:  "role mismatch",
			step:  ApprovalStep{ApproverRole: &role},
			actor: "anyone",
			roles: []string{"ASSOCIATE"},
			want:  false,
		},
		{
			name:  "delegation overrides assignment",
			step:  ApprovalStep{ApproverID: &approver, DelegatedTo: &delegate},
			actor: "user-1",
			want:  false,
		},
		{
			name:  "delegate acts",
			step:  ApprovalStep{ApproverID: &approver, DelegatedTo: &delegate},
			actor: "user-2",
			want:  true,
		},
		{
			name:  "delegation overrides role too",
			step:  ApprovalStep{ApproverRole: &role, DelegatedTo: &delegate},
			actor: "anyone",
			roles: []string{"BILLING_MANAGER"},
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.CanBeActedOnBy(tt.actor, tt.roles))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, NegotiationRequested.Terminal())
	assert.False(t, NegotiationInProgress.Terminal())
	assert.True(t, NegotiationCompleted.Terminal())
	assert.True(t, NegotiationRejected.Terminal())

	assert.False(t, ApprovalPending.Terminal())
	assert.False(t, ApprovalInProgress.Terminal())
	assert.True(t, ApprovalApproved.Terminal())
	assert.True(t, ApprovalRejected.Terminal())
	assert.True(t, ApprovalCancelled.Terminal())

	assert.True(t, RateExported.Terminal())
	assert.True(t, RateExpired.Terminal())
	assert.True(t, RateRejected.Terminal())
	assert.False(t, RateClientRejected.Terminal())
	assert.False(t, RateActive.Terminal())
}
