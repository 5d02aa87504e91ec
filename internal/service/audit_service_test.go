package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselops/be-rate-negotiations/internal/logger"
)

func TestLastCounterAmount_MostRecentRound(t *testing.T) {
	store := &fakeAuditStore{}
	svc := NewAuditService(store, &fakeAnalytics{}, logger.Nop())
	ctx := context.Background()

	svc.LogCounterProposal(ctx, "rate-1", "neg-1", "org-1", "client-user", decimal.NewFromInt(110), true, "")
	svc.LogCounterProposal(ctx, "rate-1", "neg-1", "org-1", "firm-user", decimal.NewFromInt(115), false, "")
	svc.LogCounterProposal(ctx, "rate-1", "neg-1", "org-1", "client-user", decimal.NewFromInt(112), true, "")
	// another rate's rounds must not leak in
	svc.LogCounterProposal(ctx, "rate-2", "neg-1", "org-1", "client-user", decimal.NewFromInt(999), true, "")

	amount, ok, err := svc.LastCounterAmount(ctx, "rate-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.NewFromInt(112)))
}

func TestLastCounterAmount_NoRounds(t *testing.T) {
	store := &fakeAuditStore{}
	svc := NewAuditService(store, &fakeAnalytics{}, logger.Nop())

	_, ok, err := svc.LastCounterAmount(context.Background(), "rate-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
