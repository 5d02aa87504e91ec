package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/domain"
	"github.com/counselops/be-rate-negotiations/internal/logger"
)

// AuditService is the single write path into the append-only audit ledger.
// Every mutating action across the service produces exactly one entry here.
//
// The ledger write runs first, synchronously. The analytics forward runs
// after and is best-effort; neither a ledger nor an analytics failure is ever
// surfaced to the business operation, but failures are always logged.
type AuditService struct {
	store     AuditStore
	analytics AnalyticsSink
	log       *logger.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(store AuditStore, analytics AnalyticsSink, log *logger.Logger) *AuditService {
	return &AuditService{store: store, analytics: analytics, log: log}
}

// LogNegotiationStateChange records a negotiation transition.
func (s *AuditService) LogNegotiationStateChange(ctx context.Context, negotiationID, orgID, actorID, transition, previous, next string, params map[string]any) {
	details := map[string]any{
		"transition":      transition,
		"previous_status": previous,
		"new_status":      next,
	}
	if len(params) > 0 {
		details["params"] = params
	}
	s.append(ctx, &domain.AuditEntry{
		EntityType: domain.EntityNegotiation,
		EntityID:   negotiationID,
		ActionType: domain.AuditStateChanged,
		ActorID:    actorID,
		Details:    details,
	}, orgID)
}

// LogRateChange records a rate mutation (submission, status or amount
// change).
func (s *AuditService) LogRateChange(ctx context.Context, rateID, orgID, actorID, actionType string, details map[string]any) {
	s.append(ctx, &domain.AuditEntry{
		EntityType: domain.EntityRate,
		EntityID:   rateID,
		ActionType: actionType,
		ActorID:    actorID,
		Details:    details,
	}, orgID)
}

// LogCounterProposal records one counter-proposal round on a rate. The
// recorded counter_amount is what acceptance later applies.
func (s *AuditService) LogCounterProposal(ctx context.Context, rateID, negotiationID, orgID, actorID string, amount decimal.Decimal, isClient bool, message string) {
	s.append(ctx, &domain.AuditEntry{
		EntityType: domain.EntityRate,
		EntityID:   rateID,
		ActionType: domain.AuditCounterProposed,
		ActorID:    actorID,
		Details: map[string]any{
			"negotiation_id": negotiationID,
			"counter_amount": amount.String(),
			"is_client":      isClient,
			"message":        message,
		},
	}, orgID)
}

// LogApprovalAction records one approval workflow action.
func (s *AuditService) LogApprovalAction(ctx context.Context, workflowID, negotiationID, orgID, actorID, actionType string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["negotiation_id"] = negotiationID
	s.append(ctx, &domain.AuditEntry{
		EntityType: domain.EntityWorkflow,
		EntityID:   workflowID,
		ActionType: actionType,
		ActorID:    actorID,
		Details:    details,
	}, orgID)
}

// LogNegotiationEvent records a negotiation-level event that is not a state
// change, e.g. creation or a batch counter message.
func (s *AuditService) LogNegotiationEvent(ctx context.Context, negotiationID, orgID, actorID, actionType string, details map[string]any) {
	s.append(ctx, &domain.AuditEntry{
		EntityType: domain.EntityNegotiation,
		EntityID:   negotiationID,
		ActionType: actionType,
		ActorID:    actorID,
		Details:    details,
	}, orgID)
}

// GetNegotiationAuditTrail reads a negotiation's audit trail with filtering
// and pagination.
func (s *AuditService) GetNegotiationAuditTrail(ctx context.Context, negotiationID string, filter domain.AuditFilter) ([]*domain.AuditEntry, int64, error) {
	et := domain.EntityNegotiation
	filter.EntityType = &et
	filter.EntityID = negotiationID
	return s.store.ListByFilter(ctx, filter)
}

// GetRateAuditTrail reads a rate's audit trail with filtering and
// pagination.
func (s *AuditService) GetRateAuditTrail(ctx context.Context, rateID string, filter domain.AuditFilter) ([]*domain.AuditEntry, int64, error) {
	et := domain.EntityRate
	filter.EntityType = &et
	filter.EntityID = rateID
	return s.store.ListByFilter(ctx, filter)
}

// LastCounterAmount returns the most recent counter-proposal amount recorded
// for a rate, or false when no counter-proposal entry exists.
func (s *AuditService) LastCounterAmount(ctx context.Context, rateID string) (decimal.Decimal, bool, error) {
	action := domain.AuditCounterProposed
	et := domain.EntityRate
	entries, _, err := s.store.ListByFilter(ctx, domain.AuditFilter{
		EntityType: &et,
		EntityID:   rateID,
		ActionType: &action,
		Limit:      1,
		Descending: true,
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	if len(entries) == 0 {
		return decimal.Zero, false, nil
	}

	raw, ok := entries[0].Details["counter_amount"].(string)
	if !ok {
		return decimal.Zero, false, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, nil
	}
	return amount, true, nil
}

// append writes the ledger entry and then forwards to analytics. Failures in
// either are logged, never returned.
func (s *AuditService) append(ctx context.Context, entry *domain.AuditEntry, orgID string) {
	if err := s.store.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("entity_type", string(entry.EntityType)).
			Str("entity_id", entry.EntityID).
			Str("action", entry.ActionType).
			Msg("failed to write audit ledger entry")
		return
	}

	if s.analytics != nil {
		s.analytics.Track(entry.ActionType, entry.ActorID, orgID, map[string]any{
			"entity_type": string(entry.EntityType),
			"entity_id":   entry.EntityID,
			"details":     entry.Details,
		})
	}
}
