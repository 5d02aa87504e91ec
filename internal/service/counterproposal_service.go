package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/domain"
	"github.com/counselops/be-rate-negotiations/internal/fsm"
	"github.com/counselops/be-rate-negotiations/internal/logger"
)

// CounterProposalService manages the back-and-forth rate negotiation rounds
// layered on top of state machine transitions.
type CounterProposalService struct {
	rates          RateStore
	negotiations   NegotiationStore
	audit          *AuditService
	recommendation RecommendationClient
	locker         Locker
	rateMachine    *fsm.Machine
	log            *logger.Logger
}

// NewCounterProposalService creates a new CounterProposalService.
func NewCounterProposalService(
	rates RateStore,
	negotiations NegotiationStore,
	audit *AuditService,
	recommendation RecommendationClient,
	locker Locker,
	log *logger.Logger,
) *CounterProposalService {
	return &CounterProposalService{
		rates:          rates,
		negotiations:   negotiations,
		audit:          audit,
		recommendation: recommendation,
		locker:         locker,
		rateMachine:    fsm.NewRateMachine(),
		log:            log,
	}
}

// Bounds computes the permissible counter amount range for a rate.
//
// A client counter must lie between the current approved rate and the firm's
// proposed amount. A firm counter-response must lie between the client's
// last counter and the firm's original proposal.
func (s *CounterProposalService) Bounds(ctx context.Context, rate *domain.Rate, isClient bool) (min, max decimal.Decimal, err error) {
	if isClient {
		return rate.CurrentRate, rate.Amount, nil
	}

	lastCounter, ok, err := s.audit.LastCounterAmount(ctx, rate.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, decimal.Zero, apperr.New(apperr.CodeConflict,
			"no client counter-proposal exists to respond to")
	}
	return lastCounter, rate.Amount, nil
}

// Create records a counter-proposal on a single rate. The rate's amount is
// untouched until the counter is accepted; the counter value lives in the
// ledger.
func (s *CounterProposalService) Create(ctx context.Context, rateID string, counterAmount decimal.Decimal, actorID, message string, isClient bool) (*domain.Rate, error) {
	rate, err := s.rates.GetByID(ctx, rateID)
	if err != nil {
		return nil, err
	}

	var result *domain.Rate
	err = s.locker.WithNegotiationLock(ctx, rate.NegotiationID, func(ctx context.Context) error {
		rate, err := s.rates.GetByID(ctx, rateID)
		if err != nil {
			return err
		}

		transition := fsm.RateTransitionClientCounter
		target := domain.RateClientCounterProposed
		if !isClient {
			transition = fsm.RateTransitionFirmCounter
			target = domain.RateFirmCounterProposed
		}
		if _, err := s.rateMachine.Validate(string(rate.Status), transition, nil); err != nil {
			return err
		}

		min, max, err := s.Bounds(ctx, rate, isClient)
		if err != nil {
			return err
		}
		if counterAmount.LessThan(min) || counterAmount.GreaterThan(max) {
			return apperr.InvalidInput("counter_amount",
				fmt.Sprintf("must be between %s and %s", min, max))
		}

		s.audit.LogCounterProposal(ctx, rate.ID, rate.NegotiationID, rate.ClientID,
			actorID, counterAmount, isClient, message)

		if err := s.rates.UpdateStatus(ctx, rate.ID, target, domain.RateTypeCounterProposed); err != nil {
			return err
		}

		rate.Status = target
		rate.Type = domain.RateTypeCounterProposed
		result = rate
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rate_id", rateID).
		Str("actor_id", actorID).
		Str("counter_amount", counterAmount.String()).
		Bool("is_client", isClient).
		Msg("Counter-proposal recorded")

	return result, nil
}

// BatchItemError reports one failed rate within a batch counter-proposal.
type BatchItemError struct {
	RateID string `json:"rate_id"`
	Error  string `json:"error"`
}

// BatchResult reports the partial-success outcome of a batch
// counter-proposal.
type BatchResult struct {
	SuccessCount int              `json:"success_count"`
	ErrorCount   int              `json:"error_count"`
	Errors       []BatchItemError `json:"errors,omitempty"`
}

// ProcessBatch applies Create per rate independently. A single rate's
// failure does not abort the batch; the result reports per-item outcomes. A
// negotiation-level message is appended once if anything succeeded.
func (s *CounterProposalService) ProcessBatch(ctx context.Context, negotiationID string, counterRates map[string]decimal.Decimal, actorID, message string, isClient bool) (*BatchResult, error) {
	negotiation, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	err = s.locker.WithNegotiationLock(ctx, negotiationID, func(ctx context.Context) error {
		for rateID, amount := range counterRates {
			if _, err := s.Create(ctx, rateID, amount, actorID, message, isClient); err != nil {
				result.ErrorCount++
				result.Errors = append(result.Errors, BatchItemError{RateID: rateID, Error: err.Error()})
				continue
			}
			result.SuccessCount++
		}

		if result.SuccessCount > 0 && message != "" {
			s.audit.LogNegotiationEvent(ctx, negotiationID, negotiation.ClientID, actorID,
				domain.AuditCounterProposed, map[string]any{
					"message":       message,
					"is_client":     isClient,
					"success_count": result.SuccessCount,
					"error_count":   result.ErrorCount,
				})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("negotiation_id", negotiationID).
		Int("success_count", result.SuccessCount).
		Int("error_count", result.ErrorCount).
		Msg("Batch counter-proposal processed")

	return result, nil
}

// Accept applies the most recent counter amount from the ledger as the
// rate's new amount. A client accepting a firm counter lands on
// client_approved; a firm accepting a client counter lands on firm_accepted.
func (s *CounterProposalService) Accept(ctx context.Context, rateID, actorID, message string, isClient bool) (*domain.Rate, error) {
	rate, err := s.rates.GetByID(ctx, rateID)
	if err != nil {
		return nil, err
	}

	var result *domain.Rate
	err = s.locker.WithNegotiationLock(ctx, rate.NegotiationID, func(ctx context.Context) error {
		rate, err := s.rates.GetByID(ctx, rateID)
		if err != nil {
			return err
		}
		if !rate.Status.CounterProposed() {
			return apperr.Newf(apperr.CodeConflict,
				"rate %s has no pending counter-proposal (status: %s)", rateID, rate.Status)
		}

		// A client accepts the firm's counter; a firm accepts the client's.
		if isClient && rate.Status != domain.RateFirmCounterProposed {
			return apperr.Newf(apperr.CodeConflict,
				"client cannot accept a counter-proposal in status %s", rate.Status)
		}
		if !isClient && rate.Status != domain.RateClientCounterProposed {
			return apperr.Newf(apperr.CodeConflict,
				"firm cannot accept a counter-proposal in status %s", rate.Status)
		}

		amount, ok, err := s.audit.LastCounterAmount(ctx, rateID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.CodeConflict, "no counter-proposal entry found in history")
		}

		target := domain.RateFirmAccepted
		if isClient {
			target = domain.RateClientApproved
		}

		s.audit.LogRateChange(ctx, rateID, rate.ClientID, actorID, domain.AuditCounterAccepted,
			map[string]any{
				"negotiation_id":  rate.NegotiationID,
				"previous_amount": rate.Amount.String(),
				"new_amount":      amount.String(),
				"is_client":       isClient,
				"message":         message,
			})

		if err := s.rates.UpdateAmount(ctx, rateID, amount, target, domain.RateTypeProposed); err != nil {
			return err
		}

		rate.Amount = amount
		rate.Status = target
		rate.Type = domain.RateTypeProposed
		result = rate
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rate_id", rateID).
		Str("actor_id", actorID).
		Str("amount", result.Amount.String()).
		Str("status", string(result.Status)).
		Msg("Counter-proposal accepted")

	return result, nil
}

// RejectCounter rejects a pending counter-proposal. The rate keeps its
// pre-rejection amount.
func (s *CounterProposalService) RejectCounter(ctx context.Context, rateID, actorID, message string) (*domain.Rate, error) {
	rate, err := s.rates.GetByID(ctx, rateID)
	if err != nil {
		return nil, err
	}

	var result *domain.Rate
	err = s.locker.WithNegotiationLock(ctx, rate.NegotiationID, func(ctx context.Context) error {
		rate, err := s.rates.GetByID(ctx, rateID)
		if err != nil {
			return err
		}
		if !rate.Status.CounterProposed() {
			return apperr.Newf(apperr.CodeConflict,
				"rate %s has no pending counter-proposal (status: %s)", rateID, rate.Status)
		}

		s.audit.LogRateChange(ctx, rateID, rate.ClientID, actorID, domain.AuditCounterRejected,
			map[string]any{
				"negotiation_id":  rate.NegotiationID,
				"retained_amount": rate.Amount.String(),
				"message":         message,
			})

		if err := s.rates.UpdateStatus(ctx, rateID, domain.RateRejected, rate.Type); err != nil {
			return err
		}

		rate.Status = domain.RateRejected
		result = rate
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rate_id", rateID).
		Str("actor_id", actorID).
		Msg("Counter-proposal rejected")

	return result, nil
}

// SuggestForRate looks up the rate and delegates to Suggest.
func (s *CounterProposalService) SuggestForRate(ctx context.Context, rateID string, isClient bool) (decimal.Decimal, error) {
	rate, err := s.rates.GetByID(ctx, rateID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Suggest(ctx, rate, isClient)
}

// Suggest asks the recommendation collaborator for a counter amount and
// clamps the answer into the permissible bounds. A collaborator failure is
// "no suggestion": the midpoint of the bounds is returned instead.
func (s *CounterProposalService) Suggest(ctx context.Context, rate *domain.Rate, isClient bool) (decimal.Decimal, error) {
	min, max, err := s.Bounds(ctx, rate, isClient)
	if err != nil {
		return decimal.Zero, err
	}

	midpoint := min.Add(max).Div(decimal.NewFromInt(2))
	if s.recommendation == nil {
		return midpoint, nil
	}

	suggested, err := s.recommendation.SuggestCounterRate(ctx, rate.ID, rate.AttorneyID,
		rate.CurrentRate, rate.Amount, rate.Currency, isClient)
	if err != nil {
		s.log.Warn().Err(err).
			Str("rate_id", rate.ID).
			Msg("recommendation service unavailable, falling back to midpoint")
		return midpoint, nil
	}

	if suggested.LessThan(min) {
		return min, nil
	}
	if suggested.GreaterThan(max) {
		return max, nil
	}
	return suggested, nil
}
