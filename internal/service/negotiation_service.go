package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/domain"
	"github.com/counselops/be-rate-negotiations/internal/fsm"
	"github.com/counselops/be-rate-negotiations/internal/logger"
	"github.com/counselops/be-rate-negotiations/internal/rules"
)

// NegotiationService orchestrates the negotiation lifecycle: creation, rate
// submission with rule validation, and state machine transitions with their
// guards and side effects.
type NegotiationService struct {
	negotiations NegotiationStore
	rates        RateStore
	settings     SettingsProvider
	audit        *AuditService
	notifier     Notifier
	locker       Locker
	machine      *fsm.Machine
	counter      *CounterProposalService
	approvals    *ApprovalService
	log          *logger.Logger
}

// NewNegotiationService creates a new NegotiationService. The counter and
// approval collaborators are attached after construction via SetCollaborators.
func NewNegotiationService(
	negotiations NegotiationStore,
	rates RateStore,
	settings SettingsProvider,
	audit *AuditService,
	notifier Notifier,
	locker Locker,
	log *logger.Logger,
) *NegotiationService {
	return &NegotiationService{
		negotiations: negotiations,
		rates:        rates,
		settings:     settings,
		audit:        audit,
		notifier:     notifier,
		locker:       locker,
		machine:      fsm.NewNegotiationMachine(),
		log:          log,
	}
}

// SetCollaborators attaches the counter-proposal and approval services.
// Must be called once during wiring, before the service handles requests.
func (s *NegotiationService) SetCollaborators(counter *CounterProposalService, approvals *ApprovalService) {
	s.counter = counter
	s.approvals = approvals
}

// CreateNegotiation opens a new negotiation in the requested state.
func (s *NegotiationService) CreateNegotiation(ctx context.Context, clientID, firmID, createdBy string, submissionDeadline *time.Time) (*domain.Negotiation, error) {
	if clientID == "" {
		return nil, apperr.InvalidInput("client_id", "is required")
	}
	if firmID == "" {
		return nil, apperr.InvalidInput("firm_id", "is required")
	}

	n := &domain.Negotiation{
		ID:                 uuid.NewString(),
		ClientID:           clientID,
		FirmID:             firmID,
		Status:             domain.NegotiationRequested,
		RequestDate:        time.Now().UTC(),
		SubmissionDeadline: submissionDeadline,
		CreatedBy:          createdBy,
	}
	if err := s.negotiations.Create(ctx, n); err != nil {
		return nil, err
	}

	s.audit.LogNegotiationEvent(ctx, n.ID, clientID, createdBy,
		domain.AuditNegotiationCreated, map[string]any{
			"firm_id": firmID,
		})

	if s.notifier != nil {
		s.notifier.PublishNegotiationEvent("negotiation.created", n.ID, clientID, createdBy,
			nil, map[string]any{"firm_id": firmID})
	}

	s.log.Info().
		Str("negotiation_id", n.ID).
		Str("client_id", clientID).
		Str("firm_id", firmID).
		Msg("Negotiation created")

	return n, nil
}

// GetNegotiation fetches a negotiation by id.
func (s *NegotiationService) GetNegotiation(ctx context.Context, id string) (*domain.Negotiation, error) {
	return s.negotiations.GetByID(ctx, id)
}

// ListNegotiations lists negotiations with optional filters and pagination.
func (s *NegotiationService) ListNegotiations(ctx context.Context, clientID, firmID *string, status *domain.NegotiationStatus, limit, offset int) ([]*domain.Negotiation, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.negotiations.List(ctx, clientID, firmID, status, limit, offset)
}

// GetRates lists a negotiation's rates.
func (s *NegotiationService) GetRates(ctx context.Context, negotiationID string) ([]*domain.Rate, error) {
	if _, err := s.negotiations.GetByID(ctx, negotiationID); err != nil {
		return nil, err
	}
	return s.rates.GetByNegotiationID(ctx, negotiationID)
}

// DeleteNegotiation soft-deletes a negotiation. Active workflows must be
// cancelled first.
func (s *NegotiationService) DeleteNegotiation(ctx context.Context, id, actorID string) error {
	return s.locker.WithNegotiationLock(ctx, id, func(ctx context.Context) error {
		n, err := s.negotiations.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if n.ApprovalStatus != nil && !n.ApprovalStatus.Terminal() {
			return apperr.New(apperr.CodeConflict,
				"negotiation has an active approval workflow; cancel it first")
		}
		if err := s.negotiations.SoftDelete(ctx, id); err != nil {
			return err
		}
		s.audit.LogNegotiationEvent(ctx, id, n.ClientID, actorID, domain.AuditStateChanged,
			map[string]any{"deleted": true})
		return nil
	})
}

// RateSubmission is one firm-proposed rate in a submission batch.
type RateSubmission struct {
	AttorneyID     string
	Amount         decimal.Decimal
	CurrentRate    decimal.Decimal
	Currency       string
	EffectiveDate  time.Time
	ExpirationDate *time.Time
	LastChangeDate *time.Time
}

// SubmitRates validates the proposed rates against the client's rate rules,
// persists them, and moves the negotiation into review. The whole batch is
// rejected if any rate violates a rule; nothing is persisted partially.
func (s *NegotiationService) SubmitRates(ctx context.Context, negotiationID, actorID string, submissions []RateSubmission) ([]*domain.Rate, error) {
	if len(submissions) == 0 {
		return nil, apperr.InvalidInput("rates", "at least one rate is required")
	}

	var created []*domain.Rate
	err := s.locker.WithNegotiationLock(ctx, negotiationID, func(ctx context.Context) error {
		n, err := s.negotiations.GetByID(ctx, negotiationID)
		if err != nil {
			return err
		}
		if n.Status != domain.NegotiationRequested {
			return apperr.Newf(apperr.CodeConflict,
				"rates can only be submitted to a requested negotiation (status: %s)", n.Status)
		}
		if n.SubmissionDeadline != nil && time.Now().UTC().After(*n.SubmissionDeadline) {
			return apperr.New(apperr.CodeValidation, "submission deadline has passed")
		}

		settings, err := s.settings.GetOrgSettings(ctx, n.ClientID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, sub := range submissions {
			if err := validateSubmission(settings.Rules, sub, now); err != nil {
				return err
			}
		}

		created = created[:0]
		for _, sub := range submissions {
			rate := &domain.Rate{
				ID:             uuid.NewString(),
				NegotiationID:  negotiationID,
				ClientID:       n.ClientID,
				FirmID:         n.FirmID,
				AttorneyID:     sub.AttorneyID,
				Amount:         sub.Amount,
				CurrentRate:    sub.CurrentRate,
				Currency:       sub.Currency,
				Type:           domain.RateTypeProposed,
				Status:         domain.RateUnderReview,
				EffectiveDate:  sub.EffectiveDate,
				ExpirationDate: sub.ExpirationDate,
			}
			if err := s.rates.Create(ctx, rate); err != nil {
				return err
			}
			created = append(created, rate)

			s.audit.LogRateChange(ctx, rate.ID, n.ClientID, actorID, domain.AuditRateSubmitted,
				map[string]any{
					"negotiation_id": negotiationID,
					"attorney_id":    sub.AttorneyID,
					"amount":         sub.Amount.String(),
					"current_rate":   sub.CurrentRate.String(),
					"currency":       sub.Currency,
				})
		}

		_, err = s.executeLocked(ctx, n, fsm.TransitionSubmit, actorID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.PublishNegotiationEvent("negotiation.rates_submitted", negotiationID,
			created[0].ClientID, actorID, nil, map[string]any{"rate_count": len(created)})
	}

	s.log.Info().
		Str("negotiation_id", negotiationID).
		Int("rate_count", len(created)).
		Msg("Rates submitted")

	return created, nil
}

// validateSubmission checks one proposed rate against the organization's
// rate rules.
func validateSubmission(r domain.RateRules, sub RateSubmission, now time.Time) error {
	if sub.AttorneyID == "" {
		return apperr.InvalidInput("attorney_id", "is required")
	}
	if sub.Amount.Sign() <= 0 {
		return apperr.InvalidInput("amount", "must be positive")
	}
	if sub.EffectiveDate.IsZero() {
		return apperr.InvalidInput("effective_date", "is required")
	}
	if sub.ExpirationDate != nil && !sub.ExpirationDate.After(sub.EffectiveDate) {
		return apperr.InvalidInput("expiration_date", "must be after the effective date")
	}
	if !rules.IsWithinSubmissionWindow(r, now) {
		return apperr.New(apperr.CodeValidation,
			"submission falls outside the organization's rate submission window")
	}
	if !rules.CheckNoticePeriodCompliance(r, now, sub.EffectiveDate) {
		return apperr.Newf(apperr.CodeValidation,
			"effective date gives less than the required %d days notice", r.NoticeDays)
	}
	if sub.LastChangeDate != nil && rules.IsWithinFreezePeriod(r, sub.EffectiveDate, *sub.LastChangeDate) {
		return apperr.Newf(apperr.CodeValidation,
			"attorney %s is within the %d-month rate freeze period", sub.AttorneyID, r.FreezeMonths)
	}
	if !rules.IsRateIncreaseCompliant(r, sub.CurrentRate, sub.Amount) {
		return apperr.Newf(apperr.CodeValidation,
			"attorney %s rate increase exceeds the %s%% maximum", sub.AttorneyID, r.MaxIncreasePercent)
	}
	return nil
}

// ExecuteTransition runs a named negotiation transition under the
// per-negotiation lock. Guards and effects resolve through this service; on
// success the new status is persisted and exactly one state-change audit
// entry is appended.
func (s *NegotiationService) ExecuteTransition(ctx context.Context, negotiationID, transition, actorID string, params fsm.Params) (*domain.Negotiation, error) {
	var result *domain.Negotiation
	err := s.locker.WithNegotiationLock(ctx, negotiationID, func(ctx context.Context) error {
		n, err := s.negotiations.GetByID(ctx, negotiationID)
		if err != nil {
			return err
		}
		result, err = s.executeLocked(ctx, n, transition, actorID, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("negotiation_id", negotiationID).
		Str("transition", transition).
		Str("status", string(result.Status)).
		Msg("Negotiation transition executed")

	return result, nil
}

// executeLocked runs a transition with the lock already held.
func (s *NegotiationService) executeLocked(ctx context.Context, n *domain.Negotiation, transition, actorID string, params fsm.Params) (*domain.Negotiation, error) {
	req := fsm.Request{
		EntityID: n.ID,
		ActorID:  actorID,
		Params:   params,
	}
	handler := &transitionHandler{svc: s, negotiation: n}

	target, err := s.machine.Execute(ctx, string(n.Status), transition, req, handler)
	if err != nil {
		return nil, err
	}

	previous := n.Status
	n.Status = domain.NegotiationStatus(target)
	if err := s.negotiations.UpdateStatus(ctx, n.ID, n.Status); err != nil {
		return nil, err
	}
	if n.Status.Terminal() {
		now := time.Now().UTC()
		n.CompletionDate = &now
	}

	s.audit.LogNegotiationStateChange(ctx, n.ID, n.ClientID, actorID, transition,
		string(previous), target, auditParams(params))

	if s.notifier != nil {
		s.notifier.PublishNegotiationEvent("negotiation.state_changed", n.ID, n.ClientID,
			actorID, nil, map[string]any{
				"transition":      transition,
				"previous_status": string(previous),
				"new_status":      target,
			})
	}

	// Followups queued by effects run after the state mutation is durable.
	// They re-enter ExecuteTransition under the already-held lock.
	for _, fn := range handler.followups {
		if err := fn(ctx); err != nil {
			return nil, err
		}
	}
	if handler.refetch {
		return s.negotiations.GetByID(ctx, n.ID)
	}
	return n, nil
}

// GetValidTransitions lists the transition names that may fire from the
// negotiation's current status.
func (s *NegotiationService) GetValidTransitions(ctx context.Context, negotiationID string) ([]string, error) {
	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, t := range s.machine.ValidTransitions(string(n.Status)) {
		names = append(names, t.Name)
	}
	return names, nil
}

// transitionHandler resolves one transition's guard and effect names against
// the service's collaborators. It is request-scoped.
type transitionHandler struct {
	svc         *NegotiationService
	negotiation *domain.Negotiation
	followups   []func(ctx context.Context) error
	refetch     bool
}

func (h *transitionHandler) Guard(ctx context.Context, name string, req fsm.Request) (bool, error) {
	switch name {
	case fsm.GuardAutoApprovalAllowed:
		return h.svc.autoApprovalAllowed(ctx, h.negotiation)
	default:
		return false, apperr.Newf(apperr.CodeInternal, "unknown guard '%s'", name)
	}
}

func (h *transitionHandler) Effect(ctx context.Context, name string, req fsm.Request) error {
	switch name {
	case fsm.EffectProcessClientCounter:
		return h.processCounter(ctx, req, true)
	case fsm.EffectProcessFirmCounter:
		return h.processCounter(ctx, req, false)
	case fsm.EffectCreateWorkflow:
		return h.createWorkflow(ctx, req)
	default:
		return apperr.Newf(apperr.CodeInternal, "unknown effect '%s'", name)
	}
}

func (h *transitionHandler) processCounter(ctx context.Context, req fsm.Request, isClient bool) error {
	if h.svc.counter == nil {
		return apperr.New(apperr.CodeInternal, "counter-proposal service not wired")
	}
	counterRates, err := counterRatesParam(req.Params)
	if err != nil {
		return err
	}
	message, _ := req.Params[fsm.ParamMessage].(string)

	result, err := h.svc.counter.ProcessBatch(ctx, h.negotiation.ID, counterRates,
		req.ActorID, message, isClient)
	if err != nil {
		return err
	}
	if result.SuccessCount == 0 {
		return apperr.Newf(apperr.CodeValidation,
			"no counter-proposal was accepted (%d failed)", result.ErrorCount)
	}
	return nil
}

func (h *transitionHandler) createWorkflow(ctx context.Context, req fsm.Request) error {
	if h.svc.approvals == nil {
		return apperr.New(apperr.CodeInternal, "approval service not wired")
	}
	wf, err := h.svc.approvals.CreateWorkflow(ctx, h.negotiation.ID, req.ActorID)
	if err != nil {
		return err
	}
	h.refetch = true
	if wf.Status == domain.ApprovalApproved {
		// Zero-step template: the workflow is born approved and the
		// negotiation completes right after this transition lands.
		actorID := req.ActorID
		h.followups = append(h.followups, func(ctx context.Context) error {
			_, err := h.svc.ExecuteTransition(ctx, h.negotiation.ID, fsm.TransitionComplete, actorID, nil)
			return err
		})
	}
	return nil
}

// autoApprovalAllowed gates DIRECT_APPROVE transitions: the organization must
// have auto-approval enabled and the negotiation's aggregate proposed amount
// must not exceed its threshold.
func (s *NegotiationService) autoApprovalAllowed(ctx context.Context, n *domain.Negotiation) (bool, error) {
	settings, err := s.settings.GetOrgSettings(ctx, n.ClientID)
	if err != nil {
		return false, err
	}
	if !settings.AutoApprovalEnabled {
		return false, nil
	}
	rates, err := s.rates.GetByNegotiationID(ctx, n.ID)
	if err != nil {
		return false, err
	}
	aggregate := decimal.Zero
	for _, r := range rates {
		aggregate = aggregate.Add(r.Amount)
	}
	return aggregate.LessThanOrEqual(settings.AutoApprovalThreshold), nil
}

// counterRatesParam extracts and normalizes the counter_rates parameter.
// Handlers deliver map[string]decimal.Decimal; JSON-decoded input arrives as
// map[string]any with string amounts.
func counterRatesParam(params fsm.Params) (map[string]decimal.Decimal, error) {
	switch v := params[fsm.ParamCounterRates].(type) {
	case map[string]decimal.Decimal:
		if len(v) == 0 {
			return nil, apperr.InvalidInput(fsm.ParamCounterRates, "must not be empty")
		}
		return v, nil
	case map[string]any:
		out := make(map[string]decimal.Decimal, len(v))
		for rateID, raw := range v {
			str, ok := raw.(string)
			if !ok {
				return nil, apperr.InvalidInput(fsm.ParamCounterRates, "amounts must be decimal strings")
			}
			amount, err := decimal.NewFromString(str)
			if err != nil {
				return nil, apperr.InvalidInput(fsm.ParamCounterRates, "amounts must be decimal strings")
			}
			out[rateID] = amount
		}
		if len(out) == 0 {
			return nil, apperr.InvalidInput(fsm.ParamCounterRates, "must not be empty")
		}
		return out, nil
	default:
		return nil, apperr.InvalidInput(fsm.ParamCounterRates, "must be a map of rate id to amount")
	}
}

// auditParams strips bulky values out of transition params before they land
// in the ledger entry.
func auditParams(params fsm.Params) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if k == fsm.ParamCounterRates {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
