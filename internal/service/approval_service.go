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
)

// defaultApproverRole staffs the fallback single-step workflow used when no
// template matches a negotiation.
const defaultApproverRole = "BILLING_MANAGER"

// NegotiationTransitioner drives negotiation state transitions. The
// negotiation service implements it; the indirection breaks the construction
// cycle between the two services.
type NegotiationTransitioner interface {
	ExecuteTransition(ctx context.Context, negotiationID, transition, actorID string, params fsm.Params) (*domain.Negotiation, error)
}

// ApprovalService runs multi-step approval workflows: template matching,
// instantiation, sequential step actions, delegation, and cancellation.
type ApprovalService struct {
	workflows    WorkflowStore
	steps        StepStore
	negotiations NegotiationStore
	rates        RateStore
	settings     SettingsProvider
	audit        *AuditService
	notifier     Notifier
	locker       Locker
	transitioner NegotiationTransitioner
	log          *logger.Logger
}

// NewApprovalService creates a new ApprovalService. The negotiation
// transitioner is attached after construction via SetTransitioner.
func NewApprovalService(
	workflows WorkflowStore,
	steps StepStore,
	negotiations NegotiationStore,
	rates RateStore,
	settings SettingsProvider,
	audit *AuditService,
	notifier Notifier,
	locker Locker,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		workflows:    workflows,
		steps:        steps,
		negotiations: negotiations,
		rates:        rates,
		settings:     settings,
		audit:        audit,
		notifier:     notifier,
		locker:       locker,
		log:          log,
	}
}

// SetTransitioner attaches the negotiation transitioner. Must be called once
// during wiring, before the service handles requests.
func (s *ApprovalService) SetTransitioner(t NegotiationTransitioner) {
	s.transitioner = t
}

// AggregateStatus derives a workflow's status from its step rows.
//
// Any rejected step, required or optional, rejects the whole workflow. All
// required steps approved means approved; zero steps is vacuously approved.
// Any step with information requested puts the workflow in progress.
// Otherwise pending.
func AggregateStatus(steps []*domain.ApprovalStep) domain.ApprovalStatus {
	allRequiredApproved := true
	inProgress := false
	for _, step := range steps {
		if step.Status == domain.StepRejected {
			return domain.ApprovalRejected
		}
		if step.IsRequired && step.Status != domain.StepApproved {
			allRequiredApproved = false
		}
		if step.Status == domain.StepInProgress {
			inProgress = true
		}
	}
	if allRequiredApproved {
		return domain.ApprovalApproved
	}
	if inProgress {
		return domain.ApprovalInProgress
	}
	return domain.ApprovalPending
}

// CreateWorkflow matches a template to the negotiation and instantiates an
// approval workflow with one pending step row per template step. When no
// template matches, a single-step fallback assigned to the billing manager
// role is used. A template with zero steps approves immediately.
func (s *ApprovalService) CreateWorkflow(ctx context.Context, negotiationID, actorID string) (*domain.ApprovalWorkflow, error) {
	var result *domain.ApprovalWorkflow
	err := s.locker.WithNegotiationLock(ctx, negotiationID, func(ctx context.Context) error {
		negotiation, err := s.negotiations.GetByID(ctx, negotiationID)
		if err != nil {
			return err
		}
		if negotiation.Status.Terminal() {
			return apperr.Newf(apperr.CodeConflict,
				"cannot start approval for negotiation in status %s", negotiation.Status)
		}
		if existing, err := s.workflows.GetActiveByNegotiationID(ctx, negotiationID); err != nil {
			return err
		} else if existing != nil {
			return apperr.Newf(apperr.CodeConflict,
				"negotiation %s already has an active workflow %s", negotiationID, existing.ID)
		}

		rates, err := s.rates.GetByNegotiationID(ctx, negotiationID)
		if err != nil {
			return err
		}
		aggregate := decimal.Zero
		for _, r := range rates {
			aggregate = aggregate.Add(r.Amount)
		}

		template, err := s.settings.FindMatching(ctx, negotiation.ClientID, negotiation.FirmID, len(rates), aggregate)
		if err != nil {
			return err
		}

		templateSteps := []domain.TemplateStep{
			{Order: 1, ApproverRole: defaultApproverRole, Required: true},
		}
		var templateID *string
		if template != nil {
			templateSteps = template.Steps
			templateID = &template.ID
		}

		now := time.Now().UTC()
		wf := &domain.ApprovalWorkflow{
			ID:            uuid.NewString(),
			NegotiationID: negotiationID,
			OrgID:         negotiation.ClientID,
			TemplateID:    templateID,
			Status:        domain.ApprovalPending,
			TotalSteps:    len(templateSteps),
			CreatedBy:     actorID,
		}

		var steps []*domain.ApprovalStep
		if len(templateSteps) > 0 {
			wf.CurrentOrder = templateSteps[0].Order
			for _, ts := range templateSteps {
				step := &domain.ApprovalStep{
					ID:            uuid.NewString(),
					WorkflowID:    wf.ID,
					NegotiationID: negotiationID,
					OrgID:         wf.OrgID,
					StepOrder:     ts.Order,
					IsRequired:    ts.Required,
					Status:        domain.StepPending,
				}
				if ts.ApproverID != "" {
					id := ts.ApproverID
					step.ApproverID = &id
				}
				if ts.ApproverRole != "" {
					role := ts.ApproverRole
					step.ApproverRole = &role
				}
				if ts.TimeoutHours > 0 {
					due := now.Add(time.Duration(ts.TimeoutHours) * time.Hour)
					step.DueAt = &due
				}
				steps = append(steps, step)
			}
		} else {
			wf.Status = domain.ApprovalApproved
			wf.CompletedAt = &now
		}

		if err := s.workflows.Create(ctx, wf, steps); err != nil {
			return err
		}
		if err := s.negotiations.AttachWorkflow(ctx, negotiationID, wf.ID, wf.Status); err != nil {
			return err
		}

		s.audit.LogApprovalAction(ctx, wf.ID, negotiationID, wf.OrgID, actorID,
			domain.AuditWorkflowCreated, map[string]any{
				"template_id": templateID,
				"total_steps": wf.TotalSteps,
				"status":      string(wf.Status),
			})

		if len(steps) > 0 {
			s.notifyCurrentApprovers(wf, steps)
		}

		result = wf
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", result.ID).
		Str("negotiation_id", negotiationID).
		Int("total_steps", result.TotalSteps).
		Msg("Approval workflow created")

	return result, nil
}

// ProcessAction records an approve/reject/request_info on the workflow's
// current step. Steps are strictly sequential: acting on any other step order
// is a conflict, and only the step's approver (by id, delegation, or role)
// may act.
func (s *ApprovalService) ProcessAction(ctx context.Context, workflowID, stepID, actorID string, actorRoles []string, action domain.ApprovalAction, comment *string) (*domain.ApprovalWorkflow, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var result *domain.ApprovalWorkflow
	err = s.locker.WithNegotiationLock(ctx, wf.NegotiationID, func(ctx context.Context) error {
		wf, err := s.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return apperr.Newf(apperr.CodeConflict,
				"workflow %s is already %s", workflowID, wf.Status)
		}

		step, err := s.steps.GetByID(ctx, stepID)
		if err != nil {
			return err
		}
		if step.WorkflowID != workflowID {
			return apperr.InvalidInput("step_id", "step does not belong to this workflow")
		}
		if step.StepOrder != wf.CurrentOrder {
			return apperr.Newf(apperr.CodeConflict,
				"step %d is not the current step (current: %d)", step.StepOrder, wf.CurrentOrder)
		}
		if step.Status == domain.StepApproved || step.Status == domain.StepRejected {
			return apperr.Newf(apperr.CodeConflict, "step already acted on: %s", step.Status)
		}
		if !step.CanBeActedOnBy(actorID, actorRoles) {
			return apperr.Unauthorized("actor is not the assigned approver for this step")
		}

		var stepStatus domain.StepStatus
		switch action {
		case domain.ActionApprove:
			stepStatus = domain.StepApproved
		case domain.ActionReject:
			stepStatus = domain.StepRejected
		case domain.ActionRequestInfo:
			stepStatus = domain.StepInProgress
		default:
			return apperr.InvalidInput("action", "must be approve, reject, or request_info")
		}
		if err := s.steps.RecordAction(ctx, stepID, stepStatus, actorID, comment); err != nil {
			return err
		}

		steps, err := s.steps.GetByWorkflowID(ctx, workflowID)
		if err != nil {
			return err
		}
		aggregate := AggregateStatus(steps)

		now := time.Now().UTC()
		switch {
		case aggregate.Terminal():
			// A rejection short-circuits: remaining open steps are
			// cancelled, never waited on.
			if aggregate == domain.ApprovalRejected {
				if err := s.steps.CancelOpen(ctx, workflowID); err != nil {
					return err
				}
			}
			if err := s.workflows.UpdateStatus(ctx, workflowID, aggregate, &now); err != nil {
				return err
			}
			wf.Status = aggregate
			wf.CompletedAt = &now
		case action == domain.ActionApprove:
			next, ok := nextPendingOrder(steps, step.StepOrder)
			if !ok {
				// Only optional steps remain unapproved; aggregate said not
				// terminal, so keep the order in place.
				break
			}
			if err := s.workflows.AdvanceOrder(ctx, workflowID, next); err != nil {
				return err
			}
			wf.CurrentOrder = next
			s.notifyCurrentApprovers(wf, steps)
		}
		if !wf.Status.Terminal() && wf.Status != aggregate {
			if err := s.workflows.UpdateStatus(ctx, workflowID, aggregate, nil); err != nil {
				return err
			}
			wf.Status = aggregate
		}

		if err := s.negotiations.SetApprovalStatus(ctx, wf.NegotiationID, aggregate); err != nil {
			return err
		}

		s.audit.LogApprovalAction(ctx, workflowID, wf.NegotiationID, wf.OrgID, actorID,
			domain.AuditApprovalAction, map[string]any{
				"step_id":         stepID,
				"step_order":      step.StepOrder,
				"action":          string(action),
				"step_status":     string(stepStatus),
				"workflow_status": string(aggregate),
				"comment":         comment,
			})

		if aggregate.Terminal() {
			if s.notifier != nil {
				s.notifier.PublishNegotiationEvent("approval.completed", wf.NegotiationID, wf.OrgID,
					actorID, nil, map[string]any{
						"workflow_id": workflowID,
						"outcome":     string(aggregate),
					})
			}
			if err := s.completeNegotiation(ctx, wf.NegotiationID, actorID, aggregate); err != nil {
				return err
			}
		}

		result = wf
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", workflowID).
		Str("step_id", stepID).
		Str("actor_id", actorID).
		Str("action", string(action)).
		Str("workflow_status", string(result.Status)).
		Msg("Approval action processed")

	return result, nil
}

// Delegate reassigns the workflow's current step to another approver. Only
// the step's current approver may delegate it.
func (s *ApprovalService) Delegate(ctx context.Context, workflowID, stepID, actorID string, actorRoles []string, delegateTo, reason string) error {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	return s.locker.WithNegotiationLock(ctx, wf.NegotiationID, func(ctx context.Context) error {
		wf, err := s.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return apperr.Newf(apperr.CodeConflict, "workflow %s is already %s", workflowID, wf.Status)
		}

		step, err := s.steps.GetByID(ctx, stepID)
		if err != nil {
			return err
		}
		if step.WorkflowID != workflowID {
			return apperr.InvalidInput("step_id", "step does not belong to this workflow")
		}
		if step.StepOrder != wf.CurrentOrder {
			return apperr.Newf(apperr.CodeConflict,
				"only the current step can be delegated (current: %d)", wf.CurrentOrder)
		}
		if !step.CanBeActedOnBy(actorID, actorRoles) {
			return apperr.Unauthorized("actor is not the assigned approver for this step")
		}
		if delegateTo == "" {
			return apperr.InvalidInput("delegate_to", "is required")
		}

		if err := s.steps.Delegate(ctx, stepID, delegateTo, reason); err != nil {
			return err
		}

		s.audit.LogApprovalAction(ctx, workflowID, wf.NegotiationID, wf.OrgID, actorID,
			domain.AuditApprovalDelegated, map[string]any{
				"step_id":      stepID,
				"step_order":   step.StepOrder,
				"delegated_to": delegateTo,
				"reason":       reason,
			})

		if s.notifier != nil {
			s.notifier.PublishNegotiationEvent("approval.delegated", wf.NegotiationID, wf.OrgID,
				actorID, []string{delegateTo}, map[string]any{
					"workflow_id": workflowID,
					"step_id":     stepID,
				})
		}
		return nil
	})
}

// Cancel aborts an active workflow: open steps are cancelled, the workflow
// and negotiation approval status become cancelled, and the negotiation is
// rejected.
func (s *ApprovalService) Cancel(ctx context.Context, workflowID, actorID, reason string) error {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	return s.locker.WithNegotiationLock(ctx, wf.NegotiationID, func(ctx context.Context) error {
		wf, err := s.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return apperr.Newf(apperr.CodeConflict, "workflow %s is already %s", workflowID, wf.Status)
		}

		if err := s.steps.CancelOpen(ctx, workflowID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := s.workflows.UpdateStatus(ctx, workflowID, domain.ApprovalCancelled, &now); err != nil {
			return err
		}
		if err := s.negotiations.SetApprovalStatus(ctx, wf.NegotiationID, domain.ApprovalCancelled); err != nil {
			return err
		}

		s.audit.LogApprovalAction(ctx, workflowID, wf.NegotiationID, wf.OrgID, actorID,
			domain.AuditWorkflowCancelled, map[string]any{"reason": reason})

		return s.completeNegotiation(ctx, wf.NegotiationID, actorID, domain.ApprovalCancelled)
	})
}

// PendingApprovals lists the steps currently awaiting action by the given
// approver across all active workflows in the organization.
func (s *ApprovalService) PendingApprovals(ctx context.Context, orgID, approverID string, roles []string) ([]*domain.ApprovalStep, error) {
	return s.steps.GetPendingForApprover(ctx, orgID, approverID, roles)
}

// WorkflowSteps returns the workflow and its step rows, which double as its
// approval history.
func (s *ApprovalService) WorkflowSteps(ctx context.Context, workflowID string) (*domain.ApprovalWorkflow, []*domain.ApprovalStep, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.steps.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	return wf, steps, nil
}

// CreateTemplate registers a workflow template. Step order duplicates are
// rejected at this boundary.
func (s *ApprovalService) CreateTemplate(ctx context.Context, t *domain.WorkflowTemplate) (*domain.WorkflowTemplate, error) {
	if t.OrgID == "" {
		return nil, apperr.InvalidInput("org_id", "is required")
	}
	if t.Name == "" {
		return nil, apperr.InvalidInput("name", "is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := s.settings.Create(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("template_id", t.ID).
		Str("org_id", t.OrgID).
		Int("steps", len(t.Steps)).
		Msg("Workflow template created")
	return t, nil
}

// ListTemplates lists an organization's workflow templates.
func (s *ApprovalService) ListTemplates(ctx context.Context, orgID string, activeOnly bool) ([]*domain.WorkflowTemplate, error) {
	return s.settings.List(ctx, orgID, activeOnly)
}

// completeNegotiation propagates a terminal workflow outcome onto the
// negotiation through its own state machine.
func (s *ApprovalService) completeNegotiation(ctx context.Context, negotiationID, actorID string, outcome domain.ApprovalStatus) error {
	if s.transitioner == nil {
		return apperr.New(apperr.CodeInternal, "negotiation transitioner not wired")
	}
	transition := fsm.TransitionComplete
	if outcome != domain.ApprovalApproved {
		transition = fsm.TransitionReject
	}
	_, err := s.transitioner.ExecuteTransition(ctx, negotiationID, transition, actorID, nil)
	return err
}

// notifyCurrentApprovers pushes a notification to the approvers of the
// workflow's current step, fire-and-forget.
func (s *ApprovalService) notifyCurrentApprovers(wf *domain.ApprovalWorkflow, steps []*domain.ApprovalStep) {
	if s.notifier == nil {
		return
	}
	var recipients []string
	for _, step := range steps {
		if step.StepOrder != wf.CurrentOrder || step.Status != domain.StepPending {
			continue
		}
		switch {
		case step.DelegatedTo != nil:
			recipients = append(recipients, *step.DelegatedTo)
		case step.ApproverID != nil:
			recipients = append(recipients, *step.ApproverID)
		case step.ApproverRole != nil:
			recipients = append(recipients, "role:"+*step.ApproverRole)
		}
	}
	if len(recipients) == 0 {
		return
	}
	s.notifier.PublishNegotiationEvent("approval.step_ready", wf.NegotiationID, wf.OrgID, "",
		recipients, map[string]any{
			"workflow_id":   wf.ID,
			"current_order": wf.CurrentOrder,
		})
}

// nextPendingOrder finds the lowest step order greater than after that still
// has an open step.
func nextPendingOrder(steps []*domain.ApprovalStep, after int) (int, bool) {
	next := 0
	for _, step := range steps {
		if step.StepOrder <= after {
			continue
		}
		if step.Status != domain.StepPending && step.Status != domain.StepInProgress {
			continue
		}
		if next == 0 || step.StepOrder < next {
			next = step.StepOrder
		}
	}
	return next, next != 0
}
