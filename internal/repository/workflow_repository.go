package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/database"
	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// WorkflowRepository manages approval workflow instances and their step rows.
// Workflow + step creation is always done together; callers run it inside the
// negotiation's locked transaction.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create inserts a workflow and its initial step rows.
func (r *WorkflowRepository) Create(ctx context.Context, wf *domain.ApprovalWorkflow, steps []*domain.ApprovalStep) error {
	wfQuery := `
		INSERT INTO approval_workflows
		    (negotiation_id, org_id, template_id, status,
		     total_steps, current_order, created_by)
		VALUES ($1, $2, $3, $4::approval_status, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, wfQuery,
		wf.NegotiationID,
		wf.OrgID,
		wf.TemplateID,
		string(wf.Status),
		wf.TotalSteps,
		wf.CurrentOrder,
		wf.CreatedBy,
	).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval workflow")
	}

	stepQuery := `
		INSERT INTO approval_steps
		    (workflow_id, negotiation_id, org_id,
		     step_order, approver_id, approver_role, is_required,
		     due_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::approval_step_status)
		RETURNING id, created_at, updated_at
	`

	for _, step := range steps {
		step.WorkflowID = wf.ID
		step.NegotiationID = wf.NegotiationID
		step.OrgID = wf.OrgID

		err := r.db.QueryRow(ctx, stepQuery,
			step.WorkflowID,
			step.NegotiationID,
			step.OrgID,
			step.StepOrder,
			step.ApproverID,
			step.ApproverRole,
			step.IsRequired,
			step.DueAt,
			string(step.Status),
		).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval step")
		}
	}

	return nil
}

// GetByID retrieves a workflow by its primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalWorkflow, error) {
	query := `
		SELECT id, negotiation_id, org_id, template_id, status,
		       total_steps, current_order, created_by,
		       completed_at, created_at, updated_at
		FROM approval_workflows
		WHERE id = $1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("approval_workflow", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval workflow")
	}
	return wf, nil
}

// GetActiveByNegotiationID returns the most recent non-terminal workflow for
// a negotiation, or nil when none exists.
func (r *WorkflowRepository) GetActiveByNegotiationID(ctx context.Context, negotiationID string) (*domain.ApprovalWorkflow, error) {
	query := `
		SELECT id, negotiation_id, org_id, template_id, status,
		       total_steps, current_order, created_by,
		       completed_at, created_at, updated_at
		FROM approval_workflows
		WHERE negotiation_id = $1
		  AND status IN ('pending', 'in_progress')
		ORDER BY created_at DESC
		LIMIT 1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, negotiationID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get active workflow")
	}
	return wf, nil
}

// UpdateStatus sets the workflow status and optionally stamps completed_at.
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, id string, status domain.ApprovalStatus, completedAt *time.Time) error {
	query := `
		UPDATE approval_workflows
		SET status       = $2::approval_status,
		    completed_at = $3,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, string(status), completedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("approval_workflow", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update workflow status")
	}
	return nil
}

// AdvanceOrder moves the workflow's active step pointer.
func (r *WorkflowRepository) AdvanceOrder(ctx context.Context, id string, nextOrder int) error {
	query := `
		UPDATE approval_workflows
		SET current_order = $2,
		    status        = 'in_progress'::approval_status,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, nextOrder).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("approval_workflow", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to advance workflow")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row workflowScanner) (*domain.ApprovalWorkflow, error) {
	wf := &domain.ApprovalWorkflow{}
	var status string

	err := row.Scan(
		&wf.ID,
		&wf.NegotiationID,
		&wf.OrgID,
		&wf.TemplateID,
		&status,
		&wf.TotalSteps,
		&wf.CurrentOrder,
		&wf.CreatedBy,
		&wf.CompletedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	wf.Status = domain.ApprovalStatus(status)
	return wf, nil
}
