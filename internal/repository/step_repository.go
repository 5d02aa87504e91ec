package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/database"
	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// StepRepository handles reads and updates on individual approval steps.
// Step creation is handled by WorkflowRepository.Create.
type StepRepository struct {
	db *database.DB
}

// NewStepRepository creates a new StepRepository.
func NewStepRepository(db *database.DB) *StepRepository {
	return &StepRepository{db: db}
}

const stepColumns = `
	id, workflow_id, negotiation_id, org_id,
	step_order, approver_id, approver_role, is_required, due_at,
	delegated_to, delegated_at, delegated_reason,
	status, acted_by, acted_at, comment,
	created_at, updated_at
`

// GetByWorkflowID returns all step rows for a workflow ordered by step_order.
func (r *StepRepository) GetByWorkflowID(ctx context.Context, workflowID string) ([]*domain.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetByID returns one step row.
func (r *StepRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE id = $1`

	step, err := r.scanStep(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("approval_step", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval step")
	}
	return step, nil
}

// GetPendingForApprover returns all pending steps awaiting a specific
// approver (directly assigned, delegated, or matching one of their roles) in
// active workflows of an organization.
func (r *StepRepository) GetPendingForApprover(ctx context.Context, orgID, approverID string, roles []string) ([]*domain.ApprovalStep, error) {
	query := `
		SELECT s.id, s.workflow_id, s.negotiation_id, s.org_id,
		       s.step_order, s.approver_id, s.approver_role, s.is_required, s.due_at,
		       s.delegated_to, s.delegated_at, s.delegated_reason,
		       s.status, s.acted_by, s.acted_at, s.comment,
		       s.created_at, s.updated_at
		FROM approval_steps s
		JOIN approval_workflows w ON w.id = s.workflow_id
		WHERE s.org_id = $1
		  AND s.status IN ('pending', 'in_progress')
		  AND w.status IN ('pending', 'in_progress')
		  AND s.step_order = w.current_order
		  AND (s.delegated_to = $2
		       OR (s.delegated_to IS NULL AND s.approver_id = $2)
		       OR (s.delegated_to IS NULL AND s.approver_id IS NULL AND s.approver_role = ANY($3)))
		ORDER BY s.due_at ASC NULLS LAST, s.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, orgID, approverID, roles)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// RecordAction records the outcome of an approval action on a step.
func (r *StepRepository) RecordAction(ctx context.Context, id string, status domain.StepStatus, actedBy string, comment *string) error {
	query := `
		UPDATE approval_steps
		SET status     = $2::approval_step_status,
		    acted_by   = $3,
		    acted_at   = NOW(),
		    comment    = $4,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, string(status), actedBy, comment).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("approval_step", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to record step action")
	}
	return nil
}

// Delegate reassigns a pending step to another approver, keeping the
// delegation details on the row.
func (r *StepRepository) Delegate(ctx context.Context, id, delegatedTo, reason string) error {
	query := `
		UPDATE approval_steps
		SET delegated_to     = $2,
		    delegated_at     = NOW(),
		    delegated_reason = $3,
		    updated_at       = NOW()
		WHERE id = $1
		  AND status IN ('pending', 'in_progress')
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, delegatedTo, reason).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.New(apperr.CodeConflict, "step not found or already resolved")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to delegate step")
	}
	return nil
}

// CancelOpen marks all unresolved steps of a workflow cancelled.
func (r *StepRepository) CancelOpen(ctx context.Context, workflowID string) error {
	query := `
		UPDATE approval_steps
		SET status     = 'cancelled'::approval_step_status,
		    updated_at = NOW()
		WHERE workflow_id = $1
		  AND status IN ('pending', 'in_progress')
	`

	if _, err := r.db.Exec(ctx, query, workflowID); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to cancel steps")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type stepScanner interface {
	Scan(dest ...any) error
}

func (r *StepRepository) scanStep(row stepScanner) (*domain.ApprovalStep, error) {
	s := &domain.ApprovalStep{}
	var status string

	err := row.Scan(
		&s.ID,
		&s.WorkflowID,
		&s.NegotiationID,
		&s.OrgID,
		&s.StepOrder,
		&s.ApproverID,
		&s.ApproverRole,
		&s.IsRequired,
		&s.DueAt,
		&s.DelegatedTo,
		&s.DelegatedAt,
		&s.DelegatedReason,
		&status,
		&s.ActedBy,
		&s.ActedAt,
		&s.Comment,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = domain.StepStatus(status)
	return s, nil
}

func (r *StepRepository) scanRows(rows pgx.Rows) ([]*domain.ApprovalStep, error) {
	var steps []*domain.ApprovalStep
	for rows.Next() {
		s, err := r.scanStep(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	return steps, nil
}
