package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/database"
	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// NegotiationRepository handles negotiation persistence. Negotiations are
// soft-deleted only; no statement here removes a row.
type NegotiationRepository struct {
	db *database.DB
}

// NewNegotiationRepository creates a new NegotiationRepository.
func NewNegotiationRepository(db *database.DB) *NegotiationRepository {
	return &NegotiationRepository{db: db}
}

// Create inserts a new negotiation.
func (r *NegotiationRepository) Create(ctx context.Context, n *domain.Negotiation) error {
	query := `
		INSERT INTO negotiations
		    (client_id, firm_id, status, request_date,
		     submission_deadline, created_by)
		VALUES ($1, $2, $3::negotiation_status, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		n.ClientID,
		n.FirmID,
		string(n.Status),
		n.RequestDate,
		n.SubmissionDeadline,
		n.CreatedBy,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create negotiation")
	}
	return nil
}

// GetByID retrieves a negotiation with its associated rate ids.
func (r *NegotiationRepository) GetByID(ctx context.Context, id string) (*domain.Negotiation, error) {
	query := `
		SELECT id, client_id, firm_id, status, request_date,
		       submission_deadline, completion_date,
		       workflow_id, approval_status,
		       deleted, created_by, created_at, updated_at
		FROM negotiations
		WHERE id = $1 AND NOT deleted
	`

	n, err := r.scanNegotiation(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("negotiation", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get negotiation")
	}

	rateIDs, err := r.rateIDs(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	n.RateIDs = rateIDs

	return n, nil
}

// List retrieves negotiations with filtering and pagination.
func (r *NegotiationRepository) List(
	ctx context.Context,
	clientID, firmID *string,
	status *domain.NegotiationStatus,
	limit, offset int,
) ([]*domain.Negotiation, int64, error) {
	query := `
		SELECT id, client_id, firm_id, status, request_date,
		       submission_deadline, completion_date,
		       workflow_id, approval_status,
		       deleted, created_by, created_at, updated_at
		FROM negotiations
		WHERE NOT deleted
	`
	countQuery := `SELECT COUNT(*) FROM negotiations WHERE NOT deleted`

	args := []any{}
	argCount := 1

	if clientID != nil {
		clause := fmt.Sprintf(" AND client_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *clientID)
		argCount++
	}
	if firmID != nil {
		clause := fmt.Sprintf(" AND firm_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *firmID)
		argCount++
	}
	if status != nil {
		clause := fmt.Sprintf(" AND status = $%d::negotiation_status", argCount)
		query += clause
		countQuery += clause
		args = append(args, string(*status))
		argCount++
	}

	query += " ORDER BY request_date DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count negotiations")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list negotiations")
	}
	defer rows.Close()

	negotiations := make([]*domain.Negotiation, 0)
	for rows.Next() {
		n, err := r.scanNegotiation(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to scan negotiation")
		}
		negotiations = append(negotiations, n)
	}
	return negotiations, total, nil
}

// UpdateStatus sets the negotiation status. completionDate is stamped only
// for terminal statuses.
func (r *NegotiationRepository) UpdateStatus(ctx context.Context, id string, status domain.NegotiationStatus) error {
	var completion *time.Time
	if status.Terminal() {
		now := time.Now()
		completion = &now
	}

	query := `
		UPDATE negotiations
		SET status          = $2::negotiation_status,
		    completion_date = COALESCE($3, completion_date),
		    updated_at      = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, string(status), completion).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("negotiation", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update negotiation status")
	}
	return nil
}

// AttachWorkflow links an approval workflow to the negotiation and resets its
// aggregate approval status.
func (r *NegotiationRepository) AttachWorkflow(ctx context.Context, id, workflowID string, status domain.ApprovalStatus) error {
	query := `
		UPDATE negotiations
		SET workflow_id     = $2,
		    approval_status = $3::approval_status,
		    updated_at      = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, workflowID, string(status)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("negotiation", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to attach workflow")
	}
	return nil
}

// SetApprovalStatus updates the propagated aggregate approval status.
func (r *NegotiationRepository) SetApprovalStatus(ctx context.Context, id string, status domain.ApprovalStatus) error {
	query := `
		UPDATE negotiations
		SET approval_status = $2::approval_status,
		    updated_at      = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, string(status)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("negotiation", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to set approval status")
	}
	return nil
}

// SoftDelete flags a negotiation as deleted. The row and its audit trail
// remain.
func (r *NegotiationRepository) SoftDelete(ctx context.Context, id string) error {
	query := `
		UPDATE negotiations
		SET deleted    = TRUE,
		    updated_at = NOW()
		WHERE id = $1 AND NOT deleted
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to delete negotiation")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("negotiation", id)
	}
	return nil
}

// rateIDs loads the ids of the rates associated with a negotiation.
func (r *NegotiationRepository) rateIDs(ctx context.Context, negotiationID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM rates WHERE negotiation_id = $1 ORDER BY created_at`, negotiationID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get negotiation rate ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan rate id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type negotiationScanner interface {
	Scan(dest ...any) error
}

func (r *NegotiationRepository) scanNegotiation(row negotiationScanner) (*domain.Negotiation, error) {
	n := &domain.Negotiation{}
	var status string
	var approvalStatus *string

	err := row.Scan(
		&n.ID,
		&n.ClientID,
		&n.FirmID,
		&status,
		&n.RequestDate,
		&n.SubmissionDeadline,
		&n.CompletionDate,
		&n.WorkflowID,
		&approvalStatus,
		&n.Deleted,
		&n.CreatedBy,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = domain.NegotiationStatus(status)
	if approvalStatus != nil {
		as := domain.ApprovalStatus(*approvalStatus)
		n.ApprovalStatus = &as
	}
	return n, nil
}
