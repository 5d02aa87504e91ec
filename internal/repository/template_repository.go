package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/database"
	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// TemplateRepository handles workflow templates and per-organization
// settings. It backs the organization settings provider: organizations
// without rows fall back to defaults.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `
	id, org_id, name, is_active,
	firm_id, min_rate_count, max_rate_count, min_amount, max_amount,
	steps, priority, created_at, updated_at
`

// Create inserts a workflow template. Templates with duplicate step orders
// are rejected.
func (r *TemplateRepository) Create(ctx context.Context, t *domain.WorkflowTemplate) error {
	if err := validateTemplateSteps(t.Steps); err != nil {
		return err
	}

	stepsJSON, err := json.Marshal(t.Steps)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal template steps")
	}

	query := `
		INSERT INTO workflow_templates
		    (org_id, name, is_active,
		     firm_id, min_rate_count, max_rate_count, min_amount, max_amount,
		     steps, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		t.OrgID,
		t.Name,
		t.IsActive,
		t.FirmID,
		t.MinRateCount,
		t.MaxRateCount,
		t.MinAmount,
		t.MaxAmount,
		stepsJSON,
		t.Priority,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create workflow template")
	}
	return nil
}

// List returns an organization's templates, optionally active only, in
// priority order.
func (r *TemplateRepository) List(ctx context.Context, orgID string, activeOnly bool) ([]*domain.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE org_id = $1`
	if activeOnly {
		query += " AND is_active"
	}
	query += " ORDER BY priority ASC, name ASC"

	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list workflow templates")
	}
	defer rows.Close()

	var templates []*domain.WorkflowTemplate
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// FindMatching evaluates an organization's active templates in priority
// order and returns the first whose criteria match the negotiation's firm,
// rate count, and aggregate amount. Returns nil when nothing matches.
// A matching template with duplicate step orders is rejected rather than
// instantiated with an ambiguous execution order.
func (r *TemplateRepository) FindMatching(
	ctx context.Context,
	orgID, firmID string,
	rateCount int,
	aggregateAmount decimal.Decimal,
) (*domain.WorkflowTemplate, error) {
	templates, err := r.List(ctx, orgID, true)
	if err != nil {
		return nil, err
	}

	for _, t := range templates {
		if !templateMatches(t, firmID, rateCount, aggregateAmount) {
			continue
		}
		if err := validateTemplateSteps(t.Steps); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, nil
}

// templateMatches returns true when every configured criterion matches.
// All range bounds are inclusive.
func templateMatches(t *domain.WorkflowTemplate, firmID string, rateCount int, amount decimal.Decimal) bool {
	if t.FirmID != nil && *t.FirmID != firmID {
		return false
	}
	if t.MinRateCount != nil && rateCount < *t.MinRateCount {
		return false
	}
	if t.MaxRateCount != nil && rateCount > *t.MaxRateCount {
		return false
	}
	if t.MinAmount != nil && amount.LessThan(*t.MinAmount) {
		return false
	}
	if t.MaxAmount != nil && amount.GreaterThan(*t.MaxAmount) {
		return false
	}
	return true
}

// validateTemplateSteps rejects templates whose step orders collide.
func validateTemplateSteps(steps []domain.TemplateStep) error {
	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if seen[s.Order] {
			return apperr.Newf(apperr.CodeValidation,
				"steps: duplicate step order %d in workflow template", s.Order)
		}
		seen[s.Order] = true
	}
	return nil
}

// GetOrgSettings loads an organization's rate rules and auto-approval
// policy. Organizations without a row get defaults.
func (r *TemplateRepository) GetOrgSettings(ctx context.Context, orgID string) (domain.OrgSettings, error) {
	query := `
		SELECT freeze_months, notice_days,
		       window_start_month, window_start_day,
		       window_end_month, window_end_day,
		       max_increase_percent,
		       auto_approval_enabled, auto_approval_threshold
		FROM org_settings
		WHERE org_id = $1
	`

	settings := domain.OrgSettings{OrgID: orgID}
	err := r.db.QueryRow(ctx, query, orgID).Scan(
		&settings.Rules.FreezeMonths,
		&settings.Rules.NoticeDays,
		&settings.Rules.WindowStartMonth,
		&settings.Rules.WindowStartDay,
		&settings.Rules.WindowEndMonth,
		&settings.Rules.WindowEndDay,
		&settings.Rules.MaxIncreasePercent,
		&settings.AutoApprovalEnabled,
		&settings.AutoApprovalThreshold,
	)
	if err == pgx.ErrNoRows {
		return domain.DefaultOrgSettings(orgID), nil
	}
	if err != nil {
		return domain.OrgSettings{}, apperr.Wrap(err, apperr.CodeInternal, "failed to get org settings")
	}
	return settings, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func (r *TemplateRepository) scanTemplate(row templateScanner) (*domain.WorkflowTemplate, error) {
	t := &domain.WorkflowTemplate{}
	var stepsJSON []byte

	err := row.Scan(
		&t.ID,
		&t.OrgID,
		&t.Name,
		&t.IsActive,
		&t.FirmID,
		&t.MinRateCount,
		&t.MaxRateCount,
		&t.MinAmount,
		&t.MaxAmount,
		&stepsJSON,
		&t.Priority,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan workflow template")
	}

	if err := json.Unmarshal(stepsJSON, &t.Steps); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal template steps")
	}
	return t, nil
}
