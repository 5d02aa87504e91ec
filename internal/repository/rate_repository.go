package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/database"
	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// RateRepository handles rate persistence. Rates are retained indefinitely;
// there is no delete.
type RateRepository struct {
	db *database.DB
}

// NewRateRepository creates a new RateRepository.
func NewRateRepository(db *database.DB) *RateRepository {
	return &RateRepository{db: db}
}

const rateColumns = `
	id, negotiation_id, client_id, firm_id, attorney_id,
	amount, current_rate, currency, rate_type, status,
	effective_date, expiration_date, created_at, updated_at
`

// Create inserts a new rate.
func (r *RateRepository) Create(ctx context.Context, rate *domain.Rate) error {
	query := `
		INSERT INTO rates
		    (negotiation_id, client_id, firm_id, attorney_id,
		     amount, current_rate, currency, rate_type, status,
		     effective_date, expiration_date)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8::rate_type, $9::rate_status,
		        $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rate.NegotiationID,
		rate.ClientID,
		rate.FirmID,
		rate.AttorneyID,
		rate.Amount,
		rate.CurrentRate,
		rate.Currency,
		string(rate.Type),
		string(rate.Status),
		rate.EffectiveDate,
		rate.ExpirationDate,
	).Scan(&rate.ID, &rate.CreatedAt, &rate.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create rate")
	}
	return nil
}

// GetByID retrieves a rate by primary key.
func (r *RateRepository) GetByID(ctx context.Context, id string) (*domain.Rate, error) {
	query := `SELECT ` + rateColumns + ` FROM rates WHERE id = $1`

	rate, err := r.scanRate(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("rate", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get rate")
	}
	return rate, nil
}

// GetByNegotiationID returns all rates belonging to a negotiation, oldest
// first.
func (r *RateRepository) GetByNegotiationID(ctx context.Context, negotiationID string) ([]*domain.Rate, error) {
	query := `SELECT ` + rateColumns + ` FROM rates WHERE negotiation_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, negotiationID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get negotiation rates")
	}
	defer rows.Close()

	rates := make([]*domain.Rate, 0)
	for rows.Next() {
		rate, err := r.scanRate(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan rate")
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

// UpdateStatus sets a rate's status and type.
func (r *RateRepository) UpdateStatus(ctx context.Context, id string, status domain.RateStatus, rateType domain.RateType) error {
	query := `
		UPDATE rates
		SET status     = $2::rate_status,
		    rate_type  = $3::rate_type,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, string(status), string(rateType)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("rate", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update rate status")
	}
	return nil
}

// UpdateAmount sets a rate's amount alongside its status and type, used when
// a counter-proposal is accepted.
func (r *RateRepository) UpdateAmount(ctx context.Context, id string, amount decimal.Decimal, status domain.RateStatus, rateType domain.RateType) error {
	query := `
		UPDATE rates
		SET amount     = $2,
		    status     = $3::rate_status,
		    rate_type  = $4::rate_type,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, amount, string(status), string(rateType)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("rate", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update rate amount")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type rateScanner interface {
	Scan(dest ...any) error
}

func (r *RateRepository) scanRate(row rateScanner) (*domain.Rate, error) {
	rate := &domain.Rate{}
	var rateType, status string

	err := row.Scan(
		&rate.ID,
		&rate.NegotiationID,
		&rate.ClientID,
		&rate.FirmID,
		&rate.AttorneyID,
		&rate.Amount,
		&rate.CurrentRate,
		&rate.Currency,
		&rateType,
		&status,
		&rate.EffectiveDate,
		&rate.ExpirationDate,
		&rate.CreatedAt,
		&rate.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rate.Type = domain.RateType(rateType)
	rate.Status = domain.RateStatus(status)
	return rate, nil
}
