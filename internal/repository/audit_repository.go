package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/database"
	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// AuditRepository appends and reads immutable audit ledger entries. The table
// carries a delete-prevention trigger; Append is the only mutation exposed.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	detailsJSON, err := marshalJSON(entry.Details)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal audit details")
	}
	metadataJSON, err := marshalJSON(entry.Metadata)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal audit metadata")
	}

	query := `
		INSERT INTO audit_log
		    (entity_type, entity_id, action_type, actor_id, details, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, ts
	`

	err = r.db.QueryRow(ctx, query,
		string(entry.EntityType),
		entry.EntityID,
		entry.ActionType,
		entry.ActorID,
		detailsJSON,
		metadataJSON,
	).Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListByFilter returns audit entries matching the filter, oldest first
// unless Descending is set.
func (r *AuditRepository) ListByFilter(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, int64, error) {
	query := `
		SELECT id, ts, entity_type, entity_id, action_type, actor_id, details, metadata
		FROM audit_log
		WHERE entity_id = $1
	`
	countQuery := `SELECT COUNT(*) FROM audit_log WHERE entity_id = $1`

	args := []any{filter.EntityID}
	argCount := 2

	if filter.EntityType != nil {
		clause := fmt.Sprintf(" AND entity_type = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, string(*filter.EntityType))
		argCount++
	}
	if filter.ActionType != nil {
		clause := fmt.Sprintf(" AND action_type = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.ActionType)
		argCount++
	}
	if filter.ActorID != nil {
		clause := fmt.Sprintf(" AND actor_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.ActorID)
		argCount++
	}
	if filter.From != nil {
		clause := fmt.Sprintf(" AND ts >= $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.From)
		argCount++
	}
	if filter.To != nil {
		clause := fmt.Sprintf(" AND ts <= $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.To)
		argCount++
	}

	if filter.Descending {
		query += " ORDER BY ts DESC, id DESC"
	} else {
		query += " ORDER BY ts ASC, id ASC"
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, filter.Offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count audit entries")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	entries := make([]*domain.AuditEntry, 0)
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, nil
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// ── scan helper ───────────────────────────────────────────────────────────────

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *AuditRepository) scanEntry(sc auditScanner) (*domain.AuditEntry, error) {
	entry := &domain.AuditEntry{}
	var entityType string
	var detailsJSON, metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.Timestamp,
		&entityType,
		&entry.EntityID,
		&entry.ActionType,
		&entry.ActorID,
		&detailsJSON,
		&metadataJSON,
	)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan audit entry")
	}

	entry.EntityType = domain.EntityType(entityType)
	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal audit details")
		}
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal audit metadata")
		}
	}
	return entry, nil
}
