package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// The services depend on narrow interfaces so collaborators can be swapped
// and faked. The pgx repositories and NATS/HTTP clients implement them.

// NegotiationStore persists negotiations.
type NegotiationStore interface {
	Create(ctx context.Context, n *domain.Negotiation) error
	GetByID(ctx context.Context, id string) (*domain.Negotiation, error)
	List(ctx context.Context, clientID, firmID *string, status *domain.NegotiationStatus, limit, offset int) ([]*domain.Negotiation, int64, error)
	UpdateStatus(ctx context.Context, id string, status domain.NegotiationStatus) error
	AttachWorkflow(ctx context.Context, id, workflowID string, status domain.ApprovalStatus) error
	SetApprovalStatus(ctx context.Context, id string, status domain.ApprovalStatus) error
	SoftDelete(ctx context.Context, id string) error
}

// RateStore persists rates.
type RateStore interface {
	Create(ctx context.Context, rate *domain.Rate) error
	GetByID(ctx context.Context, id string) (*domain.Rate, error)
	GetByNegotiationID(ctx context.Context, negotiationID string) ([]*domain.Rate, error)
	UpdateStatus(ctx context.Context, id string, status domain.RateStatus, rateType domain.RateType) error
	UpdateAmount(ctx context.Context, id string, amount decimal.Decimal, status domain.RateStatus, rateType domain.RateType) error
}

// WorkflowStore persists approval workflow instances.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.ApprovalWorkflow, steps []*domain.ApprovalStep) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalWorkflow, error)
	GetActiveByNegotiationID(ctx context.Context, negotiationID string) (*domain.ApprovalWorkflow, error)
	UpdateStatus(ctx context.Context, id string, status domain.ApprovalStatus, completedAt *time.Time) error
	AdvanceOrder(ctx context.Context, id string, nextOrder int) error
}

// StepStore persists approval step rows.
type StepStore interface {
	GetByWorkflowID(ctx context.Context, workflowID string) ([]*domain.ApprovalStep, error)
	GetByID(ctx context.Context, id string) (*domain.ApprovalStep, error)
	GetPendingForApprover(ctx context.Context, orgID, approverID string, roles []string) ([]*domain.ApprovalStep, error)
	RecordAction(ctx context.Context, id string, status domain.StepStatus, actedBy string, comment *string) error
	Delegate(ctx context.Context, id, delegatedTo, reason string) error
	CancelOpen(ctx context.Context, workflowID string) error
}

// SettingsProvider supplies workflow templates and organization settings.
// Organizations without configuration get defaults.
type SettingsProvider interface {
	Create(ctx context.Context, t *domain.WorkflowTemplate) error
	List(ctx context.Context, orgID string, activeOnly bool) ([]*domain.WorkflowTemplate, error)
	FindMatching(ctx context.Context, orgID, firmID string, rateCount int, aggregateAmount decimal.Decimal) (*domain.WorkflowTemplate, error)
	GetOrgSettings(ctx context.Context, orgID string) (domain.OrgSettings, error)
}

// AuditStore appends and reads ledger entries.
type AuditStore interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByFilter(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, int64, error)
}

// Locker serializes mutations per negotiation id. Nested calls with the same
// context run inside the already-held lock.
type Locker interface {
	WithNegotiationLock(ctx context.Context, negotiationID string, fn func(ctx context.Context) error) error
}

// Notifier dispatches approver notifications, fire-and-forget.
type Notifier interface {
	PublishNegotiationEvent(eventType, negotiationID, orgID, actorID string, recipients []string, payload map[string]any)
}

// AnalyticsSink receives audit events, best-effort.
type AnalyticsSink interface {
	Track(eventType, actorID, orgID string, data map[string]any)
}

// RecommendationClient suggests counter amounts. Any failure is treated as
// "no suggestion" by callers.
type RecommendationClient interface {
	SuggestCounterRate(ctx context.Context, rateID, attorneyID string, currentAmount, proposedAmount decimal.Decimal, currency string, isClient bool) (decimal.Decimal, error)
}
