package domain

import "time"

// EntityType identifies what an audit entry refers to.
type EntityType string

const (
	EntityNegotiation EntityType = "negotiation"
	EntityRate        EntityType = "rate"
	EntityWorkflow    EntityType = "approval_workflow"
)

// Audit action types. Every mutating action across the service produces
// exactly one entry with one of these.
const (
	AuditNegotiationCreated = "negotiation_created"
	AuditStateChanged       = "state_changed"
	AuditRateSubmitted      = "rate_submitted"
	AuditRateChanged        = "rate_changed"
	AuditCounterProposed    = "counter_proposed"
	AuditCounterAccepted    = "counter_accepted"
	AuditCounterRejected    = "counter_rejected"
	AuditWorkflowCreated    = "workflow_created"
	AuditApprovalAction     = "approval_action"
	AuditApprovalDelegated  = "approval_delegated"
	AuditWorkflowCancelled  = "workflow_cancelled"
)

// AuditEntry is one immutable record in the audit ledger. Entries are only
// ever appended and read back filtered/paginated.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	EntityType EntityType
	EntityID   string
	ActionType string
	ActorID    string
	Details    map[string]any
	Metadata   map[string]any
}

// AuditFilter narrows audit trail reads.
type AuditFilter struct {
	EntityType *EntityType
	EntityID   string
	ActionType *string
	ActorID    *string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
	Descending bool
}
