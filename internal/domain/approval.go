package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TemplateStep is one entry in a workflow template's steps JSONB array.
// Exactly one of ApproverID / ApproverRole names the approver.
type TemplateStep struct {
	Order        int    `json:"order"`
	ApproverID   string `json:"approver_id,omitempty"`
	ApproverRole string `json:"approver_role,omitempty"`
	Required     bool   `json:"required"`
	TimeoutHours int    `json:"timeout_hours,omitempty"`
}

// WorkflowTemplate is a reusable, organization-owned approval workflow
// definition. Templates are matched against a negotiation by criteria and
// evaluated in ascending priority order.
type WorkflowTemplate struct {
	ID           string
	OrgID        string
	Name         string
	IsActive     bool
	FirmID       *string          // optional firm match
	MinRateCount *int             // optional lower bound on rate count
	MaxRateCount *int             // optional upper bound on rate count
	MinAmount    *decimal.Decimal // optional lower bound on aggregate amount
	MaxAmount    *decimal.Decimal // optional upper bound on aggregate amount
	Steps        []TemplateStep
	Priority     int // lower = evaluated first
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ApprovalWorkflow is a workflow instance attached to one negotiation for its
// lifetime. Status is the derived aggregate of its step rows.
type ApprovalWorkflow struct {
	ID            string
	NegotiationID string
	OrgID         string
	TemplateID    *string
	Status        ApprovalStatus
	TotalSteps    int
	CurrentOrder  int
	CreatedBy     string
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StepStatus is the state of one approval step row.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress" // information requested
	StepApproved   StepStatus = "approved"
	StepRejected   StepStatus = "rejected"
	StepCancelled  StepStatus = "cancelled"
)

// ApprovalAction is an action taken on a step.
type ApprovalAction string

const (
	ActionApprove     ApprovalAction = "approve"
	ActionReject      ApprovalAction = "reject"
	ActionRequestInfo ApprovalAction = "request_info"
)

// ApprovalStep is the per-negotiation, per-step record of an approval
// workflow. One row is instantiated per template step with status pending;
// the rows double as the workflow's approval history.
type ApprovalStep struct {
	ID              string
	WorkflowID      string
	NegotiationID   string
	OrgID           string
	StepOrder       int
	ApproverID      *string
	ApproverRole    *string
	IsRequired      bool
	DueAt           *time.Time
	DelegatedTo     *string
	DelegatedAt     *time.Time
	DelegatedReason *string
	Status          StepStatus
	ActedBy         *string
	ActedAt         *time.Time
	Comment         *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanBeActedOnBy reports whether actorID (holding actorRoles) is the step's
// assigned approver, by id, delegation, or role.
func (s *ApprovalStep) CanBeActedOnBy(actorID string, actorRoles []string) bool {
	if s.DelegatedTo != nil {
		return *s.DelegatedTo == actorID
	}
	if s.ApproverID != nil && *s.ApproverID == actorID {
		return true
	}
	if s.ApproverRole != nil {
		for _, role := range actorRoles {
			if role == *s.ApproverRole {
				return true
			}
		}
	}
	return false
}
