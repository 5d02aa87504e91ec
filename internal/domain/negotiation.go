package domain

import "time"

// NegotiationStatus is the coarse lifecycle state of a negotiation.
type NegotiationStatus string

const (
	NegotiationRequested  NegotiationStatus = "requested"
	NegotiationInProgress NegotiationStatus = "in_progress"
	NegotiationCompleted  NegotiationStatus = "completed"
	NegotiationRejected   NegotiationStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s NegotiationStatus) Terminal() bool {
	return s == NegotiationCompleted || s == NegotiationRejected
}

// ApprovalStatus is the derived aggregate status of a negotiation's approval
// workflow. It is never set directly; it is recomputed from step rows.
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalInProgress ApprovalStatus = "in_progress"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalRejected   ApprovalStatus = "rejected"
	ApprovalCancelled  ApprovalStatus = "cancelled"
)

// Terminal reports whether the workflow can take no further actions.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalCancelled
}

// Negotiation is a client↔firm rate negotiation case.
//
// CompletionDate is set only when Status enters a terminal state. A workflow
// may be attached only while the negotiation is still pre-approval. Rows are
// never physically deleted; Deleted is a soft-delete flag.
type Negotiation struct {
	ID                 string
	ClientID           string
	FirmID             string
	Status             NegotiationStatus
	RequestDate        time.Time
	SubmissionDeadline *time.Time
	CompletionDate     *time.Time
	WorkflowID         *string
	ApprovalStatus     *ApprovalStatus
	RateIDs            []string
	Deleted            bool
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
