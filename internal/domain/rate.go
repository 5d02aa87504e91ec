package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateStatus is the fine-grained lifecycle state of a single rate. It drives
// counter-proposal rounds and export.
type RateStatus string

const (
	RateDraft                 RateStatus = "draft"
	RateSubmitted             RateStatus = "submitted"
	RateUnderReview           RateStatus = "under_review"
	RateClientApproved        RateStatus = "client_approved"
	RateClientRejected        RateStatus = "client_rejected"
	RateClientCounterProposed RateStatus = "client_counter_proposed"
	RateFirmAccepted          RateStatus = "firm_accepted"
	RateFirmCounterProposed   RateStatus = "firm_counter_proposed"
	RatePendingApproval       RateStatus = "pending_approval"
	RateApproved              RateStatus = "approved"
	RateRejected              RateStatus = "rejected"
	RateModified              RateStatus = "modified"
	RateExported              RateStatus = "exported"
	RateActive                RateStatus = "active"
	RateExpired               RateStatus = "expired"
)

// Terminal reports whether the rate admits no further transitions.
func (s RateStatus) Terminal() bool {
	return s == RateExported || s == RateExpired || s == RateRejected
}

// CounterProposed reports whether the rate currently holds a pending
// counter-proposal from either side.
func (s RateStatus) CounterProposed() bool {
	return s == RateClientCounterProposed || s == RateFirmCounterProposed
}

// RateType distinguishes how the current amount arose.
type RateType string

const (
	RateTypeStandard        RateType = "standard"
	RateTypeProposed        RateType = "proposed"
	RateTypeCounterProposed RateType = "counter_proposed"
)

// Rate is one attorney's billing rate within a negotiation.
//
// ExpirationDate, when present, is strictly after EffectiveDate. A rate's
// status never runs ahead of what its negotiation's status allows. Amount and
// status changes are recorded through the audit ledger, never edited in place.
type Rate struct {
	ID             string
	NegotiationID  string
	ClientID       string
	FirmID         string
	AttorneyID     string
	Amount         decimal.Decimal
	CurrentRate    decimal.Decimal // last approved amount, zero when none exists
	Currency       string
	Type           RateType
	Status         RateStatus
	EffectiveDate  time.Time
	ExpirationDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
