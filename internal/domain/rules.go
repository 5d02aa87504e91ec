package domain

import "github.com/shopspring/decimal"

// RateRules are the client-configured constraints bounding rate changes.
// Organizations without configured rules get DefaultRateRules.
type RateRules struct {
	FreezeMonths       int             // no new change within this many months of the last
	NoticeDays         int             // minimum days between submission and effective date
	WindowStartMonth   int             // submission window start (month, 1-12)
	WindowStartDay     int             // submission window start (day of month)
	WindowEndMonth     int             // submission window end (month, 1-12)
	WindowEndDay       int             // submission window end (day of month)
	MaxIncreasePercent decimal.Decimal // max percent increase over the current rate
}

// DefaultRateRules returns the rules applied when an organization has none
// configured: 12-month freeze, 60-day notice, Oct 1 – Dec 31 submission
// window, 5% max increase.
func DefaultRateRules() RateRules {
	return RateRules{
		FreezeMonths:       12,
		NoticeDays:         60,
		WindowStartMonth:   10,
		WindowStartDay:     1,
		WindowEndMonth:     12,
		WindowEndDay:       31,
		MaxIncreasePercent: decimal.NewFromInt(5),
	}
}

// OrgSettings are the per-organization settings the service consumes: rate
// rules plus the auto-approval policy gating DIRECT_APPROVE transitions.
type OrgSettings struct {
	OrgID                 string
	Rules                 RateRules
	AutoApprovalEnabled   bool
	AutoApprovalThreshold decimal.Decimal // max aggregate amount eligible for auto approval
}

// DefaultOrgSettings returns settings for organizations with nothing
// configured. Auto-approval is off by default.
func DefaultOrgSettings(orgID string) OrgSettings {
	return OrgSettings{
		OrgID: orgID,
		Rules: DefaultRateRules(),
	}
}
