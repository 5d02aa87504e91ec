// Package rules holds the pure rate-rule checks consumed by state machine
// guards and by submission validation. Nothing here touches storage or time
// sources; callers pass every date in.
package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// IsWithinFreezePeriod reports whether effectiveDate still falls inside the
// freeze window opened by the last rate change. True means the change is not
// yet allowed.
func IsWithinFreezePeriod(r domain.RateRules, effectiveDate, lastChangeDate time.Time) bool {
	if r.FreezeMonths <= 0 || lastChangeDate.IsZero() {
		return false
	}
	freezeEnd := lastChangeDate.AddDate(0, r.FreezeMonths, 0)
	return !effectiveDate.After(freezeEnd)
}

// CheckNoticePeriodCompliance reports whether the effective date gives at
// least the required notice from the submission date.
func CheckNoticePeriodCompliance(r domain.RateRules, submissionDate, effectiveDate time.Time) bool {
	if r.NoticeDays <= 0 {
		return true
	}
	earliest := submissionDate.AddDate(0, 0, r.NoticeDays)
	return !effectiveDate.Before(earliest)
}

// IsWithinSubmissionWindow reports whether submissionDate falls within the
// organization's configured month/day window. Windows that wrap the year end
// (e.g. Nov 1 – Feb 28) are supported.
func IsWithinSubmissionWindow(r domain.RateRules, submissionDate time.Time) bool {
	if r.WindowStartMonth == 0 || r.WindowEndMonth == 0 {
		return true
	}

	md := monthDay(submissionDate)
	start := r.WindowStartMonth*100 + r.WindowStartDay
	end := r.WindowEndMonth*100 + r.WindowEndDay

	if start <= end {
		return md >= start && md <= end
	}
	// Wrapped window: in-window dates are after the start or before the end.
	return md >= start || md <= end
}

// IsRateIncreaseCompliant reports whether proposedRate's percentage increase
// over currentRate stays within the configured maximum. A zero or negative
// current rate has no increase base and is always compliant.
func IsRateIncreaseCompliant(r domain.RateRules, currentRate, proposedRate decimal.Decimal) bool {
	if currentRate.Sign() <= 0 {
		return true
	}
	if proposedRate.LessThanOrEqual(currentRate) {
		return true
	}
	increase := proposedRate.Sub(currentRate).
		Div(currentRate).
		Mul(decimal.NewFromInt(100))
	return increase.LessThanOrEqual(r.MaxIncreasePercent)
}

func monthDay(t time.Time) int {
	return int(t.Month())*100 + t.Day()
}
