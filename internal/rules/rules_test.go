package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/counselops/be-rate-negotiations/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsWithinFreezePeriod(t *testing.T) {
	r := domain.DefaultRateRules() // 12 months

	tests := []struct {
		name       string
		effective  time.Time
		lastChange time.Time
		want       bool
	}{
		{"no prior change", date(2026, 6, 1), time.Time{}, false},
		{"inside freeze", date(2026, 6, 1), date(2025, 9, 1), true},
		{"freeze boundary day", date(2026, 9, 1), date(2025, 9, 1), true},
		{"day after freeze ends", date(2026, 9, 2), date(2025, 9, 1), false},
		{"well clear", date(2027, 1, 1), date(2025, 9, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWithinFreezePeriod(r, tt.effective, tt.lastChange))
		})
	}

	r.FreezeMonths = 0
	assert.False(t, IsWithinFreezePeriod(r, date(2026, 6, 1), date(2026, 5, 31)))
}

func TestCheckNoticePeriodCompliance(t *testing.T) {
	r := domain.DefaultRateRules() // 60 days
	submission := date(2026, 10, 1)

	assert.False(t, CheckNoticePeriodCompliance(r, submission, date(2026, 10, 15)))
	assert.False(t, CheckNoticePeriodCompliance(r, submission, date(2026, 11, 29)))
	assert.True(t, CheckNoticePeriodCompliance(r, submission, date(2026, 11, 30)))
	assert.True(t, CheckNoticePeriodCompliance(r, submission, date(2027, 1, 1)))

	r.NoticeDays = 0
	assert.True(t, CheckNoticePeriodCompliance(r, submission, submission))
}

func TestIsWithinSubmissionWindow(t *testing.T) {
	r := domain.DefaultRateRules() // Oct 1 - Dec 31

	assert.False(t, IsWithinSubmissionWindow(r, date(2026, 9, 30)))
	assert.True(t, IsWithinSubmissionWindow(r, date(2026, 10, 1)))
	assert.True(t, IsWithinSubmissionWindow(r, date(2026, 11, 15)))
	assert.True(t, IsWithinSubmissionWindow(r, date(2026, 12, 31)))
	assert.False(t, IsWithinSubmissionWindow(r, date(2027, 1, 1)))
}

func TestIsWithinSubmissionWindow_Wrapping(t *testing.T) {
	r := domain.RateRules{
		WindowStartMonth: 11, WindowStartDay: 1,
		WindowEndMonth: 2, WindowEndDay: 28,
	}

	assert.True(t, IsWithinSubmissionWindow(r, date(2026, 11, 1)))
	assert.True(t, IsWithinSubmissionWindow(r, date(2026, 12, 25)))
	assert.True(t, IsWithinSubmissionWindow(r, date(2027, 1, 15)))
	assert.True(t, IsWithinSubmissionWindow(r, date(2027, 2, 28)))
	assert.False(t, IsWithinSubmissionWindow(r, date(2027, 3, 1)))
	assert.False(t, IsWithinSubmissionWindow(r, date(2026, 10, 31)))
}

func TestIsWithinSubmissionWindow_Unconfigured(t *testing.T) {
	assert.True(t, IsWithinSubmissionWindow(domain.RateRules{}, date(2026, 4, 1)))
}

func TestIsRateIncreaseCompliant(t *testing.T) {
	r := domain.DefaultRateRules() // 5%

	tests := []struct {
		name     string
		current  int64
		proposed string
		want     bool
	}{
		{"no current rate", 0, "500", true},
		{"decrease", 100, "90", true},
		{"unchanged", 100, "100", true},
		{"under cap", 100, "104", true},
		{"exactly at cap", 100, "105", true},
		{"over cap", 100, "105.01", false},
		{"large jump", 100, "150", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proposed, err := decimal.NewFromString(tt.proposed)
			assert.NoError(t, err)
			got := IsRateIncreaseCompliant(r, decimal.NewFromInt(tt.current), proposed)
			assert.Equal(t, tt.want, got)
		})
	}
}
