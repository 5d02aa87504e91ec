package repository

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/counselops/be-rate-negotiations/internal/domain"
)

func TestTemplateMatches(t *testing.T) {
	firmID := "firm-1"
	minCount, maxCount := 2, 5
	minAmount := decimal.NewFromInt(100)
	maxAmount := decimal.NewFromInt(500)
	tmpl := &domain.WorkflowTemplate{
		FirmID:       &firmID,
		MinRateCount: &minCount,
		MaxRateCount: &maxCount,
		MinAmount:    &minAmount,
		MaxAmount:    &maxAmount,
	}

	tests := []struct {
		name      string
		firmID    string
		rateCount int
		amount    int64
		want      bool
	}{
		{"inside all ranges", "firm-1", 3, 300, true},
		{"wrong firm", "firm-2", 3, 300, false},
		{"below min count", "firm-1", 1, 300, false},
		{"max count is inclusive", "firm-1", 5, 300, true},
		{"above max count", "firm-1", 6, 300, false},
		{"min amount is inclusive", "firm-1", 3, 100, true},
		{"below min amount", "firm-1", 3, 99, false},
		{"max amount is inclusive", "firm-1", 3, 500, true},
		{"above max amount", "firm-1", 3, 501, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := templateMatches(tmpl, tt.firmID, tt.rateCount, decimal.NewFromInt(tt.amount))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateMatches_NoCriteria(t *testing.T) {
	assert.True(t, templateMatches(&domain.WorkflowTemplate{}, "any-firm", 1, decimal.NewFromInt(1)))
}

func TestValidateTemplateSteps_DuplicateOrder(t *testing.T) {
	err := validateTemplateSteps([]domain.TemplateStep{
		{Order: 1, ApproverID: "a"},
		{Order: 1, ApproverID: "b"},
	})
	assert.Error(t, err)

	err = validateTemplateSteps([]domain.TemplateStep{
		{Order: 1, ApproverID: "a"},
		{Order: 2, ApproverID: "b"},
	})
	assert.NoError(t, err)
}
