package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/domain"
	"github.com/counselops/be-rate-negotiations/internal/logger"
)

type counterFixture struct {
	svc   *CounterProposalService
	rates *fakeRateStore
	audit *fakeAuditStore
	rec   *fakeRecommendation
}

func newCounterFixture(t *testing.T) *counterFixture {
	t.Helper()
	rates := newFakeRateStore()
	negotiations := newFakeNegotiationStore()
	auditStore := &fakeAuditStore{}
	rec := &fakeRecommendation{}
	auditSvc := NewAuditService(auditStore, &fakeAnalytics{}, logger.Nop())

	require.NoError(t, negotiations.Create(context.Background(), &domain.Negotiation{
		ID:       "neg-1",
		ClientID: "client-1",
		FirmID:   "firm-1",
		Status:   domain.NegotiationInProgress,
	}))

	return &counterFixture{
		svc:   NewCounterProposalService(rates, negotiations, auditSvc, rec, &fakeLocker{}, logger.Nop()),
		rates: rates,
		audit: auditStore,
		rec:   rec,
	}
}

func (f *counterFixture) addRate(t *testing.T, id string, current, proposed int64, status domain.RateStatus) *domain.Rate {
	t.Helper()
	rate := &domain.Rate{
		ID:            id,
		NegotiationID: "neg-1",
		ClientID:      "client-1",
		FirmID:        "firm-1",
		AttorneyID:    "atty-" + id,
		Amount:        decimal.NewFromInt(proposed),
		CurrentRate:   decimal.NewFromInt(current),
		Currency:      "USD",
		Type:          domain.RateTypeProposed,
		Status:        status,
		EffectiveDate: time.Now().AddDate(0, 3, 0),
	}
	require.NoError(t, f.rates.Create(context.Background(), rate))
	return rate
}

func TestBounds_Client(t *testing.T) {
	f := newCounterFixture(t)
	rate := f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	min, max, err := f.svc.Bounds(context.Background(), rate, true)
	require.NoError(t, err)
	assert.True(t, min.Equal(decimal.NewFromInt(100)))
	assert.True(t, max.Equal(decimal.NewFromInt(120)))
}

func TestBounds_FirmWithoutClientCounter(t *testing.T) {
	f := newCounterFixture(t)
	rate := f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	_, _, err := f.svc.Bounds(context.Background(), rate, false)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestCreate_ClientCounterWithinBounds(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	rate, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(110), "user-1", "too high", true)
	require.NoError(t, err)
	assert.Equal(t, domain.RateClientCounterProposed, rate.Status)
	assert.Equal(t, domain.RateTypeCounterProposed, rate.Type)
	// the proposed amount stays until the counter is accepted
	assert.True(t, rate.Amount.Equal(decimal.NewFromInt(120)))

	entries := f.audit.byAction(domain.AuditCounterProposed)
	require.Len(t, entries, 1)
	assert.Equal(t, "110", entries[0].Details["counter_amount"])
	assert.Equal(t, true, entries[0].Details["is_client"])
}

func TestCreate_CounterOutOfBounds(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	for _, amount := range []int64{130, 99} {
		_, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(amount), "user-1", "", true)
		require.Error(t, err)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	}

	got, err := f.rates.GetByID(context.Background(), "rate-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RateUnderReview, got.Status)
	assert.Empty(t, f.audit.byAction(domain.AuditCounterProposed))
}

func TestCreate_InvalidSourceState(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateApproved)

	_, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(110), "user-1", "", true)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))
}

func TestFirmCounterBoundsFollowClientCounter(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	_, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(105), "client-user", "", true)
	require.NoError(t, err)

	// firm response must land between the client's 105 and the original 120
	_, err = f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(104), "firm-user", "", false)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	rate, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(112), "firm-user", "meet in the middle", false)
	require.NoError(t, err)
	assert.Equal(t, domain.RateFirmCounterProposed, rate.Status)
}

func TestAccept_FirmAcceptsClientCounter(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	_, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(110), "client-user", "", true)
	require.NoError(t, err)

	rate, err := f.svc.Accept(context.Background(), "rate-1", "firm-user", "deal", false)
	require.NoError(t, err)
	assert.Equal(t, domain.RateFirmAccepted, rate.Status)
	assert.True(t, rate.Amount.Equal(decimal.NewFromInt(110)))

	entries := f.audit.byAction(domain.AuditCounterAccepted)
	require.Len(t, entries, 1)
	assert.Equal(t, "120", entries[0].Details["previous_amount"])
	assert.Equal(t, "110", entries[0].Details["new_amount"])
}

func TestAccept_ClientAcceptsFirmCounter(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	_, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(105), "client-user", "", true)
	require.NoError(t, err)
	_, err = f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(112), "firm-user", "", false)
	require.NoError(t, err)

	rate, err := f.svc.Accept(context.Background(), "rate-1", "client-user", "", true)
	require.NoError(t, err)
	assert.Equal(t, domain.RateClientApproved, rate.Status)
	assert.True(t, rate.Amount.Equal(decimal.NewFromInt(112)))
}

func TestAccept_WrongSide(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	_, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(110), "client-user", "", true)
	require.NoError(t, err)

	// the client cannot accept its own counter
	_, err = f.svc.Accept(context.Background(), "rate-1", "client-user", "", true)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestAccept_NoPendingCounter(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	_, err := f.svc.Accept(context.Background(), "rate-1", "firm-user", "", false)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestAccept_Twice(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	_, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(110), "client-user", "", true)
	require.NoError(t, err)
	_, err = f.svc.Accept(context.Background(), "rate-1", "firm-user", "", false)
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), "rate-1", "firm-user", "", false)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestRejectCounter_RetainsAmount(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	_, err := f.svc.Create(context.Background(), "rate-1", decimal.NewFromInt(110), "client-user", "", true)
	require.NoError(t, err)

	rate, err := f.svc.RejectCounter(context.Background(), "rate-1", "firm-user", "no")
	require.NoError(t, err)
	assert.Equal(t, domain.RateRejected, rate.Status)
	assert.True(t, rate.Amount.Equal(decimal.NewFromInt(120)))

	entries := f.audit.byAction(domain.AuditCounterRejected)
	require.Len(t, entries, 1)
	assert.Equal(t, "120", entries[0].Details["retained_amount"])
}

func TestProcessBatch_PartialSuccess(t *testing.T) {
	f := newCounterFixture(t)
	f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)
	f.addRate(t, "rate-2", 200, 250, domain.RateUnderReview)

	result, err := f.svc.ProcessBatch(context.Background(), "neg-1", map[string]decimal.Decimal{
		"rate-1": decimal.NewFromInt(110),
		"rate-2": decimal.NewFromInt(300), // above the proposed amount
	}, "client-user", "round one", true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "rate-2", result.Errors[0].RateID)

	r1, _ := f.rates.GetByID(context.Background(), "rate-1")
	r2, _ := f.rates.GetByID(context.Background(), "rate-2")
	assert.Equal(t, domain.RateClientCounterProposed, r1.Status)
	assert.Equal(t, domain.RateUnderReview, r2.Status)

	// one negotiation-level message entry alongside the per-rate entry
	var negEntries int
	for _, e := range f.audit.byAction(domain.AuditCounterProposed) {
		if e.EntityType == domain.EntityNegotiation {
			negEntries++
		}
	}
	assert.Equal(t, 1, negEntries)
}

func TestSuggest_FallsBackToMidpoint(t *testing.T) {
	f := newCounterFixture(t)
	rate := f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)
	f.rec.err = errors.New("recommendation service down")

	got, err := f.svc.Suggest(context.Background(), rate, true)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(110)), "got %s", got)
}

func TestSuggest_ClampsIntoBounds(t *testing.T) {
	f := newCounterFixture(t)
	rate := f.addRate(t, "rate-1", 100, 120, domain.RateUnderReview)

	f.rec.amount = decimal.NewFromInt(150)
	got, err := f.svc.Suggest(context.Background(), rate, true)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(120)))

	f.rec.amount = decimal.NewFromInt(90)
	got, err = f.svc.Suggest(context.Background(), rate, true)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(100)))

	f.rec.amount = decimal.NewFromInt(115)
	got, err = f.svc.Suggest(context.Background(), rate, true)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(115)))
}
