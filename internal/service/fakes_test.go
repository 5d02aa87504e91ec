package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/domain"
)

// In-memory fakes backing the service tests. They mirror the repository
// semantics: lookups return copies, missing rows return coded not-found
// errors, and the audit store preserves append order.

type fakeLocker struct{ calls int }

func (l *fakeLocker) WithNegotiationLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.calls++
	return fn(ctx)
}

type fakeNegotiationStore struct {
	items map[string]*domain.Negotiation
}

func newFakeNegotiationStore() *fakeNegotiationStore {
	return &fakeNegotiationStore{items: make(map[string]*domain.Negotiation)}
}

func (s *fakeNegotiationStore) Create(_ context.Context, n *domain.Negotiation) error {
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *fakeNegotiationStore) GetByID(_ context.Context, id string) (*domain.Negotiation, error) {
	n, ok := s.items[id]
	if !ok || n.Deleted {
		return nil, apperr.NotFound("negotiation", id)
	}
	cp := *n
	return &cp, nil
}

func (s *fakeNegotiationStore) List(_ context.Context, clientID, firmID *string, status *domain.NegotiationStatus, limit, offset int) ([]*domain.Negotiation, int64, error) {
	var out []*domain.Negotiation
	for _, n := range s.items {
		if n.Deleted {
			continue
		}
		if clientID != nil && n.ClientID != *clientID {
			continue
		}
		if firmID != nil && n.FirmID != *firmID {
			continue
		}
		if status != nil && n.Status != *status {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *fakeNegotiationStore) UpdateStatus(_ context.Context, id string, status domain.NegotiationStatus) error {
	n, ok := s.items[id]
	if !ok {
		return apperr.NotFound("negotiation", id)
	}
	n.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		n.CompletionDate = &now
	}
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeNegotiationStore) AttachWorkflow(_ context.Context, id, workflowID string, status domain.ApprovalStatus) error {
	n, ok := s.items[id]
	if !ok {
		return apperr.NotFound("negotiation", id)
	}
	n.WorkflowID = &workflowID
	n.ApprovalStatus = &status
	return nil
}

func (s *fakeNegotiationStore) SetApprovalStatus(_ context.Context, id string, status domain.ApprovalStatus) error {
	n, ok := s.items[id]
	if !ok {
		return apperr.NotFound("negotiation", id)
	}
	n.ApprovalStatus = &status
	return nil
}

func (s *fakeNegotiationStore) SoftDelete(_ context.Context, id string) error {
	n, ok := s.items[id]
	if !ok {
		return apperr.NotFound("negotiation", id)
	}
	n.Deleted = true
	return nil
}

type fakeRateStore struct {
	items map[string]*domain.Rate
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{items: make(map[string]*domain.Rate)}
}

func (s *fakeRateStore) Create(_ context.Context, rate *domain.Rate) error {
	now := time.Now().UTC()
	rate.CreatedAt, rate.UpdatedAt = now, now
	cp := *rate
	s.items[rate.ID] = &cp
	return nil
}

func (s *fakeRateStore) GetByID(_ context.Context, id string) (*domain.Rate, error) {
	r, ok := s.items[id]
	if !ok {
		return nil, apperr.NotFound("rate", id)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeRateStore) GetByNegotiationID(_ context.Context, negotiationID string) ([]*domain.Rate, error) {
	var out []*domain.Rate
	for _, r := range s.items {
		if r.NegotiationID == negotiationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeRateStore) UpdateStatus(_ context.Context, id string, status domain.RateStatus, rateType domain.RateType) error {
	r, ok := s.items[id]
	if !ok {
		return apperr.NotFound("rate", id)
	}
	r.Status = status
	r.Type = rateType
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeRateStore) UpdateAmount(_ context.Context, id string, amount decimal.Decimal, status domain.RateStatus, rateType domain.RateType) error {
	r, ok := s.items[id]
	if !ok {
		return apperr.NotFound("rate", id)
	}
	r.Amount = amount
	r.Status = status
	r.Type = rateType
	r.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeStepStore struct {
	items     map[string]*domain.ApprovalStep
	workflows *fakeWorkflowStore
}

func newFakeStepStore() *fakeStepStore {
	return &fakeStepStore{items: make(map[string]*domain.ApprovalStep)}
}

func (s *fakeStepStore) GetByWorkflowID(_ context.Context, workflowID string) ([]*domain.ApprovalStep, error) {
	var out []*domain.ApprovalStep
	for _, st := range s.items {
		if st.WorkflowID == workflowID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (s *fakeStepStore) GetByID(_ context.Context, id string) (*domain.ApprovalStep, error) {
	st, ok := s.items[id]
	if !ok {
		return nil, apperr.NotFound("approval step", id)
	}
	cp := *st
	return &cp, nil
}

func (s *fakeStepStore) GetPendingForApprover(_ context.Context, orgID, approverID string, roles []string) ([]*domain.ApprovalStep, error) {
	var out []*domain.ApprovalStep
	for _, st := range s.items {
		if st.OrgID != orgID || (st.Status != domain.StepPending && st.Status != domain.StepInProgress) {
			continue
		}
		// only the workflow's current step is actionable
		if s.workflows != nil {
			wf, ok := s.workflows.items[st.WorkflowID]
			if !ok || wf.Status.Terminal() || wf.CurrentOrder != st.StepOrder {
				continue
			}
		}
		if st.CanBeActedOnBy(approverID, roles) {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStepStore) RecordAction(_ context.Context, id string, status domain.StepStatus, actedBy string, comment *string) error {
	st, ok := s.items[id]
	if !ok {
		return apperr.NotFound("approval step", id)
	}
	now := time.Now().UTC()
	st.Status = status
	st.ActedBy = &actedBy
	st.ActedAt = &now
	st.Comment = comment
	st.UpdatedAt = now
	return nil
}

func (s *fakeStepStore) Delegate(_ context.Context, id, delegatedTo, reason string) error {
	st, ok := s.items[id]
	if !ok {
		return apperr.NotFound("approval step", id)
	}
	now := time.Now().UTC()
	st.DelegatedTo = &delegatedTo
	st.DelegatedAt = &now
	st.DelegatedReason = &reason
	return nil
}

func (s *fakeStepStore) CancelOpen(_ context.Context, workflowID string) error {
	for _, st := range s.items {
		if st.WorkflowID != workflowID {
			continue
		}
		if st.Status == domain.StepPending || st.Status == domain.StepInProgress {
			st.Status = domain.StepCancelled
		}
	}
	return nil
}

type fakeWorkflowStore struct {
	items map[string]*domain.ApprovalWorkflow
	steps *fakeStepStore
}

func newFakeWorkflowStore(steps *fakeStepStore) *fakeWorkflowStore {
	s := &fakeWorkflowStore{items: make(map[string]*domain.ApprovalWorkflow), steps: steps}
	steps.workflows = s
	return s
}

func (s *fakeWorkflowStore) Create(_ context.Context, wf *domain.ApprovalWorkflow, steps []*domain.ApprovalStep) error {
	now := time.Now().UTC()
	wf.CreatedAt, wf.UpdatedAt = now, now
	cp := *wf
	s.items[wf.ID] = &cp
	for _, st := range steps {
		st.CreatedAt, st.UpdatedAt = now, now
		scp := *st
		s.steps.items[st.ID] = &scp
	}
	return nil
}

func (s *fakeWorkflowStore) GetByID(_ context.Context, id string) (*domain.ApprovalWorkflow, error) {
	wf, ok := s.items[id]
	if !ok {
		return nil, apperr.NotFound("approval workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (s *fakeWorkflowStore) GetActiveByNegotiationID(_ context.Context, negotiationID string) (*domain.ApprovalWorkflow, error) {
	for _, wf := range s.items {
		if wf.NegotiationID == negotiationID && !wf.Status.Terminal() {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeWorkflowStore) UpdateStatus(_ context.Context, id string, status domain.ApprovalStatus, completedAt *time.Time) error {
	wf, ok := s.items[id]
	if !ok {
		return apperr.NotFound("approval workflow", id)
	}
	wf.Status = status
	wf.CompletedAt = completedAt
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeWorkflowStore) AdvanceOrder(_ context.Context, id string, nextOrder int) error {
	wf, ok := s.items[id]
	if !ok {
		return apperr.NotFound("approval workflow", id)
	}
	wf.CurrentOrder = nextOrder
	return nil
}

type fakeSettingsProvider struct {
	templates []*domain.WorkflowTemplate
	settings  map[string]domain.OrgSettings
}

func newFakeSettingsProvider() *fakeSettingsProvider {
	return &fakeSettingsProvider{settings: make(map[string]domain.OrgSettings)}
}

func (s *fakeSettingsProvider) Create(_ context.Context, t *domain.WorkflowTemplate) error {
	s.templates = append(s.templates, t)
	return nil
}

func (s *fakeSettingsProvider) List(_ context.Context, orgID string, activeOnly bool) ([]*domain.WorkflowTemplate, error) {
	var out []*domain.WorkflowTemplate
	for _, t := range s.templates {
		if t.OrgID != orgID {
			continue
		}
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (s *fakeSettingsProvider) FindMatching(ctx context.Context, orgID, firmID string, rateCount int, aggregateAmount decimal.Decimal) (*domain.WorkflowTemplate, error) {
	templates, _ := s.List(ctx, orgID, true)
	for _, t := range templates {
		if t.FirmID != nil && *t.FirmID != firmID {
			continue
		}
		if t.MinRateCount != nil && rateCount < *t.MinRateCount {
			continue
		}
		if t.MaxRateCount != nil && rateCount > *t.MaxRateCount {
			continue
		}
		if t.MinAmount != nil && aggregateAmount.LessThan(*t.MinAmount) {
			continue
		}
		if t.MaxAmount != nil && aggregateAmount.GreaterThan(*t.MaxAmount) {
			continue
		}
		return t, nil
	}
	return nil, nil
}

func (s *fakeSettingsProvider) GetOrgSettings(_ context.Context, orgID string) (domain.OrgSettings, error) {
	if cfg, ok := s.settings[orgID]; ok {
		return cfg, nil
	}
	return domain.DefaultOrgSettings(orgID), nil
}

type fakeAuditStore struct {
	entries []*domain.AuditEntry
}

func (s *fakeAuditStore) Append(_ context.Context, entry *domain.AuditEntry) error {
	entry.ID = fmt.Sprintf("audit-%d", len(s.entries)+1)
	entry.Timestamp = time.Now().UTC()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *fakeAuditStore) ListByFilter(_ context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, int64, error) {
	var out []*domain.AuditEntry
	for _, e := range s.entries {
		if filter.EntityType != nil && e.EntityType != *filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.ActionType != nil && e.ActionType != *filter.ActionType {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	total := int64(len(out))
	if filter.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			out = nil
		} else {
			out = out[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

// byAction filters entries in append order.
func (s *fakeAuditStore) byAction(action string) []*domain.AuditEntry {
	var out []*domain.AuditEntry
	for _, e := range s.entries {
		if e.ActionType == action {
			out = append(out, e)
		}
	}
	return out
}

type notifierEvent struct {
	eventType  string
	recipients []string
}

type fakeNotifier struct {
	events []notifierEvent
}

func (n *fakeNotifier) PublishNegotiationEvent(eventType, _, _, _ string, recipients []string, _ map[string]any) {
	n.events = append(n.events, notifierEvent{eventType: eventType, recipients: recipients})
}

type fakeAnalytics struct {
	events []string
}

func (a *fakeAnalytics) Track(eventType, _, _ string, _ map[string]any) {
	a.events = append(a.events, eventType)
}

type fakeRecommendation struct {
	amount decimal.Decimal
	err    error
}

func (r *fakeRecommendation) SuggestCounterRate(context.Context, string, string, decimal.Decimal, decimal.Decimal, string, bool) (decimal.Decimal, error) {
	if r.err != nil {
		return decimal.Zero, r.err
	}
	return r.amount, nil
}
