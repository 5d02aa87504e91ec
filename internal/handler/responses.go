package handler

import (
	"time"

	"github.com/counselops/be-rate-negotiations/internal/domain"
)

type negotiationResponse struct {
	ID                 string     `json:"id"`
	ClientID           string     `json:"client_id"`
	FirmID             string     `json:"firm_id"`
	Status             string     `json:"status"`
	RequestDate        time.Time  `json:"request_date"`
	SubmissionDeadline *time.Time `json:"submission_deadline,omitempty"`
	CompletionDate     *time.Time `json:"completion_date,omitempty"`
	WorkflowID         *string    `json:"workflow_id,omitempty"`
	ApprovalStatus     *string    `json:"approval_status,omitempty"`
	RateIDs            []string   `json:"rate_ids,omitempty"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toNegotiationResponse(n *domain.Negotiation) negotiationResponse {
	resp := negotiationResponse{
		ID:                 n.ID,
		ClientID:           n.ClientID,
		FirmID:             n.FirmID,
		Status:             string(n.Status),
		RequestDate:        n.RequestDate,
		SubmissionDeadline: n.SubmissionDeadline,
		CompletionDate:     n.CompletionDate,
		WorkflowID:         n.WorkflowID,
		RateIDs:            n.RateIDs,
		CreatedBy:          n.CreatedBy,
		CreatedAt:          n.CreatedAt,
		UpdatedAt:          n.UpdatedAt,
	}
	if n.ApprovalStatus != nil {
		s := string(*n.ApprovalStatus)
		resp.ApprovalStatus = &s
	}
	return resp
}

type rateResponse struct {
	ID             string     `json:"id"`
	NegotiationID  string     `json:"negotiation_id"`
	ClientID       string     `json:"client_id"`
	FirmID         string     `json:"firm_id"`
	AttorneyID     string     `json:"attorney_id"`
	Amount         string     `json:"amount"`
	CurrentRate    string     `json:"current_rate"`
	Currency       string     `json:"currency"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	EffectiveDate  time.Time  `json:"effective_date"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toRateResponse(r *domain.Rate) rateResponse {
	return rateResponse{
		ID:             r.ID,
		NegotiationID:  r.NegotiationID,
		ClientID:       r.ClientID,
		FirmID:         r.FirmID,
		AttorneyID:     r.AttorneyID,
		Amount:         r.Amount.String(),
		CurrentRate:    r.CurrentRate.String(),
		Currency:       r.Currency,
		Type:           string(r.Type),
		Status:         string(r.Status),
		EffectiveDate:  r.EffectiveDate,
		ExpirationDate: r.ExpirationDate,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toRateResponses(rates []*domain.Rate) []rateResponse {
	out := make([]rateResponse, 0, len(rates))
	for _, r := range rates {
		out = append(out, toRateResponse(r))
	}
	return out
}

type workflowResponse struct {
	ID            string     `json:"id"`
	NegotiationID string     `json:"negotiation_id"`
	OrgID         string     `json:"org_id"`
	TemplateID    *string    `json:"template_id,omitempty"`
	Status        string     `json:"status"`
	TotalSteps    int        `json:"total_steps"`
	CurrentOrder  int        `json:"current_order"`
	CreatedBy     string     `json:"created_by"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toWorkflowResponse(wf *domain.ApprovalWorkflow) workflowResponse {
	return workflowResponse{
		ID:            wf.ID,
		NegotiationID: wf.NegotiationID,
		OrgID:         wf.OrgID,
		TemplateID:    wf.TemplateID,
		Status:        string(wf.Status),
		TotalSteps:    wf.TotalSteps,
		CurrentOrder:  wf.CurrentOrder,
		CreatedBy:     wf.CreatedBy,
		CompletedAt:   wf.CompletedAt,
		CreatedAt:     wf.CreatedAt,
		UpdatedAt:     wf.UpdatedAt,
	}
}

type stepResponse struct {
	ID            string     `json:"id"`
	WorkflowID    string     `json:"workflow_id"`
	NegotiationID string     `json:"negotiation_id"`
	StepOrder     int        `json:"step_order"`
	ApproverID    *string    `json:"approver_id,omitempty"`
	ApproverRole  *string    `json:"approver_role,omitempty"`
	IsRequired    bool       `json:"is_required"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	DelegatedTo   *string    `json:"delegated_to,omitempty"`
	Status        string     `json:"status"`
	ActedBy       *string    `json:"acted_by,omitempty"`
	ActedAt       *time.Time `json:"acted_at,omitempty"`
	Comment       *string    `json:"comment,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toStepResponses(steps []*domain.ApprovalStep) []stepResponse {
	out := make([]stepResponse, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepResponse{
			ID:            s.ID,
			WorkflowID:    s.WorkflowID,
			NegotiationID: s.NegotiationID,
			StepOrder:     s.StepOrder,
			ApproverID:    s.ApproverID,
			ApproverRole:  s.ApproverRole,
			IsRequired:    s.IsRequired,
			DueAt:         s.DueAt,
			DelegatedTo:   s.DelegatedTo,
			Status:        string(s.Status),
			ActedBy:       s.ActedBy,
			ActedAt:       s.ActedAt,
			Comment:       s.Comment,
			CreatedAt:     s.CreatedAt,
			UpdatedAt:     s.UpdatedAt,
		})
	}
	return out
}

type auditResponse struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActionType string         `json:"action_type"`
	ActorID    string         `json:"actor_id"`
	Details    map[string]any `json:"details,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func toAuditResponses(entries []*domain.AuditEntry) []auditResponse {
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			ID:         e.ID,
			Timestamp:  e.Timestamp,
			EntityType: string(e.EntityType),
			EntityID:   e.EntityID,
			ActionType: e.ActionType,
			ActorID:    e.ActorID,
			Details:    e.Details,
			Metadata:   e.Metadata,
		})
	}
	return out
}

type templateResponse struct {
	ID           string                `json:"id"`
	OrgID        string                `json:"org_id"`
	Name         string                `json:"name"`
	IsActive     bool                  `json:"is_active"`
	FirmID       *string               `json:"firm_id,omitempty"`
	MinRateCount *int                  `json:"min_rate_count,omitempty"`
	MaxRateCount *int                  `json:"max_rate_count,omitempty"`
	MinAmount    *string               `json:"min_amount,omitempty"`
	MaxAmount    *string               `json:"max_amount,omitempty"`
	Steps        []domain.TemplateStep `json:"steps"`
	Priority     int                   `json:"priority"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func toTemplateResponse(t *domain.WorkflowTemplate) templateResponse {
	resp := templateResponse{
		ID:           t.ID,
		OrgID:        t.OrgID,
		Name:         t.Name,
		IsActive:     t.IsActive,
		FirmID:       t.FirmID,
		MinRateCount: t.MinRateCount,
		MaxRateCount: t.MaxRateCount,
		Steps:        t.Steps,
		Priority:     t.Priority,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.MinAmount != nil {
		s := t.MinAmount.String()
		resp.MinAmount = &s
	}
	if t.MaxAmount != nil {
		s := t.MaxAmount.String()
		resp.MaxAmount = &s
	}
	return resp
}
