// Package handler exposes the HTTP API. Handlers stay thin: decode, call a
// service, encode. All business rules live in the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
	"github.com/counselops/be-rate-negotiations/internal/domain"
	"github.com/counselops/be-rate-negotiations/internal/fsm"
	"github.com/counselops/be-rate-negotiations/internal/logger"
	"github.com/counselops/be-rate-negotiations/internal/service"
)

// Handler routes HTTP requests to the services.
type Handler struct {
	negotiations *service.NegotiationService
	counters     *service.CounterProposalService
	approvals    *service.ApprovalService
	audit        *service.AuditService
	log          *logger.Logger
}

// New creates a new Handler.
func New(
	negotiations *service.NegotiationService,
	counters *service.CounterProposalService,
	approvals *service.ApprovalService,
	audit *service.AuditService,
	log *logger.Logger,
) *Handler {
	return &Handler{
		negotiations: negotiations,
		counters:     counters,
		approvals:    approvals,
		audit:        audit,
		log:          log,
	}
}

// RegisterRoutes mounts all routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("POST /api/v1/negotiations", h.createNegotiation)
	mux.HandleFunc("GET /api/v1/negotiations", h.listNegotiations)
	mux.HandleFunc("GET /api/v1/negotiations/{id}", h.getNegotiation)
	mux.HandleFunc("DELETE /api/v1/negotiations/{id}", h.deleteNegotiation)
	mux.HandleFunc("POST /api/v1/negotiations/{id}/rates", h.submitRates)
	mux.HandleFunc("GET /api/v1/negotiations/{id}/rates", h.listRates)
	mux.HandleFunc("POST /api/v1/negotiations/{id}/transitions", h.executeTransition)
	mux.HandleFunc("GET /api/v1/negotiations/{id}/transitions", h.validTransitions)
	mux.HandleFunc("GET /api/v1/negotiations/{id}/audit", h.negotiationAudit)

	mux.HandleFunc("POST /api/v1/rates/{id}/counter", h.createCounter)
	mux.HandleFunc("POST /api/v1/rates/{id}/counter/accept", h.acceptCounter)
	mux.HandleFunc("POST /api/v1/rates/{id}/counter/reject", h.rejectCounter)
	mux.HandleFunc("GET /api/v1/rates/{id}/counter/suggestion", h.suggestCounter)
	mux.HandleFunc("GET /api/v1/rates/{id}/audit", h.rateAudit)

	mux.HandleFunc("POST /api/v1/workflows/{id}/actions", h.approvalAction)
	mux.HandleFunc("POST /api/v1/workflows/{id}/delegations", h.delegate)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancellation", h.cancelWorkflow)
	mux.HandleFunc("GET /api/v1/workflows/{id}/steps", h.workflowSteps)
	mux.HandleFunc("GET /api/v1/approvals/pending", h.pendingApprovals)

	mux.HandleFunc("POST /api/v1/workflow-templates", h.createTemplate)
	mux.HandleFunc("GET /api/v1/workflow-templates", h.listTemplates)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- negotiations ---

type createNegotiationRequest struct {
	ClientID           string     `json:"client_id"`
	FirmID             string     `json:"firm_id"`
	SubmissionDeadline *time.Time `json:"submission_deadline,omitempty"`
}

func (h *Handler) createNegotiation(w http.ResponseWriter, r *http.Request) {
	var req createNegotiationRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.negotiations.CreateNegotiation(r.Context(), req.ClientID, req.FirmID, actorID(r), req.SubmissionDeadline)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toNegotiationResponse(n))
}

func (h *Handler) getNegotiation(w http.ResponseWriter, r *http.Request) {
	n, err := h.negotiations.GetNegotiation(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toNegotiationResponse(n))
}

func (h *Handler) listNegotiations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var clientID, firmID *string
	if v := q.Get("client_id"); v != "" {
		clientID = &v
	}
	if v := q.Get("firm_id"); v != "" {
		firmID = &v
	}
	var status *domain.NegotiationStatus
	if v := q.Get("status"); v != "" {
		s := domain.NegotiationStatus(v)
		status = &s
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.negotiations.ListNegotiations(r.Context(), clientID, firmID, status, limit, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]negotiationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, toNegotiationResponse(n))
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

func (h *Handler) deleteNegotiation(w http.ResponseWriter, r *http.Request) {
	if err := h.negotiations.DeleteNegotiation(r.Context(), r.PathValue("id"), actorID(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rateSubmissionRequest struct {
	AttorneyID     string     `json:"attorney_id"`
	Amount         string     `json:"amount"`
	CurrentRate    string     `json:"current_rate"`
	Currency       string     `json:"currency"`
	EffectiveDate  time.Time  `json:"effective_date"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	LastChangeDate *time.Time `json:"last_change_date,omitempty"`
}

func (h *Handler) submitRates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rates []rateSubmissionRequest `json:"rates"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	submissions := make([]service.RateSubmission, 0, len(req.Rates))
	for _, in := range req.Rates {
		amount, err := decimal.NewFromString(in.Amount)
		if err != nil {
			h.respondError(w, r, apperr.InvalidInput("amount", "must be a decimal string"))
			return
		}
		current := decimal.Zero
		if in.CurrentRate != "" {
			if current, err = decimal.NewFromString(in.CurrentRate); err != nil {
				h.respondError(w, r, apperr.InvalidInput("current_rate", "must be a decimal string"))
				return
			}
		}
		submissions = append(submissions, service.RateSubmission{
			AttorneyID:     in.AttorneyID,
			Amount:         amount,
			CurrentRate:    current,
			Currency:       in.Currency,
			EffectiveDate:  in.EffectiveDate,
			ExpirationDate: in.ExpirationDate,
			LastChangeDate: in.LastChangeDate,
		})
	}

	rates, err := h.negotiations.SubmitRates(r.Context(), r.PathValue("id"), actorID(r), submissions)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{"rates": toRateResponses(rates)})
}

func (h *Handler) listRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.negotiations.GetRates(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"rates": toRateResponses(rates)})
}

type transitionRequest struct {
	Transition string         `json:"transition"`
	Params     map[string]any `json:"params,omitempty"`
}

func (h *Handler) executeTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Transition == "" {
		h.respondError(w, r, apperr.InvalidInput("transition", "is required"))
		return
	}
	n, err := h.negotiations.ExecuteTransition(r.Context(), r.PathValue("id"), req.Transition, actorID(r), fsm.Params(req.Params))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toNegotiationResponse(n))
}

func (h *Handler) validTransitions(w http.ResponseWriter, r *http.Request) {
	names, err := h.negotiations.GetValidTransitions(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"transitions": names})
}

func (h *Handler) negotiationAudit(w http.ResponseWriter, r *http.Request) {
	entries, total, err := h.audit.GetNegotiationAuditTrail(r.Context(), r.PathValue("id"), auditFilter(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"entries": toAuditResponses(entries), "total": total})
}

// --- counter-proposals ---

type counterRequest struct {
	Amount   string `json:"amount"`
	Message  string `json:"message"`
	IsClient bool   `json:"is_client"`
}

func (h *Handler) createCounter(w http.ResponseWriter, r *http.Request) {
	var req counterRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(w, r, apperr.InvalidInput("amount", "must be a decimal string"))
		return
	}
	rate, err := h.counters.Create(r.Context(), r.PathValue("id"), amount, actorID(r), req.Message, req.IsClient)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toRateResponse(rate))
}

type counterDecisionRequest struct {
	Message  string `json:"message"`
	IsClient bool   `json:"is_client"`
}

func (h *Handler) acceptCounter(w http.ResponseWriter, r *http.Request) {
	var req counterDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, err := h.counters.Accept(r.Context(), r.PathValue("id"), actorID(r), req.Message, req.IsClient)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toRateResponse(rate))
}

func (h *Handler) rejectCounter(w http.ResponseWriter, r *http.Request) {
	var req counterDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, err := h.counters.RejectCounter(r.Context(), r.PathValue("id"), actorID(r), req.Message)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toRateResponse(rate))
}

func (h *Handler) suggestCounter(w http.ResponseWriter, r *http.Request) {
	isClient := r.URL.Query().Get("is_client") == "true"
	amount, err := h.counters.SuggestForRate(r.Context(), r.PathValue("id"), isClient)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"suggested_amount": amount.String()})
}

func (h *Handler) rateAudit(w http.ResponseWriter, r *http.Request) {
	entries, total, err := h.audit.GetRateAuditTrail(r.Context(), r.PathValue("id"), auditFilter(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"entries": toAuditResponses(entries), "total": total})
}

// --- approvals ---

type approvalActionRequest struct {
	StepID  string  `json:"step_id"`
	Action  string  `json:"action"`
	Comment *string `json:"comment,omitempty"`
}

func (h *Handler) approvalAction(w http.ResponseWriter, r *http.Request) {
	var req approvalActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	wf, err := h.approvals.ProcessAction(r.Context(), r.PathValue("id"), req.StepID,
		actorID(r), actorRoles(r), domain.ApprovalAction(req.Action), req.Comment)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toWorkflowResponse(wf))
}

type delegateRequest struct {
	StepID     string `json:"step_id"`
	DelegateTo string `json:"delegate_to"`
	Reason     string `json:"reason"`
}

func (h *Handler) delegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.approvals.Delegate(r.Context(), r.PathValue("id"), req.StepID,
		actorID(r), actorRoles(r), req.DelegateTo, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.approvals.Cancel(r.Context(), r.PathValue("id"), actorID(r), req.Reason); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) workflowSteps(w http.ResponseWriter, r *http.Request) {
	wf, steps, err := h.approvals.WorkflowSteps(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"workflow": toWorkflowResponse(wf),
		"steps":    toStepResponses(steps),
	})
}

func (h *Handler) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		h.respondError(w, r, apperr.InvalidInput("org_id", "is required"))
		return
	}
	steps, err := h.approvals.PendingApprovals(r.Context(), orgID, actorID(r), actorRoles(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"steps": toStepResponses(steps)})
}

// --- templates ---

type createTemplateRequest struct {
	OrgID        string                `json:"org_id"`
	Name         string                `json:"name"`
	FirmID       *string               `json:"firm_id,omitempty"`
	MinRateCount *int                  `json:"min_rate_count,omitempty"`
	MaxRateCount *int                  `json:"max_rate_count,omitempty"`
	MinAmount    *string               `json:"min_amount,omitempty"`
	MaxAmount    *string               `json:"max_amount,omitempty"`
	Steps        []domain.TemplateStep `json:"steps"`
	Priority     int                   `json:"priority"`
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	t := &domain.WorkflowTemplate{
		OrgID:        req.OrgID,
		Name:         req.Name,
		IsActive:     true,
		FirmID:       req.FirmID,
		MinRateCount: req.MinRateCount,
		MaxRateCount: req.MaxRateCount,
		Steps:        req.Steps,
		Priority:     req.Priority,
	}
	if req.MinAmount != nil {
		amount, err := decimal.NewFromString(*req.MinAmount)
		if err != nil {
			h.respondError(w, r, apperr.InvalidInput("min_amount", "must be a decimal string"))
			return
		}
		t.MinAmount = &amount
	}
	if req.MaxAmount != nil {
		amount, err := decimal.NewFromString(*req.MaxAmount)
		if err != nil {
			h.respondError(w, r, apperr.InvalidInput("max_amount", "must be a decimal string"))
			return
		}
		t.MaxAmount = &amount
	}

	created, err := h.approvals.CreateTemplate(r.Context(), t)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toTemplateResponse(created))
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		h.respondError(w, r, apperr.InvalidInput("org_id", "is required"))
		return
	}
	activeOnly := r.URL.Query().Get("active") != "false"
	templates, err := h.approvals.ListTemplates(r.Context(), orgID, activeOnly)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, toTemplateResponse(t))
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"templates": out})
}

// --- helpers ---

// actorID reads the authenticated caller's id injected by the gateway.
func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// actorRoles reads the caller's roles injected by the gateway.
func actorRoles(r *http.Request) []string {
	raw := r.Header.Get("X-User-Roles")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roles := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

func auditFilter(r *http.Request) domain.AuditFilter {
	q := r.URL.Query()
	filter := domain.AuditFilter{}
	if v := q.Get("action"); v != "" {
		filter.ActionType = &v
	}
	if v := q.Get("actor_id"); v != "" {
		filter.ActorID = &v
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = &t
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	return filter
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, r, apperr.InvalidInput("body", "invalid JSON"))
		return false
	}
	return true
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}

	code := apperr.CodeOf(err)
	message := "internal server error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	h.respondJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": message,
		},
	})
}

func statusFor(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation, apperr.CodeInvalidTransition:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeUnauthorized:
		return http.StatusForbidden
	case apperr.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
