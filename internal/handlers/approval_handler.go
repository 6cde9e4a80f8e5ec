package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/boostpay/backend/internal/config"
	"github.com/boostpay/backend/internal/services"
)

type ApprovalHandler struct {
	service   *services.ApprovalService
	config    *config.PayoutConfig
	validator *services.ValidationHelper
}

func NewApprovalHandler(service *services.ApprovalService, cfg *config.PayoutConfig) *ApprovalHandler {
	return &ApprovalHandler{
		service:   service,
		config:    cfg,
		validator: services.NewValidationHelper(),
	}
}

// CreatePayout creates a payout request together with its quorum ballot
// @Summary Create payout request
// @Description Create a payment obligation requiring quorum approval before disbursement
// @Tags payouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{recipientId=string,amount=int64,requiredApprovals=int} true "Payout request"
// @Success 201 {object} object{payout=models.PayoutRequest,approval=models.ApprovalRequest}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /payouts [post]
func (h *ApprovalHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	adminID, ok := r.Context().Value("adminID").(string)
	if !ok || adminID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		RecipientID       string `json:"recipientId" validate:"required"`
		Amount            int64  `json:"amount" validate:"required,gt=0"`
		RequiredApprovals int    `json:"requiredApprovals" validate:"omitempty,min=1,max=10"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	required := req.RequiredApprovals
	if required == 0 {
		required = h.config.DefaultRequiredApprovals
	}

	payout, approval, err := h.service.CreatePayout(req.RecipientID, req.Amount, required, h.config.ApprovalTTL)
	if err != nil {
		log.Printf("[APPROVAL] CreatePayout failed: %v", err)
		services.SendPayoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"payout":   payout,
		"approval": approval,
	})
}

// CastVote records one admin's vote on an approval request
// @Summary Cast approval vote
// @Description Cast an approve or reject vote; a single reject vetoes the payout
// @Tags approvals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param approvalID path string true "Approval request ID"
// @Param request body object{vote=string,comment=string} true "Vote"
// @Success 200 {object} models.VoteResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /approvals/{approvalID}/votes [post]
func (h *ApprovalHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	adminID, ok := r.Context().Value("adminID").(string)
	if !ok || adminID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	approvalID := chi.URLParam(r, "approvalID")

	var req struct {
		Vote    string `json:"vote" validate:"required,oneof=approve reject"`
		Comment string `json:"comment,omitempty" validate:"omitempty,max=2000"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	log.Printf("[APPROVAL] CastVote: approval=%s admin=%s vote=%s", approvalID, adminID, req.Vote)

	result, err := h.service.CastVote(approvalID, adminID, req.Vote, req.Comment)
	if err != nil {
		log.Printf("[APPROVAL] CastVote failed for approval %s: %v", approvalID, err)
		services.SendPayoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetApproval retrieves the current state of an approval request
// @Summary Get approval request
// @Description Get an approval request with its current vote tally
// @Tags approvals
// @Produce json
// @Security BearerAuth
// @Param approvalID path string true "Approval request ID"
// @Success 200 {object} object{approval=models.ApprovalRequest,voteCounts=models.VoteCounts}
// @Failure 404 {object} services.ErrorResponse
// @Router /approvals/{approvalID} [get]
func (h *ApprovalHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")

	approval, counts, err := h.service.GetApproval(approvalID)
	if err != nil {
		services.SendPayoutError(w, err)
		return
	}

	expiresIn := int(time.Until(approval.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"approval":   approval,
		"voteCounts": counts,
		"expiresIn":  expiresIn,
	})
}
