package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/boostpay/backend/internal/services"
)

type PolicyHandler struct {
	service   *services.PolicyService
	validator *services.ValidationHelper
}

func NewPolicyHandler(service *services.PolicyService) *PolicyHandler {
	return &PolicyHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// UpdateSettings changes the payout policy for a boost or brand
// @Summary Update payout settings
// @Description Change holding period or minimum release amount; limited to one change per entity per 24h
// @Tags payout-settings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param entityType path string true "Entity type (boost or brand)"
// @Param entityID path string true "Entity ID"
// @Param request body object{holdingDays=int,minimumAmount=int64} true "Settings to change"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /payout-settings/{entityType}/{entityID} [put]
func (h *PolicyHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	actorID, ok := r.Context().Value("adminID").(string)
	if !ok || actorID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")

	var req struct {
		HoldingDays   *int   `json:"holdingDays,omitempty" validate:"omitempty,min=0,max=30"`
		MinimumAmount *int64 `json:"minimumAmount,omitempty" validate:"omitempty,min=0,max=5000"`
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

	if err := h.service.UpdateSettings(entityType, entityID, actorID, req.HoldingDays, req.MinimumAmount); err != nil {
		log.Printf("[POLICY] UpdateSettings failed for %s %s: %v", entityType, entityID, err)
		services.SendPayoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// ResolvePolicy returns the effective policy for an earning source
// @Summary Resolve effective payout policy
// @Description Resolve a source's policy through the boost -> brand -> default chain
// @Tags payout-settings
// @Produce json
// @Security BearerAuth
// @Param sourceID path string true "Source (boost) ID"
// @Success 200 {object} models.EffectivePolicy
// @Router /payout-settings/resolve/{sourceID} [get]
func (h *PolicyHandler) ResolvePolicy(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	policy, err := h.service.Resolve(sourceID)
	if err != nil {
		services.SendPayoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policy)
}

// GetHistory returns the append-only settings changelog for an entity
// @Summary Get payout settings history
// @Description List every recorded settings change for a boost or brand, newest first
// @Tags payout-settings
// @Produce json
// @Security BearerAuth
// @Param entityType path string true "Entity type (boost or brand)"
// @Param entityID path string true "Entity ID"
// @Success 200 {object} object{changes=[]models.PolicyChange,count=int}
// @Router /payout-settings/{entityType}/{entityID}/history [get]
func (h *PolicyHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")

	changes, err := h.service.History(entityType, entityID)
	if err != nil {
		services.SendPayoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"changes": changes,
		"count":   len(changes),
	})
}
