package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/boostpay/backend/internal/services"
)

type ReleaseHandler struct {
	service *services.ReleaseService
}

func NewReleaseHandler(service *services.ReleaseService) *ReleaseHandler {
	return &ReleaseHandler{service: service}
}

// Run triggers a release batch manually
// @Summary Release held funds
// @Description Run the held-funds release batch; normally invoked on a schedule, may be scoped to one source for manual runs
// @Tags release
// @Produce json
// @Security BearerAuth
// @Param sourceId query string false "Scope the run to a single source"
// @Success 200 {object} models.ReleaseReport
// @Failure 500 {object} services.ErrorResponse
// @Router /admin/release-held-funds [post]
func (h *ReleaseHandler) Run(w http.ResponseWriter, r *http.Request) {
	adminID, ok := r.Context().Value("adminID").(string)
	if !ok || adminID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	sourceID := strings.TrimSpace(r.URL.Query().Get("sourceId"))
	log.Printf("[RELEASE] Manual run triggered by admin %s (source=%q)", adminID, sourceID)

	report, err := h.service.ReleaseHeldFunds(r.Context(), sourceID)
	if err != nil {
		log.Printf("[RELEASE] Manual run failed: %v", err)
		services.SendPayoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
