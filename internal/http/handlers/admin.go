package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/tapreward/server/internal/middleware"
	"github.com/tapreward/server/internal/model"
	"github.com/tapreward/server/internal/reward"
)

// AdminHandler handles reward period management
type AdminHandler struct {
	periods *reward.PeriodService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(periods *reward.PeriodService) *AdminHandler {
	return &AdminHandler{periods: periods}
}

// startPeriodRequest is the request body for POST /admin/periods
type startPeriodRequest struct {
	OpenedBy string `json:"openedBy"`
}

// periodResponse describes a reward period
type periodResponse struct {
	PeriodID  string     `json:"periodId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	OpenedBy  string     `json:"openedBy"`
}

func toPeriodResponse(p model.RewardPeriod) periodResponse {
	return periodResponse{
		PeriodID:  p.ID.String(),
		StartedAt: p.StartedAt,
		EndedAt:   p.EndedAt,
		OpenedBy:  p.OpenedBy,
	}
}

// HandleStartPeriod handles POST /admin/periods. openedBy defaults to the token subject.
func (h *AdminHandler) HandleStartPeriod(w http.ResponseWriter, r *http.Request) {
	var req startPeriodRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	openedBy := strings.TrimSpace(req.OpenedBy)
	if openedBy == "" {
		openedBy, _ = middleware.GetAdminSubject(r.Context())
	}

	period, err := h.periods.Start(r.Context(), openedBy)
	if err != nil {
		respondWithOutcome(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toPeriodResponse(period))
}

// HandleStopPeriod handles POST /admin/periods/stop
func (h *AdminHandler) HandleStopPeriod(w http.ResponseWriter, r *http.Request) {
	stopped, err := h.periods.Stop(r.Context())
	if err != nil {
		respondWithOutcome(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// HandleActivePeriod handles GET /admin/periods/active
func (h *AdminHandler) HandleActivePeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.periods.Active(r.Context())
	if err != nil {
		respondWithOutcome(w, err)
		return
	}
	if period == nil {
		respondJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"active": true, "period": toPeriodResponse(*period)})
}
