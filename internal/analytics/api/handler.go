package analytics_api

import (
	"net/http"

	"ms-tourbooking/internal/analytics"
	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler handles the admin dashboard endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// RegisterRoutes registers the analytics routes on an admin-only router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin/analytics", func(r chi.Router) {
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/occupancy", h.GetOccupancy)
	})
}

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Dashboard(r.Context())
	if err != nil {
		h.Logger.Error("ANALYTICS", "dashboard: "+err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "Failed to build dashboard", nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Dashboard retrieved", d)
}

func (h *Handler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Occupancy(r.Context())
	if err != nil {
		h.Logger.Error("ANALYTICS", "occupancy: "+err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "Failed to compute occupancy", nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Occupancy retrieved", o)
}
