package tour_api

import (
	"context"
	"errors"
	"net/http"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/tours"
	"ms-tourbooking/internal/utils"

	"github.com/go-chi/chi/v5"
)

type TourService interface {
	CreateTour(ctx context.Context, req models.TourRequest) (*models.Tour, error)
	UpdateTour(ctx context.Context, id string, req models.TourRequest) (*models.Tour, error)
	DeactivateTour(ctx context.Context, id string) error
	GetTour(ctx context.Context, id string) (*models.Tour, error)
	ListTours(ctx context.Context, activeOnly bool) ([]models.Tour, error)
	AddDate(ctx context.Context, tourID string, req models.TourDateRequest) (*models.TourDate, error)
	ListDates(ctx context.Context, tourID string) ([]models.TourDate, error)
	SetDateAvailability(ctx context.Context, tourID, dateID string, available bool) (*models.TourDate, error)
	DeleteDate(ctx context.Context, tourID, dateID string) (bool, error)
}

// DateLister serves the cached list a booking dialog offers.
type DateLister interface {
	AvailableDates(ctx context.Context, tourID string) ([]models.TourDate, error)
}

// DateView is a date as the booking dialog shows it.
type DateView struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	MaxBookings int    `json:"max_bookings"`
	Remaining   int    `json:"remaining"`
}

type Handler struct {
	Service TourService
	Dates   DateLister
	Logger  *logger.Logger
}

func NewHandler(service TourService, dates DateLister, log *logger.Logger) *Handler {
	return &Handler{Service: service, Dates: dates, Logger: log}
}

func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/api/tours", h.ListActiveTours)
	r.Get("/api/tours/{id}", h.GetTour)
	r.Get("/api/tours/{id}/dates", h.AvailableDates)
}

func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/api/admin/tours", h.ListAllTours)
	r.Post("/api/admin/tours", h.CreateTour)
	r.Put("/api/admin/tours/{id}", h.UpdateTour)
	r.Delete("/api/admin/tours/{id}", h.DeactivateTour)
	r.Get("/api/admin/tours/{id}/dates", h.ListDates)
	r.Post("/api/admin/tours/{id}/dates", h.AddDate)
	r.Patch("/api/admin/tours/{id}/dates/{dateID}", h.SetAvailability)
	r.Delete("/api/admin/tours/{id}/dates/{dateID}", h.DeleteDate)
}

func (h *Handler) ListActiveTours(w http.ResponseWriter, r *http.Request) {
	h.listTours(w, r, true)
}

func (h *Handler) ListAllTours(w http.ResponseWriter, r *http.Request) {
	h.listTours(w, r, false)
}

func (h *Handler) listTours(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	list, err := h.Service.ListTours(r.Context(), activeOnly)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tours retrieved", list)
}

func (h *Handler) GetTour(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.GetTour(r.Context(), chi.URLParam(r, "id"))
	if err == nil && !t.IsActive {
		err = tours.ErrNotFound
	}
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tour retrieved", t)
}

func (h *Handler) AvailableDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.Dates.AvailableDates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	views := make([]DateView, 0, len(dates))
	for _, d := range dates {
		views = append(views, DateView{ID: d.ID, Date: d.Date(), MaxBookings: d.MaxBookings, Remaining: d.Remaining()})
	}
	utils.WriteSuccess(w, http.StatusOK, "Dates retrieved", views)
}

func (h *Handler) CreateTour(w http.ResponseWriter, r *http.Request) {
	var req models.TourRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	t, err := h.Service.CreateTour(r.Context(), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Tour created", t)
}

func (h *Handler) UpdateTour(w http.ResponseWriter, r *http.Request) {
	var req models.TourRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	t, err := h.Service.UpdateTour(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tour updated", t)
}

func (h *Handler) DeactivateTour(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeactivateTour(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tour deactivated", nil)
}

func (h *Handler) ListDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.Service.ListDates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Dates retrieved", dates)
}

func (h *Handler) AddDate(w http.ResponseWriter, r *http.Request) {
	var req models.TourDateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	d, err := h.Service.AddDate(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Date added", d)
}

func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsAvailable *bool `json:"is_available"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil || body.IsAvailable == nil {
		utils.WriteError(w, http.StatusBadRequest, "is_available is required", err)
		return
	}
	d, err := h.Service.SetDateAvailability(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "dateID"), *body.IsAvailable)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Date updated", d)
}

func (h *Handler) DeleteDate(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Service.DeleteDate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "dateID"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if !deleted {
		utils.WriteSuccess(w, http.StatusOK, "Date has bookings and was deactivated instead", map[string]bool{"deleted": false})
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Date deleted", map[string]bool{"deleted": true})
}

func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tours.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, tours.ErrInvalid), errors.Is(err, tours.ErrDateInPast):
		utils.WriteError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, tours.ErrDuplicateDate):
		utils.WriteError(w, http.StatusConflict, "Date already exists", err)
	default:
		h.Logger.Error("TOURS", err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
