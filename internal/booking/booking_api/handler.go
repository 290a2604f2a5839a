package booking_api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ms-tourbooking/internal/auth"
	"ms-tourbooking/internal/booking"
	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/qr"
	"ms-tourbooking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type BookingRequester interface {
	RequestBooking(ctx context.Context, form booking.Form) booking.Result
}

type BookingService interface {
	GetBooking(ctx context.Context, id string) (*models.TourBooking, error)
	ListBookings(ctx context.Context, filter booking.ListFilter) ([]models.TourBooking, error)
	ListUserBookings(ctx context.Context, userID string) ([]models.TourBooking, error)
	UpdateStatus(ctx context.Context, id string, to models.BookingStatus) (*models.TourBooking, error)
}

type ReconcileRunner interface {
	RunOnce(ctx context.Context) (booking.ReconcileReport, error)
}

type Handler struct {
	Requester  BookingRequester
	Service    BookingService
	Reconciler ReconcileRunner
	QR         *qr.QRGenerator
	Logger     *logger.Logger
}

func NewHandler(requester BookingRequester, service BookingService, reconciler ReconcileRunner, qrGen *qr.QRGenerator, log *logger.Logger) *Handler {
	return &Handler{
		Requester:  requester,
		Service:    service,
		Reconciler: reconciler,
		QR:         qrGen,
		Logger:     log,
	}
}

// UserRoutes are mounted behind the auth middleware.
func (h *Handler) UserRoutes(r chi.Router) {
	r.Post("/api/bookings", h.CreateBooking)
	r.Get("/api/bookings/me", h.MyBookings)
	r.Get("/api/bookings/{id}/qr", h.BookingQR)
}

// AdminRoutes are mounted behind the auth middleware and RequireRole(admin).
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/api/admin/bookings", h.ListBookings)
	r.Get("/api/admin/bookings/{id}", h.GetBooking)
	r.Patch("/api/admin/bookings/{id}/status", h.UpdateStatus)
	r.Post("/api/admin/bookings/reconcile", h.Reconcile)
	r.Post("/api/admin/bookings/checkin", h.Checkin)
}

// CreateBooking handles the booking dialog submit.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var form booking.Form
	if err := utils.DecodeJSON(r, &form); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	form.UserID = auth.UserID(r.Context())

	res := h.Requester.RequestBooking(r.Context(), form)
	status := statusFor(res.Outcome)
	utils.WriteJSON(w, status, utils.APIResponse{
		Success:   res.Outcome.Committed(),
		Message:   res.Message,
		Data:      res,
		Error:     res.Outcome.Detail,
		Timestamp: time.Now().UTC(),
	})
}

// statusFor maps an allocator outcome to the HTTP status of the submit.
func statusFor(out booking.Outcome) int {
	switch out.Kind {
	case booking.KindCommitted:
		return http.StatusCreated
	case booking.KindRejected:
		if out.Reason == booking.ReasonInvalidRequest {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	default:
		if out.Reason == booking.ReasonLedgerInconsistency {
			// the booking row exists and is awaiting reconciliation
			return http.StatusAccepted
		}
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) MyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Service.ListUserBookings(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Bookings retrieved", bookings)
}

// BookingQR renders the check-in code of a booking for its owner.
func (h *Handler) BookingQR(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	if b.UserID != p.UserID && !p.IsAdmin() {
		// not revealing other users' bookings
		utils.WriteError(w, http.StatusNotFound, "Booking not found", booking.ErrNotFound)
		return
	}
	if b.Status == models.BookingRejected {
		utils.WriteError(w, http.StatusConflict, "Rejected bookings have no check-in code", nil)
		return
	}

	png, err := h.QR.GenerateBookingQR(b)
	if err != nil {
		h.Logger.Error("QR", "generate booking qr: "+err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "Could not generate QR code", nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := booking.ListFilter{
		Status:  models.BookingStatus(q.Get("status")),
		Flagged: q.Get("flagged") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			utils.WriteError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		filter.Limit = limit
	}
	switch filter.Status {
	case "", models.BookingPending, models.BookingApproved, models.BookingRejected:
	default:
		utils.WriteError(w, http.StatusBadRequest, "unknown status filter", nil)
		return
	}

	bookings, err := h.Service.ListBookings(r.Context(), filter)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Bookings retrieved", bookings)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Booking retrieved", b)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.BookingStatusRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "status must be approved or rejected", err)
		return
	}

	b, err := h.Service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Booking status updated", b)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reconciler.RunOnce(r.Context())
	if err != nil {
		h.Logger.Warn("RECONCILE", "manual run finished with errors: "+err.Error())
		utils.WriteJSON(w, http.StatusMultiStatus, utils.APIResponse{
			Success:   false,
			Message:   "Reconciliation finished with errors",
			Data:      report,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Reconciliation finished", report)
}

// Checkin verifies a scanned booking code.
// Expected POST request body: {"encrypted_qr": "base64_encrypted_string"}
func (h *Handler) Checkin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EncryptedQR string `json:"encrypted_qr"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil || body.EncryptedQR == "" {
		utils.WriteError(w, http.StatusBadRequest, "encrypted_qr is required", err)
		return
	}

	payload, err := h.QR.Open(body.EncryptedQR)
	if err != nil {
		h.Logger.LogSecurity("QR_REJECTED", err.Error())
		utils.WriteError(w, http.StatusBadRequest, "Invalid QR code", err)
		return
	}
	b, err := h.Service.GetBooking(r.Context(), payload.BookingID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if b.Status != models.BookingApproved {
		utils.WriteError(w, http.StatusConflict, "Booking is "+string(b.Status)+", not approved", nil)
		return
	}
	h.Logger.LogBooking("CHECKIN", b.BookingNumber, "booking checked in")
	utils.WriteSuccess(w, http.StatusOK, "Booking verified", b)
}

func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "Booking not found", err)
	case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, booking.ErrNeedsReconciliation):
		utils.WriteError(w, http.StatusConflict, "Booking status cannot be changed", err)
	default:
		h.Logger.Error("BOOKING", err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
