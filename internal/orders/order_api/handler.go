package order_api

import (
	"context"
	"errors"
	"net/http"

	"ms-tourbooking/internal/auth"
	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/orders"
	"ms-tourbooking/internal/utils"

	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	PlaceOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id string, to models.OrderStatus) (*models.Order, error)
}

type Handler struct {
	Service OrderService
	Logger  *logger.Logger
}

func NewHandler(service OrderService, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/api/products", h.ListProducts)
	r.Get("/api/products/{id}", h.GetProduct)
}

func (h *Handler) UserRoutes(r chi.Router) {
	r.Post("/api/orders", h.PlaceOrder)
	r.Get("/api/orders/me", h.MyOrders)
	r.Get("/api/orders/{id}", h.GetOrder)
}

func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/api/admin/orders", h.ListOrders)
	r.Patch("/api/admin/orders/{id}/status", h.UpdateStatus)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	filter := models.ProductFilter{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
	}
	products, err := h.Service.ListProducts(r.Context(), filter)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Products retrieved", products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Product retrieved", p)
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	o, err := h.Service.PlaceOrder(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Order placed", o)
}

func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListUserOrders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Orders retrieved", list)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	if o.UserID != p.UserID && !p.IsAdmin() {
		h.serviceError(w, orders.ErrNotFound)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Order retrieved", o)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListOrders(r.Context(), models.OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Orders retrieved", list)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.OrderStatusRequest
	if err := utils.DecodeJSON(r, &req); err != nil || req.Status == "" {
		utils.WriteError(w, http.StatusBadRequest, "status is required", err)
		return
	}
	o, err := h.Service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Order status updated", o)
}

func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, orders.ErrInvalid):
		utils.WriteError(w, http.StatusBadRequest, "Invalid order", err)
	case errors.Is(err, orders.ErrProductUnavailable), errors.Is(err, orders.ErrInsufficientStock):
		utils.WriteError(w, http.StatusUnprocessableEntity, "Cart cannot be ordered", err)
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrConflict):
		utils.WriteError(w, http.StatusConflict, "Order status cannot be changed", err)
	default:
		h.Logger.Error("ORDERS", err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
