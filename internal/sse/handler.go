package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"

	"github.com/go-chi/chi/v5"
)

var streamableTables = map[string]bool{
	models.TableTours:        true,
	models.TableTourDates:    true,
	models.TableTourBookings: true,
	models.TableProducts:     true,
	models.TableOrders:       true,
}

// Handler serves GET /api/realtime/{table}.
type Handler struct {
	Logger  *logger.Logger
	Emitter *ChangeEmitter
}

func NewHandler(log *logger.Logger, emitter *ChangeEmitter) *Handler {
	return &Handler{Logger: log, Emitter: emitter}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/realtime/{table}", h.HandleChanges)
}

// HandleChanges streams change events of one table until the client leaves.
func (h *Handler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !streamableTables[table] {
		http.Error(w, "unknown table", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)

	ctx := r.Context()
	events := h.Emitter.Subscribe(ctx, table)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"table\":\"%s\"}\n\n", table)
	flusher.Flush()
	h.Logger.Info("SSE", "client subscribed to "+table)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("encode change event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", "client left "+table)
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
