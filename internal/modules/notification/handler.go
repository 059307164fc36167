package notification

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/georgemunganga/marketplace/internal/middleware"
)

// Handler exposes the caller's notification queue and websocket stream.
type Handler struct{ hub *Hub }

func NewHandler(hub *Hub) *Handler { return &Handler{hub: hub} }

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/", h.listPending) // GET /api/v1/notifications
		r.Get("/ws", h.stream)    // GET /api/v1/notifications/ws (upgrade)
	})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.hub.Pending(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if pending == nil {
		pending = []*Notification{}
	}
	respond(w, http.StatusOK, pending)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	// Upgrade writes its own error response on handshake failure.
	if err := h.hub.Serve(w, r, middleware.GetUserID(r.Context())); err != nil {
		h.hub.log.WithError(err).Debug("notification upgrade failed")
	}
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
