package inventory

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Handler exposes the public, read-only listing endpoints. Listing edits are
// routed through the store module, which checks permissions first.
type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/listings", func(r chi.Router) {
		r.Get("/", h.listListings) // ?store_id=...
		r.Get("/{id}", h.getListing)
	})
}

func (h *Handler) getListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.service.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, l)
}

func (h *Handler) listListings(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		respond(w, http.StatusBadRequest, map[string]string{"error": "store_id is required"})
		return
	}
	listings, err := h.service.ListListings(r.Context(), storeID)
	if err != nil {
		fail(w, err)
		return
	}
	if listings == nil {
		listings = []*Listing{}
	}
	respond(w, http.StatusOK, listings)
}

func fail(w http.ResponseWriter, err error) {
	respond(w, apperr.HTTPStatus(err), map[string]string{"error": err.Error()})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
