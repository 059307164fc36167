package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/middleware"
)

// Handler exposes checkout and purchase history HTTP endpoints.
type Handler struct {
	service Service
	limit   func(http.Handler) http.Handler
}

// NewHandler wires the endpoints. limit, when not nil, guards checkout.
func NewHandler(service Service, limit func(http.Handler) http.Handler) *Handler {
	return &Handler{service: service, limit: limit}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/", h.checkout) // POST /api/v1/checkout
	})
	r.Route("/api/v1/purchases", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/", h.history)                     // GET /api/v1/purchases
		r.Get("/{purchaseID}", h.getPurchase)     // GET /api/v1/purchases/{purchaseID}
		r.Get("/store/{storeID}", h.storeHistory) // GET /api/v1/purchases/store/{storeID}
	})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	p, err := h.service.Checkout(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, p)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.service.History(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	if purchases == nil {
		purchases = []*Purchase{}
	}
	respond(w, http.StatusOK, purchases)
}

func (h *Handler) getPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPurchase(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "purchaseID"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *Handler) storeHistory(w http.ResponseWriter, r *http.Request) {
	sales, err := h.service.StoreHistory(r.Context(), chi.URLParam(r, "storeID"), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	if sales == nil {
		sales = []*Sale{}
	}
	respond(w, http.StatusOK, sales)
}

func fail(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}
	var rejected *apperr.PurchaseRejectedError
	if errors.As(err, &rejected) {
		body["store_id"] = rejected.StoreID
		body["violations"] = rejected.Violations
	}
	var short *apperr.InsufficientStockError
	if errors.As(err, &short) {
		body["listing_id"] = short.ListingID
		body["available"] = short.Available
	}
	respond(w, apperr.HTTPStatus(err), body)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
