package bid

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/middleware"
)

// Handler exposes bid and auction HTTP endpoints.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/bids", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Post("/", h.submit)                        // POST /api/v1/bids
		r.Get("/", h.mine)                           // GET /api/v1/bids
		r.Get("/store/{storeID}", h.storeBids)       // GET /api/v1/bids/store/{storeID}
		r.Get("/{bidID}", h.getBid)                  // GET /api/v1/bids/{bidID}
		r.Post("/{bidID}/approve", h.approve)        // POST /api/v1/bids/{bidID}/approve
		r.Post("/{bidID}/reject", h.reject)          // POST /api/v1/bids/{bidID}/reject
		r.Post("/{bidID}/counter", h.counter)        // POST /api/v1/bids/{bidID}/counter
		r.Post("/{bidID}/accept", h.acceptCounter)   // POST /api/v1/bids/{bidID}/accept
		r.Post("/{bidID}/decline", h.declineCounter) // POST /api/v1/bids/{bidID}/decline
		r.Post("/{bidID}/purchase", h.purchaseBid)   // POST /api/v1/bids/{bidID}/purchase
	})
	r.Route("/api/v1/auctions", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Post("/", h.openAuction)                         // POST /api/v1/auctions
		r.Get("/store/{storeID}", h.storeAuctions)         // GET /api/v1/auctions/store/{storeID}
		r.Get("/{auctionID}", h.auctionStatus)             // GET /api/v1/auctions/{auctionID}
		r.Post("/{auctionID}/offers", h.placeOffer)        // POST /api/v1/auctions/{auctionID}/offers
		r.Post("/{auctionID}/purchase", h.purchaseAuction) // POST /api/v1/auctions/{auctionID}/purchase
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitBidRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.service.SubmitBid(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, b)
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	bids, err := h.service.MyBids(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	if bids == nil {
		bids = []*Bid{}
	}
	respond(w, http.StatusOK, bids)
}

func (h *Handler) storeBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.service.StoreBids(r.Context(), chi.URLParam(r, "storeID"), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	if bids == nil {
		bids = []*Bid{}
	}
	respond(w, http.StatusOK, bids)
}

func (h *Handler) getBid(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBid(r.Context(), chi.URLParam(r, "bidID"), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.ApproveBid(r.Context(), chi.URLParam(r, "bidID"), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.RejectBid(r.Context(), chi.URLParam(r, "bidID"), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (h *Handler) counter(w http.ResponseWriter, r *http.Request) {
	var req CounterRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.service.CounterBid(r.Context(), chi.URLParam(r, "bidID"), middleware.GetUserID(r.Context()), req.Price)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (h *Handler) acceptCounter(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.AcceptCounter(r.Context(), chi.URLParam(r, "bidID"), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (h *Handler) declineCounter(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.DeclineCounter(r.Context(), chi.URLParam(r, "bidID"), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (h *Handler) purchaseBid(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.service.PurchaseBid(r.Context(), chi.URLParam(r, "bidID"), middleware.GetUserID(r.Context()), req)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, p)
}

func (h *Handler) openAuction(w http.ResponseWriter, r *http.Request) {
	var req OpenAuctionRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.service.OpenAuction(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, a)
}

func (h *Handler) storeAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.service.StoreAuctions(r.Context(), chi.URLParam(r, "storeID"), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, err)
		return
	}
	if auctions == nil {
		auctions = []*Auction{}
	}
	respond(w, http.StatusOK, auctions)
}

func (h *Handler) auctionStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.AuctionStatus(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, v)
}

func (h *Handler) placeOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := h.service.PlaceOffer(r.Context(), chi.URLParam(r, "auctionID"), middleware.GetUserID(r.Context()), req.Price)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, v)
}

func (h *Handler) purchaseAuction(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.service.PurchaseAuction(r.Context(), chi.URLParam(r, "auctionID"), middleware.GetUserID(r.Context()), req)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, p)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func fail(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}
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
