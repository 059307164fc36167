package store

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/middleware"
	"github.com/georgemunganga/marketplace/internal/modules/inventory"
	"github.com/georgemunganga/marketplace/internal/modules/policy"
	"github.com/georgemunganga/marketplace/internal/modules/roles"
)

// Handler exposes store management HTTP endpoints.
type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/stores", func(r chi.Router) {
		r.Get("/", h.listStores)            // GET  /api/v1/stores?name=
		r.Get("/{storeID}", h.getStore)     // GET  /api/v1/stores/{storeID}
		r.Post("/{storeID}/quote", h.quote) // POST /api/v1/stores/{storeID}/quote

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)

			r.Post("/", h.createStore)
			r.Post("/{storeID}/open", h.openStore)
			r.Post("/{storeID}/close", h.closeStore)
			r.Delete("/{storeID}", h.removeStore)

			// ── appointments ──
			r.Get("/{storeID}/staff", h.staff)
			r.Post("/{storeID}/owners", h.appointOwner)
			r.Delete("/{storeID}/owners/{userID}", h.removeOwner)
			r.Post("/{storeID}/managers", h.appointManager)
			r.Delete("/{storeID}/managers/{userID}", h.removeManager)
			r.Get("/{storeID}/managers/{userID}/permissions", h.permissionsOf)
			r.Post("/{storeID}/managers/{userID}/permissions", h.grantPermission)
			r.Delete("/{storeID}/managers/{userID}/permissions/{permission}", h.revokePermission)

			// ── listings ──
			r.Post("/{storeID}/listings", h.addListing)
			r.Patch("/{storeID}/listings/{listingID}", h.editListing)
			r.Delete("/{storeID}/listings/{listingID}", h.removeListing)
			r.Put("/{storeID}/listings/{listingID}/quantity", h.setQuantity)
			r.Post("/{storeID}/listings/{listingID}/restock", h.restock)

			// ── policies ──
			r.Get("/{storeID}/policies", h.policies)
			r.Post("/{storeID}/policies/purchase", h.addPurchasePolicy)
			r.Delete("/{storeID}/policies/purchase", h.removePurchasePolicy)
			r.Post("/{storeID}/policies/discounts", h.addDiscount)
			r.Delete("/{storeID}/policies/discounts/{index}", h.removeDiscount)
			r.Put("/{storeID}/policies/combination", h.setCombination)
		})
	})
}

// ---- stores ----

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		st, err := h.service.GetStoreByName(r.Context(), name)
		if err != nil {
			fail(w, err)
			return
		}
		respond(w, http.StatusOK, []*Store{st})
		return
	}
	stores, err := h.service.ListStores(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	if stores == nil {
		stores = []*Store{}
	}
	respond(w, http.StatusOK, stores)
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetStore(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, st)
}

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	var req CreateStoreRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.service.CreateStore(r.Context(), actor(r), req)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, st)
}

func (h *Handler) openStore(w http.ResponseWriter, r *http.Request) {
	if err := h.service.OpenStore(r.Context(), chi.URLParam(r, "storeID"), actor(r)); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "store opened"})
}

func (h *Handler) closeStore(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseStore(r.Context(), chi.URLParam(r, "storeID"), actor(r)); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "store closed"})
}

func (h *Handler) removeStore(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveStore(r.Context(), chi.URLParam(r, "storeID"), actor(r)); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "store removed"})
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var cart policy.Cart
	if !decode(w, r, &cart) {
		return
	}
	q, err := h.service.Quote(r.Context(), chi.URLParam(r, "storeID"), cart)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, q)
}

// ---- appointments ----

type appointRequest struct {
	UserID string `json:"user_id"`
}

type permissionRequest struct {
	Permission string `json:"permission"`
}

func (h *Handler) staff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.service.Staff(r.Context(), chi.URLParam(r, "storeID"), actor(r))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, staff)
}

func (h *Handler) appointOwner(w http.ResponseWriter, r *http.Request) {
	var req appointRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.AppointOwner(r.Context(), chi.URLParam(r, "storeID"), actor(r), req.UserID); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]string{"status": "owner appointed"})
}

func (h *Handler) appointManager(w http.ResponseWriter, r *http.Request) {
	var req appointRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.AppointManager(r.Context(), chi.URLParam(r, "storeID"), actor(r), req.UserID); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]string{"status": "manager appointed"})
}

func (h *Handler) removeOwner(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.RemoveOwner(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, removed)
}

func (h *Handler) removeManager(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveManager(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "userID")); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "manager removed"})
}

func (h *Handler) permissionsOf(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.PermissionsOf(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, err)
		return
	}
	if perms == nil {
		perms = []roles.Permission{}
	}
	respond(w, http.StatusOK, perms)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := roles.ParsePermission(req.Permission)
	if err != nil {
		fail(w, err)
		return
	}
	if err := h.service.GrantPermission(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "userID"), p); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "permission granted"})
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	p, err := roles.ParsePermission(chi.URLParam(r, "permission"))
	if err != nil {
		fail(w, err)
		return
	}
	if err := h.service.RevokePermission(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "userID"), p); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "permission revoked"})
}

// ---- listings ----

func (h *Handler) addListing(w http.ResponseWriter, r *http.Request) {
	var req inventory.AddListingRequest
	if !decode(w, r, &req) {
		return
	}
	l, err := h.service.AddListing(r.Context(), chi.URLParam(r, "storeID"), actor(r), req)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, l)
}

func (h *Handler) editListing(w http.ResponseWriter, r *http.Request) {
	var req inventory.EditListingRequest
	if !decode(w, r, &req) {
		return
	}
	l, err := h.service.EditListing(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "listingID"), req)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, l)
}

func (h *Handler) removeListing(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveListing(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "listingID")); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "listing removed"})
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.SetQuantity(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "listingID"), req.Quantity); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"quantity": req.Quantity})
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.Restock(r.Context(), chi.URLParam(r, "storeID"), actor(r), chi.URLParam(r, "listingID"), req.Delta); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "listing restocked"})
}

// ---- policies ----

func (h *Handler) policies(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Policies(r.Context(), chi.URLParam(r, "storeID"), actor(r))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, doc)
}

func (h *Handler) addPurchasePolicy(w http.ResponseWriter, r *http.Request) {
	var rec policy.PurchaseRecord
	if !decode(w, r, &rec) {
		return
	}
	if err := h.service.AddPurchasePolicy(r.Context(), chi.URLParam(r, "storeID"), actor(r), rec); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, rec)
}

func (h *Handler) removePurchasePolicy(w http.ResponseWriter, r *http.Request) {
	var rec policy.PurchaseRecord
	if !decode(w, r, &rec) {
		return
	}
	if err := h.service.RemovePurchasePolicy(r.Context(), chi.URLParam(r, "storeID"), actor(r), rec); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "purchase policy removed"})
}

func (h *Handler) addDiscount(w http.ResponseWriter, r *http.Request) {
	var rec policy.DiscountRecord
	if !decode(w, r, &rec) {
		return
	}
	index, err := h.service.AddDiscount(r.Context(), chi.URLParam(r, "storeID"), actor(r), rec)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]int{"index": index})
}

func (h *Handler) removeDiscount(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		fail(w, apperr.Invalid("discount index must be a number"))
		return
	}
	if err := h.service.RemoveDiscount(r.Context(), chi.URLParam(r, "storeID"), actor(r), index); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "discount removed"})
}

func (h *Handler) setCombination(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Combination string `json:"combination_type"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.SetDiscountCombination(r.Context(), chi.URLParam(r, "storeID"), actor(r), req.Combination); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"combination_type": req.Combination})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func actor(r *http.Request) string { return middleware.GetUserID(r.Context()) }

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func fail(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}
	var rejected *apperr.PurchaseRejectedError
	if errors.As(err, &rejected) {
		body["violations"] = rejected.Violations
	}
	respond(w, apperr.HTTPStatus(err), body)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
