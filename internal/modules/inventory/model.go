package inventory

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Listing is a product offered by one store with its stock counter.
// Quantity is changed only through Stock operations and SetQuantity.
type Listing struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AddListingRequest holds data for listing a product in a store.
type AddListingRequest struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// Validate checks the request before a listing is built from it.
func (r AddListingRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.Invalid("listing name is required")
	}
	if r.Price.IsNegative() {
		return apperr.Invalid("price must be >= 0, got %s", r.Price)
	}
	if r.Quantity < 0 {
		return apperr.Invalid("quantity must be >= 0, got %d", r.Quantity)
	}
	return nil
}

// EditListingRequest changes listing details. Nil fields are left alone.
type EditListingRequest struct {
	Name        *string          `json:"name,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
}

// Apply writes the set fields onto l.
func (r EditListingRequest) Apply(l *Listing) error {
	if r.Name != nil {
		if strings.TrimSpace(*r.Name) == "" {
			return apperr.Invalid("listing name is required")
		}
		l.Name = *r.Name
	}
	if r.Category != nil {
		l.Category = *r.Category
	}
	if r.Description != nil {
		l.Description = *r.Description
	}
	if r.Price != nil {
		if r.Price.IsNegative() {
			return apperr.Invalid("price must be >= 0, got %s", *r.Price)
		}
		l.Price = *r.Price
	}
	return nil
}

// Cuts is a checkout's worth of stock changes: store id -> listing id -> quantity.
type Cuts map[string]map[string]int

// Add records qty of listingID in storeID.
func (c Cuts) Add(storeID, listingID string, qty int) {
	if c[storeID] == nil {
		c[storeID] = make(map[string]int)
	}
	c[storeID][listingID] += qty
}

// cut is one flattened entry of Cuts.
type cut struct {
	storeID   string
	listingID string
	qty       int
}

// flatten validates c and returns its entries sorted by listing id, the global
// lock order every Stock implementation follows.
func (c Cuts) flatten() ([]cut, error) {
	var out []cut
	seen := make(map[string]string)
	for storeID, items := range c {
		for listingID, qty := range items {
			if strings.TrimSpace(listingID) == "" {
				return nil, apperr.Invalid("empty listing id in store %s", storeID)
			}
			if qty <= 0 {
				return nil, apperr.Invalid("quantity of listing %s must be > 0, got %d", listingID, qty)
			}
			if other, dup := seen[listingID]; dup {
				return nil, apperr.Invalid("listing %s requested under stores %s and %s", listingID, other, storeID)
			}
			seen[listingID] = storeID
			out = append(out, cut{storeID: storeID, listingID: listingID, qty: qty})
		}
	}
	if len(out) == 0 {
		return nil, apperr.Invalid("nothing to reserve")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].listingID < out[j].listingID })
	return out, nil
}
