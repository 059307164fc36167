package store

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/modules/policy"
)

// Store is a marketplace shop run by the appointment forest in its role ledger.
type Store struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	FounderID   string    `json:"founder_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateStoreRequest is the payload for opening a new store.
type CreateStoreRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (r CreateStoreRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.Invalid("store name is required")
	}
	return nil
}

// Quote is the priced result of evaluating one store bag against its policies.
type Quote struct {
	StoreID  string          `json:"store_id"`
	Lines    []policy.Line   `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}
