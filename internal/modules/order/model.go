package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/modules/payment"
	"github.com/georgemunganga/marketplace/internal/modules/policy"
)

// Purchase is one completed checkout spanning one or more stores.
type Purchase struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Stores        []StorePurchase `json:"stores"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	TransactionID string          `json:"transaction_id"`
	TrackingID    string          `json:"tracking_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StorePurchase is the part of a purchase bought from one store.
type StorePurchase struct {
	StoreID  string          `json:"store_id"`
	Lines    []Line          `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Line is one listing bought at the price it had when the bag was quoted.
type Line struct {
	ListingID string          `json:"listing_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Sale is what a store's owners see of a purchase: their own bag only.
type Sale struct {
	PurchaseID string `json:"purchase_id"`
	UserID     string `json:"user_id"`
	StorePurchase
	CreatedAt time.Time `json:"created_at"`
}

// CheckoutRequest carries one bag per store plus how to pay and deliver.
type CheckoutRequest struct {
	Bags     map[string]policy.Cart  `json:"bags"`
	Payment  payment.PaymentDetails  `json:"payment"`
	Shipment payment.ShipmentDetails `json:"shipment"`
}

func (r CheckoutRequest) Validate() error {
	if len(r.Bags) == 0 {
		return apperr.Invalid("checkout needs at least one store bag")
	}
	if err := r.Payment.Validate(); err != nil {
		return err
	}
	return r.Shipment.Validate()
}

// DirectPurchase is one listing bought at a negotiated unit price.
type DirectPurchase struct {
	StoreID   string                  `json:"store_id"`
	ListingID string                  `json:"listing_id"`
	Name      string                  `json:"name"`
	Quantity  int                     `json:"quantity"`
	UnitPrice decimal.Decimal         `json:"unit_price"`
	Payment   payment.PaymentDetails  `json:"payment"`
	Shipment  payment.ShipmentDetails `json:"shipment"`
}

func (r DirectPurchase) Validate() error {
	if r.StoreID == "" || r.ListingID == "" {
		return apperr.Invalid("store_id and listing_id are required")
	}
	if r.Quantity <= 0 {
		return apperr.Invalid("quantity must be > 0, got %d", r.Quantity)
	}
	if !r.UnitPrice.IsPositive() {
		return apperr.Invalid("unit price must be > 0, got %s", r.UnitPrice)
	}
	if err := r.Payment.Validate(); err != nil {
		return err
	}
	return r.Shipment.Validate()
}

func linesOf(lines []policy.Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, Line{
			ListingID: l.Product.ListingID,
			Name:      l.Product.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Product.Price,
			LineTotal: l.Total,
		})
	}
	return out
}
