package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// PurchasePolicy is a closed set of cart predicates. Implementations are
// DefaultPurchase, MinItems, MaxItems and MinPrice.
type PurchasePolicy interface {
	Kind() PurchaseKind
	purchasePolicy()
}

// PurchaseKind is the record tag of a purchase policy.
type PurchaseKind string

const (
	PurchaseDefault  PurchaseKind = "DEFAULT"
	PurchaseMinItems PurchaseKind = "MINITEMS"
	PurchaseMaxItems PurchaseKind = "MAXITEMS"
	PurchaseMinPrice PurchaseKind = "MINPRICE"
)

// DefaultPurchase allows every cart.
type DefaultPurchase struct{}

// MinItems requires at least N units in the cart.
type MinItems struct{ N int }

// MaxItems allows at most N units in the cart.
type MaxItems struct{ N int }

// MinPrice requires the cart subtotal to reach Amount.
type MinPrice struct{ Amount decimal.Decimal }

func (DefaultPurchase) Kind() PurchaseKind { return PurchaseDefault }
func (MinItems) Kind() PurchaseKind        { return PurchaseMinItems }
func (MaxItems) Kind() PurchaseKind        { return PurchaseMaxItems }
func (MinPrice) Kind() PurchaseKind        { return PurchaseMinPrice }

func (DefaultPurchase) purchasePolicy() {}
func (MinItems) purchasePolicy()        {}
func (MaxItems) purchasePolicy()        {}
func (MinPrice) purchasePolicy()        {}

// NewMinItems validates n >= 0.
func NewMinItems(n int) (MinItems, error) {
	if n < 0 {
		return MinItems{}, apperr.Invalid("min items must be >= 0, got %d", n)
	}
	return MinItems{N: n}, nil
}

// NewMaxItems validates n >= 0.
func NewMaxItems(n int) (MaxItems, error) {
	if n < 0 {
		return MaxItems{}, apperr.Invalid("max items must be >= 0, got %d", n)
	}
	return MaxItems{N: n}, nil
}

// NewMinPrice validates amount >= 0.
func NewMinPrice(amount decimal.Decimal) (MinPrice, error) {
	if err := nonNegative("min price", amount); err != nil {
		return MinPrice{}, err
	}
	return MinPrice{Amount: amount}, nil
}

// Describe renders a policy for violation reports and listings.
func Describe(p PurchasePolicy) string {
	switch p := p.(type) {
	case MinItems:
		return fmt.Sprintf("%s(%d)", p.Kind(), p.N)
	case MaxItems:
		return fmt.Sprintf("%s(%d)", p.Kind(), p.N)
	case MinPrice:
		return fmt.Sprintf("%s(%s)", p.Kind(), p.Amount)
	default:
		return string(p.Kind())
	}
}

// Check evaluates p against resolved cart lines. It returns "" when the cart
// passes, otherwise the reason it does not.
func Check(p PurchasePolicy, lines []Line) string {
	units := 0
	for _, l := range lines {
		units += l.Quantity
	}
	switch p := p.(type) {
	case MinItems:
		if units < p.N {
			return fmt.Sprintf("cart has %d items, at least %d required", units, p.N)
		}
	case MaxItems:
		if units > p.N {
			return fmt.Sprintf("cart has %d items, at most %d allowed", units, p.N)
		}
	case MinPrice:
		if total := Subtotal(lines); total.LessThan(p.Amount) {
			return fmt.Sprintf("cart total %s is below the minimum %s", total, p.Amount)
		}
	}
	return ""
}

// IsAllowed resolves the cart and evaluates p. Lookup failures are returned as errors.
func IsAllowed(p PurchasePolicy, cart Cart, lookup Lookup) (bool, error) {
	lines, err := Resolve(cart, lookup)
	if err != nil {
		return false, err
	}
	return Check(p, lines) == "", nil
}

func samePurchase(a, b PurchasePolicy) bool {
	switch a := a.(type) {
	case MinPrice:
		bp, ok := b.(MinPrice)
		return ok && a.Amount.Equal(bp.Amount)
	default:
		return a == b
	}
}
