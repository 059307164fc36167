// Package policy evaluates store purchase rules and discount trees against a cart.
// Every policy value is immutable and evaluation is free of side effects, so a
// Handler can be shared by concurrent checkouts without locking.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Cart is the snapshot of one store bag: listing id -> quantity, plus coupon
// codes the buyer submitted.
type Cart struct {
	Items   map[string]int `json:"items"`
	Coupons []string       `json:"coupons,omitempty"`
}

// Validate rejects empty listing ids and non-positive quantities.
func (c Cart) Validate() error {
	for id, qty := range c.Items {
		if strings.TrimSpace(id) == "" {
			return apperr.Invalid("cart contains an empty listing id")
		}
		if qty <= 0 {
			return apperr.Invalid("quantity of listing %s must be > 0, got %d", id, qty)
		}
	}
	return nil
}

// Units sums every quantity in the cart.
func (c Cart) Units() int {
	n := 0
	for _, qty := range c.Items {
		n += qty
	}
	return n
}

func (c Cart) hasCoupon(code string) bool {
	for _, cc := range c.Coupons {
		if cc == code {
			return true
		}
	}
	return false
}

// Product is what a Lookup knows about a listing.
type Product struct {
	ListingID string          `json:"listing_id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
}

// Lookup resolves listing ids to prices and categories. Resolve fails with an
// error wrapping apperr.ErrListingNotFound for unknown ids.
type Lookup interface {
	Resolve(listingID string) (Product, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(listingID string) (Product, error)

func (f LookupFunc) Resolve(listingID string) (Product, error) { return f(listingID) }

// MapLookup is a Lookup backed by a fixed map. Useful for quotes over a
// listing snapshot and in tests.
type MapLookup map[string]Product

func (m MapLookup) Resolve(listingID string) (Product, error) {
	p, ok := m[listingID]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", apperr.ErrListingNotFound, listingID)
	}
	return p, nil
}

// Line is one resolved cart entry.
type Line struct {
	Product  Product         `json:"product"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

// Resolve resolves every cart entry, ordered by listing id.
func Resolve(cart Cart, lookup Lookup) ([]Line, error) {
	ids := make([]string, 0, len(cart.Items))
	for id := range cart.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]Line, 0, len(ids))
	for _, id := range ids {
		p, err := lookup.Resolve(id)
		if err != nil {
			return nil, err
		}
		qty := cart.Items[id]
		lines = append(lines, Line{Product: p, Quantity: qty, Total: p.Price.Mul(decimal.NewFromInt(int64(qty)))})
	}
	return lines, nil
}

// Subtotal sums the line totals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total)
	}
	return sum
}

// Scope selects which lines a targeted discount applies to.
type Scope string

const (
	ScopeStore    Scope = "STORE"
	ScopeProduct  Scope = "PRODUCT"
	ScopeCategory Scope = "CATEGORY"
)

func (s Scope) matches(target string, p Product) bool {
	switch s {
	case ScopeProduct:
		return p.ProductID == target
	case ScopeCategory:
		return strings.EqualFold(p.Category, target)
	default:
		return true
	}
}

func parseScope(s string, target string) (Scope, error) {
	scope := Scope(strings.ToUpper(strings.TrimSpace(s)))
	switch scope {
	case "":
		return ScopeStore, nil
	case ScopeStore:
		return scope, nil
	case ScopeProduct, ScopeCategory:
		if strings.TrimSpace(target) == "" {
			return "", apperr.Invalid("%s scope needs a scope id", scope)
		}
		return scope, nil
	}
	return "", apperr.Invalid("unknown discount scope %q", s)
}

// Combination decides how a composite discount merges its children.
type Combination string

const (
	CombineSum     Combination = "SUM"
	CombineMaximum Combination = "MAXIMUM"
)

func parseCombination(s string) (Combination, error) {
	switch c := Combination(strings.ToUpper(strings.TrimSpace(s))); c {
	case "", CombineSum:
		return CombineSum, nil
	case CombineMaximum, "MAX":
		return CombineMaximum, nil
	}
	return "", apperr.Invalid("unknown combination %q", s)
}

// Logic combines the results of a composite condition.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
	LogicXor Logic = "XOR"
)

func parseLogic(s string) (Logic, error) {
	switch l := Logic(strings.ToUpper(strings.TrimSpace(s))); l {
	case LogicAnd, LogicOr, LogicXor:
		return l, nil
	}
	return "", apperr.Invalid("unknown condition logic %q", s)
}

var hundred = decimal.NewFromInt(100)

func validPercentage(rate decimal.Decimal) error {
	if !rate.IsPositive() || rate.GreaterThan(hundred) {
		return apperr.Invalid("percentage must be in (0, 100], got %s", rate)
	}
	return nil
}

func nonNegative(what string, v decimal.Decimal) error {
	if v.IsNegative() {
		return apperr.Invalid("%s must be >= 0, got %s", what, v)
	}
	return nil
}
