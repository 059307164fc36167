package policy

import (
	"github.com/shopspring/decimal"
)

// Discount is a closed set of cart -> amount functions.
type Discount interface {
	discount()
}

// DefaultDiscount contributes nothing.
type DefaultDiscount struct{}

// Percentage takes Rate percent off every line matched by Scope and Target.
// A STORE scope ignores Target.
type Percentage struct {
	Scope  Scope
	Target string
	Rate   decimal.Decimal
}

// ProductPercentage takes a per-listing rate off each listed line.
type ProductPercentage struct {
	Rates map[string]decimal.Decimal
}

// Fixed takes Amount once off a non-empty bag (STORE scope) or Amount per unit
// of every matched line (PRODUCT and CATEGORY), never more than the matched total.
type Fixed struct {
	Scope  Scope
	Target string
	Amount decimal.Decimal
}

// Coupon takes Amount off when the buyer submitted Code.
type Coupon struct {
	Code   string
	Amount decimal.Decimal
}

// Composite merges every child with Mode.
type Composite struct {
	Mode     Combination
	Children []Discount
}

// Conditional applies Inner only while When holds.
type Conditional struct {
	When  Condition
	Inner Discount
}

func (DefaultDiscount) discount()   {}
func (Percentage) discount()        {}
func (ProductPercentage) discount() {}
func (Fixed) discount()             {}
func (Coupon) discount()            {}
func (Composite) discount()         {}
func (Conditional) discount()       {}

// Amount evaluates d over resolved lines of cart.
func Amount(d Discount, cart Cart, lines []Line) decimal.Decimal {
	switch d := d.(type) {
	case Percentage:
		off := decimal.Zero
		for _, l := range lines {
			if d.Scope.matches(d.Target, l.Product) {
				off = off.Add(l.Total.Mul(d.Rate).Div(hundred))
			}
		}
		return off
	case ProductPercentage:
		off := decimal.Zero
		for _, l := range lines {
			if rate, ok := d.Rates[l.Product.ListingID]; ok {
				off = off.Add(l.Total.Mul(rate).Div(hundred))
			}
		}
		return off
	case Fixed:
		return fixedAmount(d, lines)
	case Coupon:
		if cart.hasCoupon(d.Code) {
			return d.Amount
		}
		return decimal.Zero
	case Composite:
		// Every child is evaluated; MAXIMUM never short-circuits.
		results := make([]decimal.Decimal, len(d.Children))
		for i, child := range d.Children {
			results[i] = Amount(child, cart, lines)
		}
		if len(results) == 0 {
			return decimal.Zero
		}
		if d.Mode == CombineMaximum {
			return decimal.Max(results[0], results[1:]...)
		}
		return decimal.Sum(results[0], results[1:]...)
	case Conditional:
		if d.When == nil || !Holds(d.When, lines) || d.Inner == nil {
			return decimal.Zero
		}
		return Amount(d.Inner, cart, lines)
	}
	return decimal.Zero
}

func fixedAmount(d Fixed, lines []Line) decimal.Decimal {
	if d.Scope == ScopeStore {
		if len(lines) == 0 {
			return decimal.Zero
		}
		return decimal.Min(d.Amount, Subtotal(lines))
	}
	off, matched := decimal.Zero, decimal.Zero
	for _, l := range lines {
		if d.Scope.matches(d.Target, l.Product) {
			matched = matched.Add(l.Total)
			off = off.Add(d.Amount.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
	}
	return decimal.Min(off, matched)
}

// CalculateDiscount resolves the cart and evaluates d.
func CalculateDiscount(d Discount, cart Cart, lookup Lookup) (decimal.Decimal, error) {
	lines, err := Resolve(cart, lookup)
	if err != nil {
		return decimal.Zero, err
	}
	return Amount(d, cart, lines), nil
}
