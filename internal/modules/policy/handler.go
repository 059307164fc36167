package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Handler is the policy set of one store: a conjunction of purchase policies and
// a root composite discount. Handlers are values; the store keeps one per store
// and swaps in a modified clone on every edit.
type Handler struct {
	purchases []PurchasePolicy
	root      Composite
}

// NewHandler returns a handler with no purchase policies and an empty SUM root.
func NewHandler() *Handler {
	return &Handler{root: Composite{Mode: CombineSum}}
}

// Clone returns an independent copy that can be edited before being published.
func (h *Handler) Clone() *Handler {
	return &Handler{
		purchases: append([]PurchasePolicy(nil), h.purchases...),
		root: Composite{
			Mode:     h.root.Mode,
			Children: append([]Discount(nil), h.root.Children...),
		},
	}
}

// PurchasePolicies returns the registered purchase policies in insertion order.
func (h *Handler) PurchasePolicies() []PurchasePolicy {
	return append([]PurchasePolicy(nil), h.purchases...)
}

// Discounts returns the root's children in insertion order.
func (h *Handler) Discounts() []Discount {
	return append([]Discount(nil), h.root.Children...)
}

// Combination returns how the root merges its children.
func (h *Handler) Combination() Combination { return h.root.Mode }

// SetCombination changes how the root merges its children.
func (h *Handler) SetCombination(mode Combination) error {
	m, err := parseCombination(string(mode))
	if err != nil {
		return err
	}
	h.root.Mode = m
	return nil
}

// AddPurchasePolicy appends p. An equal policy may not be registered twice.
func (h *Handler) AddPurchasePolicy(p PurchasePolicy) error {
	if p == nil {
		return apperr.Invalid("purchase policy is required")
	}
	for _, existing := range h.purchases {
		if samePurchase(existing, p) {
			return fmt.Errorf("%w: purchase policy %s", apperr.ErrAlreadyExists, Describe(p))
		}
	}
	h.purchases = append(h.purchases, p)
	return nil
}

// RemovePurchasePolicy removes the policy equal to p.
func (h *Handler) RemovePurchasePolicy(p PurchasePolicy) error {
	for i, existing := range h.purchases {
		if samePurchase(existing, p) {
			h.purchases = append(h.purchases[:i:i], h.purchases[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: purchase policy %s", apperr.ErrNotFound, Describe(p))
}

// AddDiscount appends d to the root and returns its index.
func (h *Handler) AddDiscount(d Discount) (int, error) {
	if d == nil {
		return 0, apperr.Invalid("discount is required")
	}
	h.root.Children = append(h.root.Children, d)
	return len(h.root.Children) - 1, nil
}

// RemoveDiscount removes the root child at index.
func (h *Handler) RemoveDiscount(index int) error {
	if index < 0 || index >= len(h.root.Children) {
		return fmt.Errorf("%w: discount %d", apperr.ErrNotFound, index)
	}
	h.root.Children = append(h.root.Children[:index:index], h.root.Children[index+1:]...)
	return nil
}

// Violations evaluates every purchase policy and returns one entry per failure.
// A listing the lookup cannot resolve is reported as a violation too.
func (h *Handler) Violations(cart Cart, lookup Lookup) []apperr.Violation {
	lines, err := Resolve(cart, lookup)
	if err != nil {
		return []apperr.Violation{{Policy: "LISTING", Reason: err.Error()}}
	}
	var out []apperr.Violation
	for _, p := range h.purchases {
		if reason := Check(p, lines); reason != "" {
			out = append(out, apperr.Violation{Policy: Describe(p), Reason: reason})
		}
	}
	return out
}

// IsPurchaseAllowed reports whether every purchase policy accepts the cart.
// An empty policy list accepts everything.
func (h *Handler) IsPurchaseAllowed(cart Cart, lookup Lookup) bool {
	return len(h.Violations(cart, lookup)) == 0
}

// CheckPurchase returns a *apperr.PurchaseRejectedError naming every failing policy.
func (h *Handler) CheckPurchase(storeID string, cart Cart, lookup Lookup) error {
	if v := h.Violations(cart, lookup); len(v) > 0 {
		return &apperr.PurchaseRejectedError{StoreID: storeID, Violations: v}
	}
	return nil
}

// CalculateDiscount evaluates the root over resolved lines, clamped to [0, subtotal].
func (h *Handler) CalculateDiscount(cart Cart, lines []Line) decimal.Decimal {
	off := Amount(h.root, cart, lines)
	if off.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(off, Subtotal(lines))
}

// Document is the persisted form of a Handler.
type Document struct {
	Purchases   []PurchaseRecord `json:"purchase_policies"`
	Combination string           `json:"combination_type"`
	Discounts   []DiscountRecord `json:"discounts"`
}

// Document renders h for storage.
func (h *Handler) Document() Document {
	doc := Document{
		Purchases:   make([]PurchaseRecord, 0, len(h.purchases)),
		Combination: string(h.root.Mode),
		Discounts:   make([]DiscountRecord, 0, len(h.root.Children)),
	}
	for _, p := range h.purchases {
		doc.Purchases = append(doc.Purchases, PurchaseRecordOf(p))
	}
	for _, d := range h.root.Children {
		doc.Discounts = append(doc.Discounts, DiscountRecordOf(d))
	}
	return doc
}

// FromDocument rebuilds a Handler, validating every record.
func FromDocument(doc Document) (*Handler, error) {
	h := NewHandler()
	if err := h.SetCombination(Combination(doc.Combination)); err != nil {
		return nil, err
	}
	for _, rec := range doc.Purchases {
		p, err := NewPurchasePolicy(rec)
		if err != nil {
			return nil, err
		}
		if err := h.AddPurchasePolicy(p); err != nil {
			return nil, err
		}
	}
	for _, rec := range doc.Discounts {
		d, err := NewDiscount(rec)
		if err != nil {
			return nil, err
		}
		h.root.Children = append(h.root.Children, d)
	}
	return h, nil
}
