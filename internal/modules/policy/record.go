package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// PurchaseRecord is the persisted form of a purchase policy.
type PurchaseRecord struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// DiscountKind is the record tag of a discount.
type DiscountKind string

const (
	DiscountDefault           DiscountKind = "DEFAULT"
	DiscountPercentage        DiscountKind = "PERCENTAGE"
	DiscountProductPercentage DiscountKind = "PRODUCT_PERCENTAGE"
	DiscountFixed             DiscountKind = "FIXED"
	DiscountCoupon            DiscountKind = "COUPON"
	DiscountComposite         DiscountKind = "COMPOSITE"
	DiscountConditional       DiscountKind = "CONDITIONAL"
)

// DiscountRecord is the persisted form of a discount tree.
type DiscountRecord struct {
	Type        string                     `json:"type"`
	Scope       string                     `json:"scope,omitempty"`
	ScopeID     string                     `json:"scope_id,omitempty"`
	Value       decimal.Decimal            `json:"value"`
	Rates       map[string]decimal.Decimal `json:"rates,omitempty"`
	CouponCode  string                     `json:"coupon_code,omitempty"`
	Combination string                     `json:"combination_type,omitempty"`
	Children    []DiscountRecord           `json:"sub_discounts,omitempty"`
	Condition   *ConditionRecord           `json:"condition,omitempty"`
	Inner       *DiscountRecord            `json:"inner,omitempty"`
}

// ConditionKind is the record tag of a condition.
type ConditionKind string

const (
	ConditionBasketTotal      ConditionKind = "BASKET_TOTAL_AT_LEAST"
	ConditionCategoryQuantity ConditionKind = "CATEGORY_QUANTITY_AT_LEAST"
	ConditionProductQuantity  ConditionKind = "PRODUCT_QUANTITY_AT_LEAST"
	ConditionComposite        ConditionKind = "COMPOSITE"
)

// ConditionRecord is the persisted form of a condition tree.
type ConditionRecord struct {
	Type      string            `json:"type"`
	Amount    decimal.Decimal   `json:"amount"`
	Category  string            `json:"category,omitempty"`
	ProductID string            `json:"product_id,omitempty"`
	Quantity  int               `json:"quantity,omitempty"`
	Logic     string            `json:"logic,omitempty"`
	Children  []ConditionRecord `json:"sub_conditions,omitempty"`
}

func unknownType(what, tag string) error {
	return fmt.Errorf("%w: %s %q", apperr.ErrUnknownPolicyType, what, tag)
}

func kindOf(tag string) string { return strings.ToUpper(strings.TrimSpace(tag)) }

// ── purchase ──────────────────────────────────────────────────────────────────

// NewPurchasePolicy builds a purchase policy from its record.
func NewPurchasePolicy(rec PurchaseRecord) (PurchasePolicy, error) {
	switch PurchaseKind(kindOf(rec.Type)) {
	case PurchaseDefault:
		return DefaultPurchase{}, nil
	case PurchaseMinItems:
		n, err := wholeCount("min items", rec.Value)
		if err != nil {
			return nil, err
		}
		return NewMinItems(n)
	case PurchaseMaxItems:
		n, err := wholeCount("max items", rec.Value)
		if err != nil {
			return nil, err
		}
		return NewMaxItems(n)
	case PurchaseMinPrice:
		return NewMinPrice(rec.Value)
	}
	return nil, unknownType("purchase policy", rec.Type)
}

// PurchaseRecordOf is the inverse of NewPurchasePolicy.
func PurchaseRecordOf(p PurchasePolicy) PurchaseRecord {
	rec := PurchaseRecord{Type: string(p.Kind())}
	switch p := p.(type) {
	case MinItems:
		rec.Value = decimal.NewFromInt(int64(p.N))
	case MaxItems:
		rec.Value = decimal.NewFromInt(int64(p.N))
	case MinPrice:
		rec.Value = p.Amount
	}
	return rec
}

var maxCount = decimal.NewFromInt(math.MaxInt32)

func wholeCount(what string, v decimal.Decimal) (int, error) {
	if !v.IsInteger() {
		return 0, apperr.Invalid("%s must be a whole number, got %s", what, v)
	}
	if v.IsNegative() || v.GreaterThan(maxCount) {
		return 0, apperr.Invalid("%s must be between 0 and %d, got %s", what, math.MaxInt32, v)
	}
	return int(v.IntPart()), nil
}

// ── discount ──────────────────────────────────────────────────────────────────

// NewPercentage validates the rate and scope of a targeted percentage discount.
func NewPercentage(scope Scope, target string, rate decimal.Decimal) (Percentage, error) {
	s, err := parseScope(string(scope), target)
	if err != nil {
		return Percentage{}, err
	}
	if err := validPercentage(rate); err != nil {
		return Percentage{}, err
	}
	if s == ScopeStore {
		target = ""
	}
	return Percentage{Scope: s, Target: target, Rate: rate}, nil
}

// NewProductPercentage validates every per-listing rate.
func NewProductPercentage(rates map[string]decimal.Decimal) (ProductPercentage, error) {
	if len(rates) == 0 {
		return ProductPercentage{}, apperr.Invalid("product percentage needs at least one listing")
	}
	cp := make(map[string]decimal.Decimal, len(rates))
	for id, r := range rates {
		if err := validPercentage(r); err != nil {
			return ProductPercentage{}, fmt.Errorf("listing %s: %w", id, err)
		}
		cp[id] = r
	}
	return ProductPercentage{Rates: cp}, nil
}

// NewFixed validates a fixed discount.
func NewFixed(scope Scope, target string, amount decimal.Decimal) (Fixed, error) {
	s, err := parseScope(string(scope), target)
	if err != nil {
		return Fixed{}, err
	}
	if err := nonNegative("fixed amount", amount); err != nil {
		return Fixed{}, err
	}
	if s == ScopeStore {
		target = ""
	}
	return Fixed{Scope: s, Target: target, Amount: amount}, nil
}

// NewCoupon validates a coupon discount.
func NewCoupon(code string, amount decimal.Decimal) (Coupon, error) {
	if strings.TrimSpace(code) == "" {
		return Coupon{}, apperr.Invalid("coupon code is required")
	}
	if !amount.IsPositive() {
		return Coupon{}, apperr.Invalid("coupon amount must be > 0, got %s", amount)
	}
	return Coupon{Code: code, Amount: amount}, nil
}

// NewConditional requires both a condition and a wrapped discount.
func NewConditional(when Condition, inner Discount) (Conditional, error) {
	if when == nil || inner == nil {
		return Conditional{}, apperr.Invalid("conditional discount needs a condition and a discount")
	}
	return Conditional{When: when, Inner: inner}, nil
}

// NewDiscount builds a discount tree from its record.
func NewDiscount(rec DiscountRecord) (Discount, error) {
	switch DiscountKind(kindOf(rec.Type)) {
	case DiscountDefault:
		return DefaultDiscount{}, nil
	case DiscountPercentage:
		return NewPercentage(Scope(rec.Scope), rec.ScopeID, rec.Value)
	case DiscountProductPercentage:
		return NewProductPercentage(rec.Rates)
	case DiscountFixed:
		return NewFixed(Scope(rec.Scope), rec.ScopeID, rec.Value)
	case DiscountCoupon:
		return NewCoupon(rec.CouponCode, rec.Value)
	case DiscountComposite:
		mode, err := parseCombination(rec.Combination)
		if err != nil {
			return nil, err
		}
		children := make([]Discount, 0, len(rec.Children))
		for _, c := range rec.Children {
			d, err := NewDiscount(c)
			if err != nil {
				return nil, err
			}
			children = append(children, d)
		}
		return Composite{Mode: mode, Children: children}, nil
	case DiscountConditional:
		if rec.Condition == nil || rec.Inner == nil {
			return nil, apperr.Invalid("conditional discount needs a condition and a discount")
		}
		when, err := NewCondition(*rec.Condition)
		if err != nil {
			return nil, err
		}
		inner, err := NewDiscount(*rec.Inner)
		if err != nil {
			return nil, err
		}
		return NewConditional(when, inner)
	}
	return nil, unknownType("discount", rec.Type)
}

// DiscountRecordOf is the inverse of NewDiscount.
func DiscountRecordOf(d Discount) DiscountRecord {
	switch d := d.(type) {
	case Percentage:
		return DiscountRecord{Type: string(DiscountPercentage), Scope: string(d.Scope), ScopeID: d.Target, Value: d.Rate}
	case ProductPercentage:
		rates := make(map[string]decimal.Decimal, len(d.Rates))
		for k, v := range d.Rates {
			rates[k] = v
		}
		return DiscountRecord{Type: string(DiscountProductPercentage), Rates: rates}
	case Fixed:
		return DiscountRecord{Type: string(DiscountFixed), Scope: string(d.Scope), ScopeID: d.Target, Value: d.Amount}
	case Coupon:
		return DiscountRecord{Type: string(DiscountCoupon), CouponCode: d.Code, Value: d.Amount}
	case Composite:
		rec := DiscountRecord{Type: string(DiscountComposite), Combination: string(d.Mode)}
		for _, c := range d.Children {
			rec.Children = append(rec.Children, DiscountRecordOf(c))
		}
		return rec
	case Conditional:
		cond := ConditionRecordOf(d.When)
		inner := DiscountRecordOf(d.Inner)
		return DiscountRecord{Type: string(DiscountConditional), Condition: &cond, Inner: &inner}
	}
	return DiscountRecord{Type: string(DiscountDefault)}
}

// ── condition ─────────────────────────────────────────────────────────────────

// NewCondition builds a condition tree from its record.
func NewCondition(rec ConditionRecord) (Condition, error) {
	switch ConditionKind(kindOf(rec.Type)) {
	case ConditionBasketTotal:
		if err := nonNegative("basket total", rec.Amount); err != nil {
			return nil, err
		}
		return BasketTotalAtLeast{Amount: rec.Amount}, nil
	case ConditionCategoryQuantity:
		if strings.TrimSpace(rec.Category) == "" {
			return nil, apperr.Invalid("category condition needs a category")
		}
		if rec.Quantity < 0 {
			return nil, apperr.Invalid("quantity must be >= 0, got %d", rec.Quantity)
		}
		return CategoryQuantityAtLeast{Category: rec.Category, Quantity: rec.Quantity}, nil
	case ConditionProductQuantity:
		if strings.TrimSpace(rec.ProductID) == "" {
			return nil, apperr.Invalid("product condition needs a product id")
		}
		if rec.Quantity < 0 {
			return nil, apperr.Invalid("quantity must be >= 0, got %d", rec.Quantity)
		}
		return ProductQuantityAtLeast{ProductID: rec.ProductID, Quantity: rec.Quantity}, nil
	case ConditionComposite:
		logic, err := parseLogic(rec.Logic)
		if err != nil {
			return nil, err
		}
		children := make([]Condition, 0, len(rec.Children))
		for _, c := range rec.Children {
			cond, err := NewCondition(c)
			if err != nil {
				return nil, err
			}
			children = append(children, cond)
		}
		return CompositeCondition{Logic: logic, Children: children}, nil
	}
	return nil, unknownType("condition", rec.Type)
}

// ConditionRecordOf is the inverse of NewCondition.
func ConditionRecordOf(c Condition) ConditionRecord {
	switch c := c.(type) {
	case BasketTotalAtLeast:
		return ConditionRecord{Type: string(ConditionBasketTotal), Amount: c.Amount}
	case CategoryQuantityAtLeast:
		return ConditionRecord{Type: string(ConditionCategoryQuantity), Category: c.Category, Quantity: c.Quantity}
	case ProductQuantityAtLeast:
		return ConditionRecord{Type: string(ConditionProductQuantity), ProductID: c.ProductID, Quantity: c.Quantity}
	case CompositeCondition:
		rec := ConditionRecord{Type: string(ConditionComposite), Logic: string(c.Logic)}
		for _, child := range c.Children {
			rec.Children = append(rec.Children, ConditionRecordOf(child))
		}
		return rec
	}
	return ConditionRecord{}
}
