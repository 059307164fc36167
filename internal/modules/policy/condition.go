package policy

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Condition is a closed set of cart predicates gating a conditional discount.
type Condition interface {
	condition()
}

// BasketTotalAtLeast holds when the bag subtotal reaches Amount.
type BasketTotalAtLeast struct{ Amount decimal.Decimal }

// CategoryQuantityAtLeast holds when the bag carries at least Quantity units of Category.
type CategoryQuantityAtLeast struct {
	Category string
	Quantity int
}

// ProductQuantityAtLeast holds when the bag carries at least Quantity units of ProductID.
type ProductQuantityAtLeast struct {
	ProductID string
	Quantity  int
}

// CompositeCondition folds its children with Logic. XOR holds when exactly one child holds.
type CompositeCondition struct {
	Logic    Logic
	Children []Condition
}

func (BasketTotalAtLeast) condition()      {}
func (CategoryQuantityAtLeast) condition() {}
func (ProductQuantityAtLeast) condition()  {}
func (CompositeCondition) condition()      {}

// Holds evaluates c over resolved lines.
func Holds(c Condition, lines []Line) bool {
	switch c := c.(type) {
	case BasketTotalAtLeast:
		return Subtotal(lines).GreaterThanOrEqual(c.Amount)
	case CategoryQuantityAtLeast:
		n := 0
		for _, l := range lines {
			if strings.EqualFold(l.Product.Category, c.Category) {
				n += l.Quantity
			}
		}
		return n >= c.Quantity
	case ProductQuantityAtLeast:
		n := 0
		for _, l := range lines {
			if l.Product.ProductID == c.ProductID {
				n += l.Quantity
			}
		}
		return n >= c.Quantity
	case CompositeCondition:
		held := 0
		for _, child := range c.Children {
			if Holds(child, lines) {
				held++
			}
		}
		switch c.Logic {
		case LogicAnd:
			return held == len(c.Children)
		case LogicOr:
			return held > 0
		case LogicXor:
			return held == 1
		}
	}
	return false
}
