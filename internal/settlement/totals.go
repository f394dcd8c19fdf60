// Package settlement holds the invoice arithmetic shared by sales and
// purchases: totals, credit checks, ledger posting and stock adjustment.
// Every function here is pure; callers own persistence and atomicity.
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

var (
	// ErrInvalidLine is returned when a line item breaks one of the line rules
	// (positive quantity, non-negative price, discount within the line gross).
	ErrInvalidLine = errors.New("invalid line item")

	// ErrStockBelowFloor is returned by AdjustInventory when the zero floor
	// policy is active and a sale would leave a product with negative stock.
	ErrStockBelowFloor = errors.New("stock would fall below floor")
)

var hundred = decimal.NewFromInt(100)

// ValidateLine checks the invariants of a single line item.
func ValidateLine(item domain.LineItem) error {
	if item.ProductID == "" {
		return fmt.Errorf("%w: missing product", ErrInvalidLine)
	}
	if !item.Unit.Valid() {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidLine, item.Unit)
	}
	if !item.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidLine)
	}
	if item.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidLine)
	}
	if item.Discount.IsNegative() {
		return fmt.Errorf("%w: discount must not be negative", ErrInvalidLine)
	}
	if item.Discount.GreaterThan(item.Quantity.Mul(item.Price)) {
		return fmt.Errorf("%w: discount exceeds line amount", ErrInvalidLine)
	}
	return nil
}

// ComputeTotals derives subtotal, discount, tax and net total from the
// cart. The result is exact; round only for display.
func ComputeTotals(items []domain.LineItem, tax domain.TaxConfig) domain.Totals {
	subTotal := decimal.Zero
	discount := decimal.Zero
	for _, item := range items {
		subTotal = subTotal.Add(item.Price.Mul(item.Quantity))
		discount = discount.Add(item.Discount)
	}

	base := subTotal.Sub(discount)
	taxAmount := decimal.Zero
	if tax.Enabled {
		taxAmount = base.Mul(tax.RatePercent).Div(hundred)
	}

	return domain.Totals{
		SubTotal:      subTotal,
		TotalDiscount: discount,
		TaxableBase:   base,
		TaxAmount:     taxAmount,
		NetTotal:      base.Add(taxAmount),
	}
}

// CostOfGoods values the base-unit quantity of every line at the product's
// current cost price. Lines for unknown products contribute nothing.
func CostOfGoods(items []domain.LineItem, products map[string]domain.Product) decimal.Decimal {
	cost := decimal.Zero
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			continue
		}
		cost = cost.Add(Pieces(item, product).Mul(product.CostPrice))
	}
	return cost
}

// Profit is net minus tax minus cost of goods.
func Profit(totals domain.Totals, costOfGoods decimal.Decimal) decimal.Decimal {
	return totals.NetTotal.Sub(totals.TaxAmount).Sub(costOfGoods)
}
