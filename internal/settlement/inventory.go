package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

// CostingPolicy decides the cost price a purchase leaves on a product.
type CostingPolicy func(current decimal.Decimal, lines []domain.LineItem) decimal.Decimal

// LastLineWinsCosting overwrites cost price with the price of the last
// purchase line for the product, in cart order. Earlier lines are ignored.
func LastLineWinsCosting(current decimal.Decimal, lines []domain.LineItem) decimal.Decimal {
	if len(lines) == 0 {
		return current
	}
	return lines[len(lines)-1].Price
}

// UnitFactor is the number of base units (pieces) in one unit of the product.
func UnitFactor(unit domain.Unit, product domain.Product) decimal.Decimal {
	switch unit {
	case domain.UnitDozen:
		return product.Conversion.DozenToPiece
	case domain.UnitCarton:
		return product.Conversion.CartonToPiece
	default:
		return decimal.NewFromInt(1)
	}
}

// ValidateUnit rejects a line whose unit has no positive conversion factor on
// the product. Such a line would move no stock and carry no cost.
func ValidateUnit(item domain.LineItem, product domain.Product) error {
	if !UnitFactor(item.Unit, product).IsPositive() {
		return fmt.Errorf("%w: %s has no %s conversion", ErrInvalidLine, product.Name, item.Unit)
	}
	return nil
}

// Pieces converts a line quantity into base units.
func Pieces(item domain.LineItem, product domain.Product) decimal.Decimal {
	return item.Quantity.Mul(UnitFactor(item.Unit, product))
}

// StockChange records how one product's stock moved during an adjustment.
// Delta is negative for sales.
type StockChange struct {
	ProductID string
	Delta     decimal.Decimal
	Before    decimal.Decimal
	After     decimal.Decimal
}

// AdjustInventory returns updated copies of every product referenced by the
// invoice, in order of first appearance. Sales take stock out; purchases put
// it back and apply the costing policy. The input map is not modified.
func AdjustInventory(kind domain.InvoiceType, items []domain.LineItem, products map[string]domain.Product, floor domain.StockFloorPolicy, costing CostingPolicy) ([]domain.Product, []StockChange, error) {
	if costing == nil {
		costing = LastLineWinsCosting
	}

	order := make([]string, 0, len(items))
	deltas := make(map[string]decimal.Decimal, len(items))
	linesByProduct := make(map[string][]domain.LineItem, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: product %s not loaded", ErrInvalidLine, item.ProductID)
		}
		if err := ValidateUnit(item, product); err != nil {
			return nil, nil, err
		}
		if _, seen := deltas[item.ProductID]; !seen {
			order = append(order, item.ProductID)
			deltas[item.ProductID] = decimal.Zero
		}
		deltas[item.ProductID] = deltas[item.ProductID].Add(Pieces(item, product))
		linesByProduct[item.ProductID] = append(linesByProduct[item.ProductID], item)
	}

	updated := make([]domain.Product, 0, len(order))
	changes := make([]StockChange, 0, len(order))
	for _, id := range order {
		product := products[id]
		delta := deltas[id]
		before := product.Stock

		switch kind {
		case domain.InvoiceTypeSale:
			product.Stock = before.Sub(delta)
			if floor == domain.StockFloorZero && product.Stock.IsNegative() {
				return nil, nil, fmt.Errorf("%w: %s has %s, needs %s", ErrStockBelowFloor, product.Name, before.String(), delta.String())
			}
			delta = delta.Neg()
		case domain.InvoiceTypePurchase:
			product.Stock = before.Add(delta)
			product.CostPrice = costing(product.CostPrice, linesByProduct[id])
		default:
			return nil, nil, fmt.Errorf("unknown invoice type %q", kind)
		}

		updated = append(updated, product)
		changes = append(changes, StockChange{ProductID: id, Delta: delta, Before: before, After: product.Stock})
	}

	return updated, changes, nil
}
