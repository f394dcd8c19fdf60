package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

var ErrNoPrice = errors.New("no price for unit")

// ResolvePrice picks the unit price of a product for a tier. An explicit
// table entry wins; otherwise the tier's piece price is scaled by the unit
// factor. Tiers without prices fall back to retail.
func ResolvePrice(product domain.Product, unit domain.Unit, tier domain.PricingTier) (decimal.Decimal, bool) {
	if price, ok := tierPrice(product, unit, tier); ok {
		return price, true
	}
	if tier != domain.TierRetail {
		return tierPrice(product, unit, domain.TierRetail)
	}
	return decimal.Zero, false
}

func tierPrice(product domain.Product, unit domain.Unit, tier domain.PricingTier) (decimal.Decimal, bool) {
	prices, ok := product.Prices[tier]
	if !ok {
		return decimal.Zero, false
	}
	if price, ok := prices[unit]; ok {
		return price, true
	}
	piece, ok := prices[domain.UnitPiece]
	if !ok {
		return decimal.Zero, false
	}
	factor := UnitFactor(unit, product)
	if !factor.IsPositive() {
		return decimal.Zero, false
	}
	return piece.Mul(factor), true
}

// PriceLines fills in prices for lines that carry none and recomputes every
// line total. Lines with an explicit price keep it.
func PriceLines(items []domain.LineItem, products map[string]domain.Product, tier domain.PricingTier, explicit []bool) ([]domain.LineItem, error) {
	priced := make([]domain.LineItem, len(items))
	for i, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s not loaded", ErrInvalidLine, item.ProductID)
		}
		item.ProductName = product.Name
		if i >= len(explicit) || !explicit[i] {
			price, found := ResolvePrice(product, item.Unit, tier)
			if !found {
				return nil, fmt.Errorf("%w: %s per %s (%s)", ErrNoPrice, product.Name, item.Unit, tier)
			}
			item.Price = price
		}
		item.Recompute()
		priced[i] = item
	}
	return priced, nil
}
