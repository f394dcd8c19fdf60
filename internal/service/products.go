package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/xid"
)

var defaultDozen = decimal.NewFromInt(12)

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, invalidf("barcode is required")
	}
	return s.repo.GetProductByBarcode(ctx, barcode)
}

func validatePrices(prices domain.PriceTable) error {
	for tier, units := range prices {
		if !tier.Valid() {
			return invalidf("unknown price tier %q", tier)
		}
		for unit, price := range units {
			if !unit.Valid() {
				return invalidf("unknown unit %q in tier %s", unit, tier)
			}
			if price.IsNegative() {
				return invalidf("price for %s/%s must not be negative", tier, unit)
			}
		}
	}
	return nil
}

func normalizeConversion(conv domain.Conversion) (domain.Conversion, error) {
	if conv.DozenToPiece.IsZero() {
		conv.DozenToPiece = defaultDozen
	}
	if conv.DozenToPiece.IsNegative() || conv.CartonToPiece.IsNegative() {
		return conv, invalidf("conversion factors must not be negative")
	}
	return conv, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if err := validatePrices(req.Prices); err != nil {
		return nil, err
	}
	conv, err := normalizeConversion(req.Conversion)
	if err != nil {
		return nil, err
	}

	prices := req.Prices
	if prices == nil {
		prices = domain.PriceTable{}
	}
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:         xid.New("prd"),
		Name:       strings.TrimSpace(req.Name),
		Barcode:    strings.TrimSpace(req.Barcode),
		Stock:      req.Stock,
		CostPrice:  req.CostPrice,
		Prices:     prices,
		Conversion: conv,
		Active:     true,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "product_create", "product", created.ID, created.Name)
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	if req.Stock != nil && req.StockDelta != nil {
		return nil, invalidf("send either stock or stock_delta, not both")
	}

	patch := domain.ProductPatch{
		Stock:      req.Stock,
		StockDelta: req.StockDelta,
		CostPrice:  req.CostPrice,
		Active:     req.Active,
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		patch.Name = &name
	}
	if req.Barcode != nil {
		barcode := strings.TrimSpace(*req.Barcode)
		patch.Barcode = &barcode
	}
	if req.Prices != nil {
		if err := validatePrices(req.Prices); err != nil {
			return nil, err
		}
		patch.Prices = req.Prices
	}
	if req.Conversion != nil {
		conv, err := normalizeConversion(*req.Conversion)
		if err != nil {
			return nil, err
		}
		patch.Conversion = &conv
	}

	updated, err := s.repo.UpdateProduct(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "product_update", "product", updated.ID, fmt.Sprintf("stock=%s,cost=%s,active=%t", updated.Stock.String(), updated.CostPrice.String(), updated.Active))
	return updated, nil
}
