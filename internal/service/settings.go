package service

import (
	"context"
	"fmt"

	"posledger/backend/internal/domain"
)

func normalizeSettings(settings domain.Settings) domain.Settings {
	if !settings.StockFloor.Valid() {
		settings.StockFloor = domain.StockFloorNone
	}
	if !settings.DefaultTier.Valid() {
		settings.DefaultTier = domain.TierRetail
	}
	return settings
}

func (s *Service) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Settings{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Settings{}, err
	}

	s.mu.Lock()
	next := s.settings
	if req.TaxEnabled != nil {
		next.Tax.Enabled = *req.TaxEnabled
	}
	if req.TaxRatePercent != nil {
		next.Tax.RatePercent = *req.TaxRatePercent
	}
	if req.AutoInventorySync != nil {
		next.AutoInventorySync = *req.AutoInventorySync
	}
	if req.StockFloor != nil {
		next.StockFloor = *req.StockFloor
	}
	if req.DefaultTier != nil {
		next.DefaultTier = *req.DefaultTier
	}
	s.settings = next
	s.mu.Unlock()

	s.logAudit(ctx, "", "settings_update", "settings", "global", fmt.Sprintf("tax=%t/%s,sync=%t,floor=%s,tier=%s",
		next.Tax.Enabled, next.Tax.RatePercent.String(), next.AutoInventorySync, next.StockFloor, next.DefaultTier))
	return next, nil
}
