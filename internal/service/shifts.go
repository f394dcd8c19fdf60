package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if err := s.validateStruct(req); err != nil {
		return domain.ShiftResponse{}, err
	}
	req.StoreID = s.storeOrDefault(req.StoreID)
	if strings.TrimSpace(req.CashierName) == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			req.CashierName = actor.Username
		}
	}
	if strings.TrimSpace(req.CashierName) == "" {
		return domain.ShiftResponse{}, invalidf("cashier_name is required")
	}

	saved, err := s.repo.CreateShift(ctx, domain.Shift{
		ID:          xid.New("shift"),
		StoreID:     req.StoreID,
		TerminalID:  req.TerminalID,
		CashierName: req.CashierName,
		OpeningCash: req.OpeningCash,
		Status:      domain.ShiftStatusOpen,
		OpenedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.ShiftResponse{}, ErrShiftAlreadyOpen
		}
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, req.StoreID, "shift_open", "shift", saved.ID, req.CashierName)
	return domain.ShiftResponse{Active: true, Shift: saved}, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	if err := s.validateStruct(req); err != nil {
		return domain.ShiftResponse{}, err
	}
	req.StoreID = s.storeOrDefault(req.StoreID)

	closed, err := s.repo.CloseActiveShift(ctx, req.StoreID, req.TerminalID, req.ClosingCash, s.now())
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	s.logAudit(ctx, req.StoreID, "shift_close", "shift", closed.ID, fmt.Sprintf("closing_cash=%s", req.ClosingCash.String()))
	return domain.ShiftResponse{Active: false, Shift: closed}, nil
}

// GetActiveShift reports the open shift of a terminal. A terminal without
// one is not an error.
func (s *Service) GetActiveShift(ctx context.Context, storeID string, terminalID string) (domain.ShiftResponse, error) {
	if strings.TrimSpace(terminalID) == "" {
		return domain.ShiftResponse{}, invalidf("terminal_id is required")
	}

	shift, err := s.repo.GetActiveShift(ctx, s.storeOrDefault(storeID), terminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ShiftResponse{Active: false}, nil
		}
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Active: true, Shift: shift}, nil
}
