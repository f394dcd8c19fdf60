package service

import (
	"context"
	"strings"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/draft"
)

func (s *Service) draftKey(storeID string, terminalID string, kind domain.InvoiceType) (draft.Key, error) {
	if strings.TrimSpace(terminalID) == "" {
		return draft.Key{}, invalidf("terminal_id is required")
	}
	if !kind.Valid() {
		return draft.Key{}, invalidf("type must be sale or purchase")
	}
	return draft.Key{StoreID: s.storeOrDefault(storeID), TerminalID: terminalID, Type: kind}, nil
}

// SaveDraft persists the in-progress cart of a terminal. Saving an empty
// cart discards the draft.
func (s *Service) SaveDraft(ctx context.Context, req domain.DraftSaveRequest) (domain.DraftResponse, error) {
	if err := s.validateStruct(req); err != nil {
		return domain.DraftResponse{}, err
	}
	key, err := s.draftKey(req.StoreID, req.TerminalID, req.Type)
	if err != nil {
		return domain.DraftResponse{}, err
	}

	state := domain.DraftState{
		Type:        req.Type,
		Items:       req.Items,
		PartyID:     strings.TrimSpace(req.PartyID),
		PaymentType: req.PaymentType,
		PaidAmount:  req.PaidAmount,
		Note:        req.Note,
		Tier:        req.Tier,
		SavedAt:     s.now(),
	}
	if err := s.drafts.Save(ctx, key, state); err != nil {
		return domain.DraftResponse{}, err
	}
	if len(state.Items) == 0 {
		return domain.DraftResponse{Found: false}, nil
	}
	return domain.DraftResponse{Found: true, Draft: &state}, nil
}

func (s *Service) LoadDraft(ctx context.Context, storeID string, terminalID string, kind domain.InvoiceType) (domain.DraftResponse, error) {
	key, err := s.draftKey(storeID, terminalID, kind)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	state, found, err := s.drafts.Load(ctx, key)
	if err != nil {
		return domain.DraftResponse{}, err
	}
	if !found {
		return domain.DraftResponse{Found: false}, nil
	}
	return domain.DraftResponse{Found: true, Draft: &state}, nil
}

func (s *Service) DiscardDraft(ctx context.Context, storeID string, terminalID string, kind domain.InvoiceType) error {
	key, err := s.draftKey(storeID, terminalID, kind)
	if err != nil {
		return err
	}
	return s.drafts.Clear(ctx, key)
}
