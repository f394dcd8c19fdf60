package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/settlement"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

func partyPrefix(kind domain.PartyKind) string {
	if kind == domain.PartySupplier {
		return "sup"
	}
	return "cus"
}

func (s *Service) CreateParty(ctx context.Context, req domain.PartyCreateRequest) (*domain.Party, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.CreditLimit != nil && req.Kind == domain.PartySupplier {
		return nil, invalidf("suppliers do not carry a credit limit")
	}

	now := s.now()
	party := domain.Party{
		ID:          xid.New(partyPrefix(req.Kind)),
		Kind:        req.Kind,
		Name:        strings.TrimSpace(req.Name),
		Phone:       strings.TrimSpace(req.Phone),
		CreditLimit: req.CreditLimit,
		CreatedAt:   now,
	}
	party = settlement.OpenAccount(party, req.OpeningBalance, now, xid.New("ptx"))

	created, err := s.repo.CreateParty(ctx, party)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "party_create", "party", created.ID, fmt.Sprintf("kind=%s,opening=%s", created.Kind, req.OpeningBalance.String()))
	return created, nil
}

func (s *Service) UpdateParty(ctx context.Context, id string, req domain.PartyUpdateRequest) (*domain.Party, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	party, err := s.repo.GetParty(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		party.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		party.Phone = strings.TrimSpace(*req.Phone)
	}
	switch {
	case req.ClearCreditLimit:
		party.CreditLimit = nil
	case req.CreditLimit != nil:
		if party.Kind == domain.PartySupplier {
			return nil, invalidf("suppliers do not carry a credit limit")
		}
		limit := *req.CreditLimit
		party.CreditLimit = &limit
	}

	updated, err := s.repo.UpdateParty(ctx, *party)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "party_update", "party", updated.ID, updated.Name)
	return updated, nil
}

func (s *Service) GetParty(ctx context.Context, id string) (*domain.Party, error) {
	return s.repo.GetParty(ctx, id)
}

func (s *Service) ListParties(ctx context.Context, kind domain.PartyKind) ([]domain.Party, error) {
	if kind != "" && !kind.Valid() {
		return nil, invalidf("kind must be customer or supplier")
	}
	return s.repo.ListParties(ctx, kind)
}

// RecordPayment settles part of a party's outstanding balance. For a
// customer the money comes in; for a supplier the business pays out. Both
// reduce the balance.
func (s *Service) RecordPayment(ctx context.Context, partyID string, req domain.PaymentRequest) (*domain.PaymentResponse, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	release, err := s.locker.Obtain(ctx, "party:"+partyID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("release party lock", zap.String("party_id", partyID), zap.Error(err))
		}
	}()

	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "Payment"
	}
	resp, err := s.repo.RecordPayment(ctx, partyID, req.Amount, note, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return nil, invalidf("payment amount must be positive")
		}
		return nil, err
	}
	s.logAudit(ctx, "", "party_payment", "party", partyID, fmt.Sprintf("amount=%s,balance=%s", req.Amount.String(), resp.Party.Balance.String()))
	return resp, nil
}

// PartyStatement lists the ledger entries dated within [from, to], oldest
// first. Empty bounds are open.
func (s *Service) PartyStatement(ctx context.Context, partyID string, from string, to string) (*domain.PartyStatement, error) {
	start, err := parseBound(from, false)
	if err != nil {
		return nil, err
	}
	end, err := parseBound(to, true)
	if err != nil {
		return nil, err
	}
	if !end.IsZero() && !start.IsZero() && end.Before(start) {
		return nil, invalidf("to must not be before from")
	}

	party, err := s.repo.GetParty(ctx, partyID)
	if err != nil {
		return nil, err
	}

	history := make([]domain.AccountTransaction, 0, len(party.Transactions))
	for i := len(party.Transactions) - 1; i >= 0; i-- {
		history = append(history, party.Transactions[i])
	}

	statement := &domain.PartyStatement{
		PartyID:   party.ID,
		PartyName: party.Name,
		From:      start,
		To:        end,
		Entries:   []domain.AccountTransaction{},
	}
	for _, entry := range history {
		if !start.IsZero() && entry.Date.Before(start) {
			statement.OpeningBalance = statement.OpeningBalance.Add(entry.Amount)
			continue
		}
		if !end.IsZero() && !entry.Date.Before(end) {
			continue
		}
		statement.Entries = append(statement.Entries, entry)
	}
	statement.ClosingBalance = statement.OpeningBalance
	for _, entry := range statement.Entries {
		statement.ClosingBalance = statement.ClosingBalance.Add(entry.Amount)
	}
	return statement, nil
}

// parseBound reads a YYYY-MM-DD day. An upper bound covers the whole day.
func parseBound(value string, upper bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, invalidf("date %q must be YYYY-MM-DD", value)
	}
	if upper {
		day = day.Add(24 * time.Hour)
	}
	return day.UTC(), nil
}
