package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/draft"
	"posledger/backend/internal/settlement"
	"posledger/backend/internal/store"
)

const displayPlaces = 2

// preparedInvoice is a priced cart together with the party it will post to.
type preparedInvoice struct {
	quote domain.QuoteResponse
	party *domain.Party
	paid  decimal.Decimal
}

func (s *Service) normalizeInvoiceRequest(req domain.InvoiceRequest, settings domain.Settings) (domain.InvoiceRequest, error) {
	req.StoreID = s.storeOrDefault(req.StoreID)
	req.PartyID = strings.TrimSpace(req.PartyID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.Tier == "" {
		req.Tier = settings.DefaultTier
	}
	if req.PaymentType == "" {
		req.PaymentType = domain.PaymentCash
	}
	if err := s.validateStruct(req); err != nil {
		return req, err
	}
	return req, nil
}

// prepare resolves every reference of the request and prices the cart. It
// never writes.
func (s *Service) prepare(ctx context.Context, req domain.InvoiceRequest, settings domain.Settings) (preparedInvoice, error) {
	items := make([]domain.LineItem, len(req.Items))
	explicit := make([]bool, len(req.Items))
	for i, line := range req.Items {
		items[i] = domain.LineItem{
			ProductID: strings.TrimSpace(line.ProductID),
			Unit:      line.Unit,
			Quantity:  line.Quantity,
			Discount:  line.Discount,
		}
		if line.Price != nil {
			items[i].Price = *line.Price
			explicit[i] = true
		}
	}

	ids := store.ProductIDs(items)
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return preparedInvoice{}, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return preparedInvoice{}, fmt.Errorf("%w: product %s", ErrUnknownReference, id)
		}
	}

	priced, err := settlement.PriceLines(items, products, req.Tier, explicit)
	if err != nil {
		return preparedInvoice{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for i, item := range priced {
		if err := settlement.ValidateLine(item); err != nil {
			return preparedInvoice{}, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, i+1, err)
		}
		if err := settlement.ValidateUnit(item, products[item.ProductID]); err != nil {
			return preparedInvoice{}, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, i+1, err)
		}
	}

	var party *domain.Party
	if req.PartyID != "" {
		party, err = s.repo.GetParty(ctx, req.PartyID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return preparedInvoice{}, fmt.Errorf("%w: party %s", ErrUnknownReference, req.PartyID)
			}
			return preparedInvoice{}, err
		}
	}
	if err := checkParty(req, party); err != nil {
		return preparedInvoice{}, err
	}

	totals := settlement.ComputeTotals(priced, settings.Tax)
	paid := req.PaidAmount
	if req.PaymentType != domain.PaymentCredit && paid.IsZero() {
		paid = totals.NetTotal
	}

	prepared := preparedInvoice{
		quote: domain.QuoteResponse{
			Items:   priced,
			Totals:  totals,
			Display: totals.Display(displayPlaces),
		},
		party: party,
		paid:  paid,
	}
	if party != nil {
		eval := settlement.EvaluatePartyCredit(*party, req.PaymentType, totals.NetTotal, paid)
		prepared.quote.Credit = &eval
	}
	return prepared, nil
}

func checkParty(req domain.InvoiceRequest, party *domain.Party) error {
	if party == nil {
		if req.Type == domain.InvoiceTypePurchase {
			return invalidf("purchase requires a supplier")
		}
		if req.PaymentType == domain.PaymentCredit {
			return invalidf("credit payment requires a party")
		}
		return nil
	}
	if req.Type == domain.InvoiceTypePurchase && party.Kind != domain.PartySupplier {
		return invalidf("party %s is not a supplier", party.ID)
	}
	if req.Type == domain.InvoiceTypeSale && party.Kind != domain.PartyCustomer {
		return invalidf("party %s is not a customer", party.ID)
	}
	return nil
}

// QuoteInvoice prices the cart and reports totals and credit exposure
// without changing any state.
func (s *Service) QuoteInvoice(ctx context.Context, req domain.InvoiceRequest) (domain.QuoteResponse, error) {
	settings := s.Settings()
	req, err := s.normalizeInvoiceRequest(req, settings)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	if len(req.Items) == 0 {
		totals := settlement.ComputeTotals(nil, settings.Tax)
		return domain.QuoteResponse{
			Items:   []domain.LineItem{},
			Totals:  totals,
			Display: totals.Display(displayPlaces),
		}, nil
	}

	prepared, err := s.prepare(ctx, req, settings)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	return prepared.quote, nil
}

func (s *Service) CommitInvoice(ctx context.Context, req domain.InvoiceRequest) (*domain.InvoiceCommitResult, error) {
	settings := s.Settings()
	req, err := s.normalizeInvoiceRequest(req, settings)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if req.IdempotencyKey == "" {
		return nil, invalidf("idempotency_key is required")
	}

	existing, err := s.repo.FindInvoiceByIdempotency(ctx, req.IdempotencyKey)
	if err == nil {
		return &domain.InvoiceCommitResult{Invoice: *existing, Duplicate: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var shiftID string
	if req.Type == domain.InvoiceTypeSale {
		shift, err := s.repo.GetActiveShift(ctx, req.StoreID, req.TerminalID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNoOpenShift
			}
			return nil, err
		}
		shiftID = shift.ID
	}

	if req.PartyID != "" {
		release, err := s.locker.Obtain(ctx, "party:"+req.PartyID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release party lock", zap.String("party_id", req.PartyID), zap.Error(err))
			}
		}()
	}

	prepared, err := s.prepare(ctx, req, settings)
	if err != nil {
		return nil, err
	}
	if credit := prepared.quote.Credit; credit != nil && credit.LimitExceeded {
		if !req.ConfirmCreditOverride {
			return nil, &CreditLimitError{Evaluation: *credit}
		}
		if !s.overrideApproved(ctx, req.ManagerPIN) {
			return nil, fmt.Errorf("%w: credit override needs an admin or a valid manager pin", ErrForbidden)
		}
	}

	createdBy := ""
	if actor, ok := ActorFromContext(ctx); ok {
		createdBy = actor.Username
	}

	result, err := s.repo.CommitInvoice(ctx, domain.InvoiceCommit{
		Invoice: domain.Invoice{
			Type:           req.Type,
			StoreID:        req.StoreID,
			TerminalID:     req.TerminalID,
			ShiftID:        shiftID,
			PartyID:        req.PartyID,
			Items:          prepared.quote.Items,
			PaymentType:    req.PaymentType,
			Tax:            settings.Tax,
			PaidAmount:     prepared.paid,
			Note:           strings.TrimSpace(req.Note),
			IdempotencyKey: req.IdempotencyKey,
			CreatedBy:      createdBy,
		},
		AutoInventorySync: settings.AutoInventorySync,
		StockFloor:        settings.StockFloor,
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	if result.Duplicate {
		return result, nil
	}

	if err := s.drafts.Clear(ctx, draft.Key{StoreID: req.StoreID, TerminalID: req.TerminalID, Type: req.Type}); err != nil {
		s.log.Warn("clear draft after commit", zap.String("invoice_id", result.Invoice.ID), zap.Error(err))
	}

	detail := fmt.Sprintf("number=%s,total=%s,payment=%s", result.Invoice.Number, result.Invoice.TotalAmount.String(), result.Invoice.PaymentType)
	if prepared.quote.Credit != nil && prepared.quote.Credit.LimitExceeded {
		detail += ",credit_override=true"
	}
	s.logAudit(ctx, req.StoreID, string(req.Type)+"_commit", "invoice", result.Invoice.ID, detail)
	s.log.Info("invoice committed",
		zap.String("invoice_id", result.Invoice.ID),
		zap.String("number", result.Invoice.Number),
		zap.String("type", string(result.Invoice.Type)),
		zap.Stringer("total", result.Invoice.TotalAmount),
	)
	return result, nil
}

func (s *Service) overrideApproved(ctx context.Context, pin string) bool {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleAdmin {
		return true
	}
	if s.approveOverride == nil {
		return true
	}
	return s.approveOverride(pin)
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, settlement.ErrStockBelowFloor):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrUnknownReference, err)
	case errors.Is(err, store.ErrInvalidTransaction):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

func (s *Service) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	filter.StoreID = s.storeOrDefault(filter.StoreID)
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalidf("type must be sale or purchase")
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListInvoices(ctx, filter)
}

// RequestPurchaseModification flags a committed purchase for review. The
// invoice itself is left untouched.
func (s *Service) RequestPurchaseModification(ctx context.Context, id string, req domain.ModificationRequest) (*domain.Invoice, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	updated, err := s.repo.SetModificationRequested(ctx, id, strings.TrimSpace(req.Note))
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return nil, invalidf("only purchase invoices can be flagged for modification")
		}
		return nil, err
	}
	s.logAudit(ctx, updated.StoreID, "purchase_modification_request", "invoice", updated.ID, req.Note)
	return updated, nil
}
