package store

import (
	"fmt"
	"sort"
	"time"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/settlement"
	"posledger/backend/internal/xid"
)

// CommitPlan is the full set of writes one invoice commit produces. Backends
// compute it from rows loaded under their own lock or transaction and then
// persist every part of it together.
type CommitPlan struct {
	Invoice      domain.Invoice
	Products     []domain.Product
	StockChanges []settlement.StockChange
	Party        *domain.Party
	Posted       *domain.AccountTransaction
}

// PlanCommit recomputes the invoice from its lines and applies inventory and
// ledger rules to the loaded products and party. Nothing passed in is modified.
func PlanCommit(commit domain.InvoiceCommit, products map[string]domain.Product, party *domain.Party, seq int64, now time.Time) (*CommitPlan, error) {
	inv := commit.Invoice
	if !inv.Type.Valid() || !inv.PaymentType.Valid() || inv.IdempotencyKey == "" || len(inv.Items) == 0 {
		return nil, ErrInvalidTransaction
	}
	if inv.PaidAmount.IsNegative() {
		return nil, ErrInvalidTransaction
	}

	items := make([]domain.LineItem, len(inv.Items))
	for i, item := range inv.Items {
		if err := settlement.ValidateLine(item); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
		}
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, item.ProductID)
		}
		if err := settlement.ValidateUnit(item, product); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
		}
		if item.ProductName == "" {
			item.ProductName = product.Name
		}
		item.Recompute()
		items[i] = item
	}
	inv.Items = items

	if err := checkCounterparty(inv, party); err != nil {
		return nil, err
	}

	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	if inv.Date.IsZero() {
		inv.Date = now
	}
	inv.Number = InvoiceNumber(inv.Type, seq)

	totals := settlement.ComputeTotals(inv.Items, inv.Tax)
	inv.SubTotal = totals.SubTotal
	inv.TotalDiscount = totals.TotalDiscount
	inv.TaxAmount = totals.TaxAmount
	inv.TotalAmount = totals.NetTotal
	inv.RemainingAmount = totals.NetTotal.Sub(inv.PaidAmount)
	if inv.Type == domain.InvoiceTypeSale {
		inv.Profit = settlement.Profit(totals, settlement.CostOfGoods(inv.Items, products))
	}

	plan := &CommitPlan{}
	if commit.AutoInventorySync {
		floor := commit.StockFloor
		if floor == "" {
			floor = domain.StockFloorNone
		}
		updated, changes, err := settlement.AdjustInventory(inv.Type, inv.Items, products, floor, settlement.LastLineWinsCosting)
		if err != nil {
			return nil, err
		}
		plan.Products = updated
		plan.StockChanges = changes
	}

	if party != nil {
		inv.PartyName = party.Name
		inv.PreviousBalance = party.Balance
		next, posted := settlement.PostLedger(*party, inv, xid.New("ptx"))
		plan.Party = &next
		plan.Posted = posted
	}

	plan.Invoice = inv
	return plan, nil
}

func checkCounterparty(inv domain.Invoice, party *domain.Party) error {
	if party == nil {
		if inv.PartyID != "" {
			return fmt.Errorf("%w: party %s", ErrNotFound, inv.PartyID)
		}
		if inv.Type == domain.InvoiceTypePurchase {
			return fmt.Errorf("%w: purchase requires a supplier", ErrInvalidTransaction)
		}
		if inv.PaymentType == domain.PaymentCredit {
			return fmt.Errorf("%w: credit payment requires a party", ErrInvalidTransaction)
		}
		return nil
	}
	want := domain.PartyCustomer
	if inv.Type == domain.InvoiceTypePurchase {
		want = domain.PartySupplier
	}
	if party.Kind != want {
		return fmt.Errorf("%w: %s invoice needs a %s", ErrInvalidTransaction, inv.Type, want)
	}
	return nil
}

// ProductIDs returns the distinct product ids of the lines, sorted so
// row locks are always taken in the same order.
func ProductIDs(items []domain.LineItem) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		set[item.ProductID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
