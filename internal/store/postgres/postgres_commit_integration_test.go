package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/settlement"
	"posledger/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POSLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err, "new store")
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestCommitInvoicePostsLedgerAndStock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	product, err := s.CreateProduct(ctx, domain.Product{
		ID:         fmt.Sprintf("prd-it-%d", stamp),
		Name:       "Produk IT",
		Stock:      decimal.NewFromInt(100),
		CostPrice:  decimal.NewFromInt(40),
		Prices:     domain.PriceTable{domain.TierRetail: {domain.UnitPiece: decimal.NewFromInt(100)}},
		Conversion: domain.Conversion{DozenToPiece: decimal.NewFromInt(12), CartonToPiece: decimal.NewFromInt(24)},
	})
	require.NoError(t, err)

	limit := decimal.NewFromInt(10000)
	customer := settlement.OpenAccount(domain.Party{ID: fmt.Sprintf("cus-it-%d", stamp), Kind: domain.PartyCustomer, Name: "Pelanggan IT", CreditLimit: &limit}, decimal.NewFromInt(500), time.Now().UTC(), fmt.Sprintf("ptx-open-%d", stamp))
	_, err = s.CreateParty(ctx, customer)
	require.NoError(t, err)

	idem := fmt.Sprintf("idem-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM party_transactions WHERE party_id = $1`, customer.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE idempotency_key = $1`, idem)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM parties WHERE id = $1`, customer.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	commit := domain.InvoiceCommit{
		Invoice: domain.Invoice{
			Type:           domain.InvoiceTypeSale,
			StoreID:        "it-store",
			TerminalID:     "T1",
			PartyID:        customer.ID,
			PaymentType:    domain.PaymentCredit,
			PaidAmount:     decimal.NewFromInt(50),
			IdempotencyKey: idem,
			Tax:            domain.TaxConfig{Enabled: true, RatePercent: decimal.NewFromInt(14)},
			Items: []domain.LineItem{{
				ProductID: product.ID,
				Unit:      domain.UnitDozen,
				Quantity:  decimal.NewFromInt(1),
				Price:     decimal.NewFromInt(1000),
			}},
		},
		AutoInventorySync: true,
	}

	result, err := s.CommitInvoice(ctx, commit)
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.True(t, result.Invoice.TotalAmount.Equal(decimal.NewFromInt(1140)))
	require.True(t, result.Invoice.PreviousBalance.Equal(decimal.NewFromInt(500)))

	again, err := s.CommitInvoice(ctx, commit)
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, result.Invoice.ID, again.Invoice.ID)

	party, err := s.GetParty(ctx, customer.ID)
	require.NoError(t, err)
	require.True(t, party.Balance.Equal(decimal.NewFromInt(1590)))
	require.Len(t, party.Transactions, 2)
	require.True(t, settlement.ReplayBalance(party.Transactions).Equal(party.Balance))

	stocked, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.True(t, stocked.Stock.Equal(decimal.NewFromInt(88)))

	_, err = s.SetModificationRequested(ctx, result.Invoice.ID, "sales cannot be flagged")
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}
