package draft

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
)

func sampleDraft() domain.DraftState {
	return domain.DraftState{
		Type: domain.InvoiceTypeSale,
		Items: []domain.LineItem{{
			ProductID: "prd-1",
			Unit:      domain.UnitPiece,
			Quantity:  decimal.NewFromInt(2),
			Price:     decimal.NewFromInt(100),
			Discount:  decimal.Zero,
			Total:     decimal.NewFromInt(200),
		}},
		PartyID:     "cus-1",
		PaymentType: domain.PaymentCredit,
		PaidAmount:  decimal.RequireFromString("50.25"),
		Tier:        domain.TierRetail,
		SavedAt:     time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestKeyString(t *testing.T) {
	key := Key{StoreID: "main-store", TerminalID: "T1", Type: domain.InvoiceTypePurchase}
	require.Equal(t, "draft:main-store:T1:purchase", key.String())
}

func exerciseStore(t *testing.T, store Store, key Key) {
	t.Helper()
	ctx := context.Background()

	_, found, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Save(ctx, key, sampleDraft()))
	got, found, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "cus-1", got.PartyID)
	require.Len(t, got.Items, 1)
	require.True(t, got.Items[0].Total.Equal(decimal.NewFromInt(200)))
	require.True(t, got.PaidAmount.Equal(decimal.RequireFromString("50.25")))

	other := key
	other.Type = domain.InvoiceTypePurchase
	_, found, err = store.Load(ctx, other)
	require.NoError(t, err)
	require.False(t, found)

	next := sampleDraft()
	next.PartyID = "cus-2"
	require.NoError(t, store.Save(ctx, key, next))
	got, _, err = store.Load(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "cus-2", got.PartyID)

	empty := sampleDraft()
	empty.Items = nil
	require.NoError(t, store.Save(ctx, key, empty))
	_, found, err = store.Load(ctx, key)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Save(ctx, key, sampleDraft()))
	require.NoError(t, store.Clear(ctx, key))
	_, found, err = store.Load(ctx, key)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Clear(ctx, key))
}

func TestMemoryStoreLifecycle(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), Key{StoreID: "main-store", TerminalID: "T1", Type: domain.InvoiceTypeSale})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := Key{StoreID: "s", TerminalID: "t", Type: domain.InvoiceTypeSale}

	state := sampleDraft()
	require.NoError(t, store.Save(ctx, key, state))
	state.Items[0].ProductID = "mutated"

	got, _, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "prd-1", got.Items[0].ProductID)
}

func TestRedisStoreLifecycle(t *testing.T) {
	addr := os.Getenv("POSLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set POSLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, time.Minute)
	require.NoError(t, store.Ping(context.Background()))

	key := Key{StoreID: "it-" + time.Now().Format("150405.000"), TerminalID: "T1", Type: domain.InvoiceTypeSale}
	exerciseStore(t, store, key)
}
