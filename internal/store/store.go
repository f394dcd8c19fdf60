package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicate          = errors.New("already exists")
)

type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// UpdateProduct applies the patch to the current row while holding the
	// same lock an invoice commit takes, so concurrent stock moves survive.
	UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error)

	CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error)
	UpdateParty(ctx context.Context, party domain.Party) (*domain.Party, error)
	GetParty(ctx context.Context, id string) (*domain.Party, error)
	ListParties(ctx context.Context, kind domain.PartyKind) ([]domain.Party, error)
	RecordPayment(ctx context.Context, partyID string, amount decimal.Decimal, note string, at time.Time) (*domain.PaymentResponse, error)

	// CommitInvoice numbers and stores the invoice, adjusts stock and posts the
	// counterparty ledger as one unit. A repeated idempotency key returns the
	// stored invoice with Duplicate set and changes nothing.
	CommitInvoice(ctx context.Context, commit domain.InvoiceCommit) (*domain.InvoiceCommitResult, error)
	FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error)
	SetModificationRequested(ctx context.Context, id string, note string) (*domain.Invoice, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, storeID string, terminalID string, closingCash decimal.Decimal, closedAt time.Time) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// InvoiceNumber formats the human-readable invoice number for a sequence.
func InvoiceNumber(kind domain.InvoiceType, seq int64) string {
	prefix := "S"
	if kind == domain.InvoiceTypePurchase {
		prefix = "P"
	}
	return fmt.Sprintf("%s-%06d", prefix, seq)
}
