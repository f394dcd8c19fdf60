package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/settlement"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

//go:embed schema.sql
var schema string

const commitAttempts = 3

type Store struct {
	db *sql.DB
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const productColumns = `id, name, barcode, stock, cost_price, prices, conversion, active, created_at`

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	var barcode sql.NullString
	var prices, conversion []byte
	if err := row.Scan(&p.ID, &p.Name, &barcode, &p.Stock, &p.CostPrice, &prices, &conversion, &p.Active, &p.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	p.Barcode = barcode.String
	p.CreatedAt = p.CreatedAt.UTC()
	if err := json.Unmarshal(prices, &p.Prices); err != nil {
		return domain.Product{}, fmt.Errorf("decode prices of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(conversion, &p.Conversion); err != nil {
		return domain.Product{}, fmt.Errorf("decode conversion of %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true OR $1
		ORDER BY name, id
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.CostPrice.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	prices, conversion, err := encodeProductJSON(product)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, barcode, stock, cost_price, prices, conversion, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, product.ID, product.Name, nullIfEmpty(product.Barcode), product.Stock.String(), product.CostPrice.String(),
		prices, conversion, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, "id", id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	return s.getProduct(ctx, "barcode", barcode)
}

func (s *Store) getProduct(ctx context.Context, column string, value string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE ` + column + ` = $1`
	if column == "barcode" {
		query += ` AND active = true`
	}
	product, err := scanProduct(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return loadProducts(ctx, s.db, ids, false)
}

func loadProducts(ctx context.Context, q queryer, ids []string, forUpdate bool) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateProduct locks the row the way commitOnce does, so an edit waits for
// an in-flight commit and then patches the stock that commit left.
func (s *Store) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanProduct(tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product := patch.Apply(current)
	if strings.TrimSpace(product.Name) == "" || product.CostPrice.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	prices, conversion, err := encodeProductJSON(product)
	if err != nil {
		return nil, err
	}

	updated, err := scanProduct(tx.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, barcode = $3, stock = $4, cost_price = $5, prices = $6, conversion = $7, active = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		id, product.Name, nullIfEmpty(product.Barcode), product.Stock.String(), product.CostPrice.String(),
		prices, conversion, product.Active))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func encodeProductJSON(product domain.Product) ([]byte, []byte, error) {
	prices := product.Prices
	if prices == nil {
		prices = domain.PriceTable{}
	}
	pricesJSON, err := json.Marshal(prices)
	if err != nil {
		return nil, nil, err
	}
	conversionJSON, err := json.Marshal(product.Conversion)
	if err != nil {
		return nil, nil, err
	}
	return pricesJSON, conversionJSON, nil
}

const partyColumns = `id, kind, name, phone, balance, credit_limit, total_spent, loyalty_points, rank, created_at`

func scanParty(row scanner) (domain.Party, error) {
	var p domain.Party
	var limit decimal.NullDecimal
	if err := row.Scan(&p.ID, &p.Kind, &p.Name, &p.Phone, &p.Balance, &limit, &p.TotalSpent, &p.LoyaltyPoints, &p.Rank, &p.CreatedAt); err != nil {
		return domain.Party{}, err
	}
	if limit.Valid {
		v := limit.Decimal
		p.CreditLimit = &v
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *Store) CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error) {
	if !party.Kind.Valid() || strings.TrimSpace(party.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if !settlement.ReplayBalance(party.Transactions).Equal(party.Balance) {
		return nil, store.ErrInvalidTransaction
	}
	if party.ID == "" {
		party.ID = xid.New(string(party.Kind)[:3])
	}
	if party.CreatedAt.IsZero() {
		party.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO parties (id, kind, name, phone, balance, credit_limit, total_spent, loyalty_points, rank, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, party.ID, party.Kind, party.Name, party.Phone, party.Balance.String(), nullDecimal(party.CreditLimit),
		party.TotalSpent.String(), party.LoyaltyPoints, party.Rank, party.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	for i := len(party.Transactions) - 1; i >= 0; i-- {
		if err := insertPartyTransaction(ctx, tx, party.ID, party.Transactions[i]); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := party
	return &created, nil
}

func (s *Store) UpdateParty(ctx context.Context, party domain.Party) (*domain.Party, error) {
	if party.ID == "" || strings.TrimSpace(party.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE parties
		SET name = $2, phone = $3, credit_limit = $4, updated_at = now()
		WHERE id = $1
	`, party.ID, party.Name, party.Phone, nullDecimal(party.CreditLimit))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetParty(ctx, party.ID)
}

func (s *Store) GetParty(ctx context.Context, id string) (*domain.Party, error) {
	party, err := scanParty(s.db.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	party.Transactions, err = listPartyTransactions(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &party, nil
}

// ListParties returns parties without their transaction history.
func (s *Store) ListParties(ctx context.Context, kind domain.PartyKind) ([]domain.Party, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+partyColumns+`
		FROM parties
		WHERE $1 = '' OR kind = $1
		ORDER BY name, id
	`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parties := make([]domain.Party, 0, 64)
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parties, nil
}

func (s *Store) RecordPayment(ctx context.Context, partyID string, amount decimal.Decimal, note string, at time.Time) (*domain.PaymentResponse, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	party, err := scanParty(tx.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1 FOR UPDATE`, partyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	next, entry := settlement.PostPayment(party, amount, note, at, xid.New("ptx"))
	if err := savePartyBalance(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := insertPartyTransaction(ctx, tx, partyID, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	saved, err := s.GetParty(ctx, partyID)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentResponse{Party: *saved, Transaction: entry}, nil
}

func savePartyBalance(ctx context.Context, q queryer, party domain.Party) error {
	_, err := q.ExecContext(ctx, `
		UPDATE parties
		SET balance = $2, total_spent = $3, loyalty_points = $4, rank = $5, updated_at = now()
		WHERE id = $1
	`, party.ID, party.Balance.String(), party.TotalSpent.String(), party.LoyaltyPoints, party.Rank)
	return err
}

func insertPartyTransaction(ctx context.Context, q queryer, partyID string, entry domain.AccountTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO party_transactions (id, party_id, occurred_at, note, type, amount, balance_after, invoice_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, partyID, entry.Date, entry.Note, entry.Type, entry.Amount.String(), entry.BalanceAfter.String(), nullIfEmpty(entry.InvoiceID))
	return err
}

func listPartyTransactions(ctx context.Context, q queryer, partyID string) ([]domain.AccountTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, occurred_at, note, type, amount, balance_after, invoice_id
		FROM party_transactions
		WHERE party_id = $1
		ORDER BY seq DESC
	`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.AccountTransaction, 0, 32)
	for rows.Next() {
		var entry domain.AccountTransaction
		var invoiceID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Date, &entry.Note, &entry.Type, &entry.Amount, &entry.BalanceAfter, &invoiceID); err != nil {
			return nil, err
		}
		entry.Date = entry.Date.UTC()
		entry.InvoiceID = invoiceID.String
		txs = append(txs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// CommitInvoice runs the whole commit in one serializable transaction and
// retries on serialization failures.
func (s *Store) CommitInvoice(ctx context.Context, commit domain.InvoiceCommit) (*domain.InvoiceCommitResult, error) {
	if commit.Invoice.IdempotencyKey == "" {
		return nil, store.ErrInvalidTransaction
	}

	var lastErr error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		result, err := s.commitOnce(ctx, commit)
		if err == nil {
			return result, nil
		}
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindInvoiceByIdempotency(ctx, commit.Invoice.IdempotencyKey)
			if lookupErr == nil {
				return &domain.InvoiceCommitResult{Invoice: *existing, Duplicate: true}, nil
			}
			return nil, err
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Store) commitOnce(ctx context.Context, commit domain.InvoiceCommit) (*domain.InvoiceCommitResult, error) {
	inv := commit.Invoice

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := findInvoice(ctx, tx, "idempotency_key", inv.IdempotencyKey)
	if err == nil {
		return &domain.InvoiceCommitResult{Invoice: *existing, Duplicate: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ids := store.ProductIDs(inv.Items)
	products, err := loadProducts(ctx, tx, ids, true)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if p, ok := products[id]; !ok || !p.Active {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
	}

	var party *domain.Party
	if inv.PartyID != "" {
		p, err := scanParty(tx.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1 FOR UPDATE`, inv.PartyID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: party %s", store.ErrNotFound, inv.PartyID)
			}
			return nil, err
		}
		party = &p
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoice_counters (type, last_value)
		VALUES ($1, 1)
		ON CONFLICT (type) DO UPDATE SET last_value = invoice_counters.last_value + 1
		RETURNING last_value
	`, string(inv.Type)).Scan(&seq)
	if err != nil {
		return nil, err
	}

	plan, err := store.PlanCommit(commit, products, party, seq, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := insertInvoice(ctx, tx, plan.Invoice); err != nil {
		return nil, err
	}
	for _, p := range plan.Products {
		_, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = $2, cost_price = $3, updated_at = now()
			WHERE id = $1
		`, p.ID, p.Stock.String(), p.CostPrice.String())
		if err != nil {
			return nil, err
		}
	}
	if plan.Party != nil {
		if err := savePartyBalance(ctx, tx, *plan.Party); err != nil {
			return nil, err
		}
		if plan.Posted != nil {
			if err := insertPartyTransaction(ctx, tx, plan.Party.ID, *plan.Posted); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	result := &domain.InvoiceCommitResult{Invoice: plan.Invoice, Products: plan.Products}
	if plan.Party != nil {
		saved, err := s.GetParty(ctx, plan.Party.ID)
		if err != nil {
			return nil, err
		}
		result.Party = saved
	}
	return result, nil
}

func insertInvoice(ctx context.Context, q queryer, inv domain.Invoice) error {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return err
	}
	tax, err := json.Marshal(inv.Tax)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO invoices (
			id, type, number, occurred_at, store_id, terminal_id, shift_id, party_id, party_name,
			items, payment_type, tax, sub_total, total_discount, tax_amount, total_amount,
			paid_amount, remaining_amount, previous_balance, profit, note, idempotency_key,
			modification_requested, modification_note, created_by
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
	`, inv.ID, inv.Type, inv.Number, inv.Date, inv.StoreID, inv.TerminalID, nullIfEmpty(inv.ShiftID),
		nullIfEmpty(inv.PartyID), inv.PartyName, items, inv.PaymentType, tax,
		inv.SubTotal.String(), inv.TotalDiscount.String(), inv.TaxAmount.String(), inv.TotalAmount.String(),
		inv.PaidAmount.String(), inv.RemainingAmount.String(), inv.PreviousBalance.String(), inv.Profit.String(),
		inv.Note, inv.IdempotencyKey, inv.ModificationRequested, inv.ModificationNote, inv.CreatedBy)
	return err
}

const invoiceColumns = `id, type, number, occurred_at, store_id, terminal_id, shift_id, party_id, party_name,
	items, payment_type, tax, sub_total, total_discount, tax_amount, total_amount,
	paid_amount, remaining_amount, previous_balance, profit, note, idempotency_key,
	modification_requested, modification_note, created_by`

func scanInvoice(row scanner) (domain.Invoice, error) {
	var inv domain.Invoice
	var shiftID, partyID sql.NullString
	var items, tax []byte
	err := row.Scan(
		&inv.ID, &inv.Type, &inv.Number, &inv.Date, &inv.StoreID, &inv.TerminalID, &shiftID, &partyID, &inv.PartyName,
		&items, &inv.PaymentType, &tax, &inv.SubTotal, &inv.TotalDiscount, &inv.TaxAmount, &inv.TotalAmount,
		&inv.PaidAmount, &inv.RemainingAmount, &inv.PreviousBalance, &inv.Profit, &inv.Note, &inv.IdempotencyKey,
		&inv.ModificationRequested, &inv.ModificationNote, &inv.CreatedBy,
	)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.Date = inv.Date.UTC()
	inv.ShiftID = shiftID.String
	inv.PartyID = partyID.String
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return domain.Invoice{}, fmt.Errorf("decode items of %s: %w", inv.ID, err)
	}
	if err := json.Unmarshal(tax, &inv.Tax); err != nil {
		return domain.Invoice{}, fmt.Errorf("decode tax of %s: %w", inv.ID, err)
	}
	return inv, nil
}

func findInvoice(ctx context.Context, q queryer, column string, value string) (*domain.Invoice, error) {
	inv, err := scanInvoice(q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error) {
	return findInvoice(ctx, s.db, "idempotency_key", key)
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return findInvoice(ctx, s.db, "id", id)
}

func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.PartyID != "" {
		add("party_id = $%d", filter.PartyID)
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at < $%d", filter.To)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY occurred_at DESC, number DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 32)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) SetModificationRequested(ctx context.Context, id string, note string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		UPDATE invoices
		SET modification_requested = true, modification_note = $2
		WHERE id = $1 AND type = 'purchase'
		RETURNING `+invoiceColumns, id, note))
	if err == nil {
		return &inv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, lookupErr := s.GetInvoice(ctx, id); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, store.ErrInvalidTransaction
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

const shiftColumns = `id, store_id, terminal_id, cashier_name, opening_cash, closing_cash, status, opened_at, closed_at`

func scanShift(row scanner) (domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	if err := row.Scan(&shift.ID, &shift.StoreID, &shift.TerminalID, &shift.CashierName, &shift.OpeningCash,
		&shift.ClosingCash, &shift.Status, &shift.OpenedAt, &closedAt); err != nil {
		return domain.Shift{}, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return shift, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.ClosingCash = decimal.Zero

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shift.ID, shift.StoreID, shift.TerminalID, shift.CashierName, shift.OpeningCash.String(),
		shift.ClosingCash.String(), shift.Status, shift.OpenedAt, nullTime(shift.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) CloseActiveShift(ctx context.Context, storeID string, terminalID string, closingCash decimal.Decimal, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', closing_cash = $3, closed_at = $4
		WHERE store_id = $1 AND terminal_id = $2 AND status = 'open'
		RETURNING `+shiftColumns, storeID, terminalID, closingCash.String(), closedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE store_id = $1 AND terminal_id = $2 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, terminalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return val.String()
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
