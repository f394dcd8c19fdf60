package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/settlement"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	parties          map[string]domain.Party
	invoicesByID     map[string]domain.Invoice
	invoicesByIdem   map[string]string
	invoiceOrder     []string
	invoiceCounters  map[domain.InvoiceType]int64
	auditLogs        []domain.AuditLog
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	usersByUsername  map[string]domain.UserAccount
}

// New returns an empty store with no users.
func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		parties:          make(map[string]domain.Party),
		invoicesByID:     make(map[string]domain.Invoice),
		invoicesByIdem:   make(map[string]string),
		invoiceOrder:     make([]string, 0, 128),
		invoiceCounters:  make(map[domain.InvoiceType]int64),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// unset values fall back to dev defaults with a warning.
func seedUsers(log *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func piecePrices(retail string, wholesale string) domain.PriceTable {
	return domain.PriceTable{
		domain.TierRetail:    {domain.UnitPiece: decimal.RequireFromString(retail)},
		domain.TierWholesale: {domain.UnitPiece: decimal.RequireFromString(wholesale)},
	}
}

// NewSeeded returns a demo store with a small catalogue, one walk-in style
// customer, one credit customer, one supplier and the seed users.
func NewSeeded(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(log.Named("memory-store"))

	now := time.Now().UTC()
	standard := domain.Conversion{DozenToPiece: decimal.NewFromInt(12), CartonToPiece: decimal.NewFromInt(24)}
	products := []domain.Product{
		{ID: "prd-mie", Name: "Mie Goreng Instan", Barcode: "8998866200301", Stock: decimal.NewFromInt(240), CostPrice: decimal.NewFromInt(2700), Prices: piecePrices("3500", "3100"), Conversion: standard},
		{ID: "prd-telur", Name: "Telur 10 Butir", Barcode: "8991002101104", Stock: decimal.NewFromInt(60), CostPrice: decimal.NewFromInt(23000), Prices: piecePrices("26500", "25000"), Conversion: domain.Conversion{DozenToPiece: decimal.NewFromInt(12), CartonToPiece: decimal.NewFromInt(15)}},
		{ID: "prd-kopi", Name: "Kopi Sachet", Barcode: "8992770011101", Stock: decimal.NewFromInt(480), CostPrice: decimal.NewFromInt(1700), Prices: piecePrices("2600", "2200"), Conversion: domain.Conversion{DozenToPiece: decimal.NewFromInt(12), CartonToPiece: decimal.NewFromInt(120)}},
		{ID: "prd-gula", Name: "Gula 1kg", Barcode: "8993093665503", Stock: decimal.NewFromInt(96), CostPrice: decimal.NewFromInt(15300), Prices: piecePrices("17400", "16500"), Conversion: standard},
		{ID: "prd-air", Name: "Air Mineral 600ml", Barcode: "8886008101053", Stock: decimal.NewFromInt(288), CostPrice: decimal.NewFromInt(3200), Prices: piecePrices("3900", "3500"), Conversion: standard},
	}
	products[0].Prices[domain.TierRetail][domain.UnitCarton] = decimal.NewFromInt(80000)
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		s.products[p.ID] = p
	}

	limit := decimal.NewFromInt(10000000)
	parties := []domain.Party{
		settlement.OpenAccount(domain.Party{ID: "cus-umum", Kind: domain.PartyCustomer, Name: "Pelanggan Umum", CreatedAt: now}, decimal.Zero, now, xid.New("ptx")),
		settlement.OpenAccount(domain.Party{ID: "cus-warung-sari", Kind: domain.PartyCustomer, Name: "Warung Sari", Phone: "081234567890", CreditLimit: &limit, CreatedAt: now}, decimal.Zero, now, xid.New("ptx")),
		settlement.OpenAccount(domain.Party{ID: "sup-grosir", Kind: domain.PartySupplier, Name: "Grosir Jaya", Phone: "0215550101", CreatedAt: now}, decimal.Zero, now, xid.New("ptx")),
	}
	for _, p := range parties {
		s.parties[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.CostPrice.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if product.Barcode != "" && s.barcodeTaken(product.Barcode, "") {
		return nil, store.ErrDuplicate
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	product = cloneProduct(product)
	s.products[product.ID] = product
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	for _, product := range s.products {
		if product.Barcode == barcode && product.Active {
			copyProduct := cloneProduct(product)
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = cloneProduct(product)
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	product := patch.Apply(cloneProduct(existing))
	if strings.TrimSpace(product.Name) == "" || product.CostPrice.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if product.Barcode != "" && s.barcodeTaken(product.Barcode, id) {
		return nil, store.ErrDuplicate
	}
	product = cloneProduct(product)
	s.products[id] = product
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) barcodeTaken(barcode string, exceptID string) bool {
	for id, p := range s.products {
		if id != exceptID && p.Barcode == barcode {
			return true
		}
	}
	return false
}

func (s *Store) CreateParty(_ context.Context, party domain.Party) (*domain.Party, error) {
	if !party.Kind.Valid() || strings.TrimSpace(party.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if !settlement.ReplayBalance(party.Transactions).Equal(party.Balance) {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if party.ID == "" {
		party.ID = xid.New(string(party.Kind)[:3])
	}
	if _, exists := s.parties[party.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if party.CreatedAt.IsZero() {
		party.CreatedAt = time.Now().UTC()
	}
	s.parties[party.ID] = cloneParty(party)
	created := cloneParty(party)
	return &created, nil
}

// UpdateParty changes contact details and the credit limit only. Balances and
// history move through invoices and payments.
func (s *Store) UpdateParty(_ context.Context, party domain.Party) (*domain.Party, error) {
	if party.ID == "" || strings.TrimSpace(party.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.parties[party.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.Name = party.Name
	existing.Phone = party.Phone
	existing.CreditLimit = cloneDecimal(party.CreditLimit)
	s.parties[party.ID] = existing
	updated := cloneParty(existing)
	return &updated, nil
}

func (s *Store) GetParty(_ context.Context, id string) (*domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	party, exists := s.parties[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyParty := cloneParty(party)
	return &copyParty, nil
}

func (s *Store) ListParties(_ context.Context, kind domain.PartyKind) ([]domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parties := make([]domain.Party, 0, len(s.parties))
	for _, p := range s.parties {
		if kind != "" && p.Kind != kind {
			continue
		}
		parties = append(parties, cloneParty(p))
	}
	slices.SortFunc(parties, func(a, b domain.Party) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return parties, nil
}

func (s *Store) RecordPayment(_ context.Context, partyID string, amount decimal.Decimal, note string, at time.Time) (*domain.PaymentResponse, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	party, exists := s.parties[partyID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next, entry := settlement.PostPayment(party, amount, note, at, xid.New("ptx"))
	s.parties[partyID] = next
	return &domain.PaymentResponse{Party: cloneParty(next), Transaction: entry}, nil
}

func (s *Store) CommitInvoice(_ context.Context, commit domain.InvoiceCommit) (*domain.InvoiceCommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := commit.Invoice
	if inv.IdempotencyKey == "" {
		return nil, store.ErrInvalidTransaction
	}
	if existingID, ok := s.invoicesByIdem[inv.IdempotencyKey]; ok {
		existing := cloneInvoice(s.invoicesByID[existingID])
		return &domain.InvoiceCommitResult{Invoice: existing, Duplicate: true}, nil
	}

	products := make(map[string]domain.Product, len(inv.Items))
	for _, id := range store.ProductIDs(inv.Items) {
		product, ok := s.products[id]
		if !ok || !product.Active {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		products[id] = product
	}

	var party *domain.Party
	if inv.PartyID != "" {
		p, ok := s.parties[inv.PartyID]
		if !ok {
			return nil, fmt.Errorf("%w: party %s", store.ErrNotFound, inv.PartyID)
		}
		party = &p
	}

	plan, err := store.PlanCommit(commit, products, party, s.invoiceCounters[inv.Type]+1, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.invoiceCounters[inv.Type]++
	for _, p := range plan.Products {
		s.products[p.ID] = p
	}
	if plan.Party != nil {
		s.parties[plan.Party.ID] = *plan.Party
	}
	saved := cloneInvoice(plan.Invoice)
	s.invoicesByID[saved.ID] = saved
	s.invoicesByIdem[saved.IdempotencyKey] = saved.ID
	s.invoiceOrder = append(s.invoiceOrder, saved.ID)

	result := &domain.InvoiceCommitResult{Invoice: cloneInvoice(saved)}
	if plan.Party != nil {
		p := cloneParty(*plan.Party)
		result.Party = &p
	}
	for _, p := range plan.Products {
		result.Products = append(result.Products, cloneProduct(p))
	}
	return result, nil
}

func (s *Store) FindInvoiceByIdempotency(_ context.Context, key string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.invoicesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	inv := cloneInvoice(s.invoicesByID[id])
	return &inv, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyInvoice := cloneInvoice(inv)
	return &copyInvoice, nil
}

// ListInvoices returns matching invoices newest first.
func (s *Store) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, 32)
	for i := len(s.invoiceOrder) - 1; i >= 0; i-- {
		inv := s.invoicesByID[s.invoiceOrder[i]]
		if filter.StoreID != "" && inv.StoreID != filter.StoreID {
			continue
		}
		if filter.Type != "" && inv.Type != filter.Type {
			continue
		}
		if filter.PartyID != "" && inv.PartyID != filter.PartyID {
			continue
		}
		if !filter.From.IsZero() && inv.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !inv.Date.Before(filter.To) {
			continue
		}
		result = append(result, cloneInvoice(inv))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) SetModificationRequested(_ context.Context, id string, note string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if inv.Type != domain.InvoiceTypePurchase {
		return nil, store.ErrInvalidTransaction
	}
	inv.ModificationRequested = true
	inv.ModificationNote = note
	s.invoicesByID[id] = inv
	updated := cloneInvoice(inv)
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(shift.StoreID, shift.TerminalID)
	if _, exists := s.activeShiftByKey[key]; exists {
		return nil, store.ErrDuplicate
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

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CloseActiveShift(_ context.Context, storeID string, terminalID string, closingCash decimal.Decimal, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(storeID, terminalID)
	shiftID, exists := s.activeShiftByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCash = closingCash
	shift.ClosedAt = &closedAt

	delete(s.activeShiftByKey, key)
	s.shiftsByID[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShift(_ context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := shiftMapKey(storeID, terminalID)
	shiftID, exists := s.activeShiftByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func shiftMapKey(storeID string, terminalID string) string {
	return storeID + "::" + terminalID
}

func cloneDecimal(src *decimal.Decimal) *decimal.Decimal {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	if src.Prices != nil {
		dst.Prices = make(domain.PriceTable, len(src.Prices))
		for tier, units := range src.Prices {
			copied := make(map[domain.Unit]decimal.Decimal, len(units))
			for unit, price := range units {
				copied[unit] = price
			}
			dst.Prices[tier] = copied
		}
	}
	return dst
}

func cloneParty(src domain.Party) domain.Party {
	dst := src
	dst.CreditLimit = cloneDecimal(src.CreditLimit)
	dst.Transactions = slices.Clone(src.Transactions)
	return dst
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}
