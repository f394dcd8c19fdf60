package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceType string

const (
	InvoiceTypeSale     InvoiceType = "sale"
	InvoiceTypePurchase InvoiceType = "purchase"
)

func (t InvoiceType) Valid() bool {
	return t == InvoiceTypeSale || t == InvoiceTypePurchase
}

type Unit string

const (
	UnitPiece  Unit = "piece"
	UnitDozen  Unit = "dozen"
	UnitCarton Unit = "carton"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitPiece, UnitDozen, UnitCarton:
		return true
	}
	return false
}

type PaymentType string

const (
	PaymentCash     PaymentType = "cash"
	PaymentCredit   PaymentType = "credit"
	PaymentTransfer PaymentType = "transfer"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentCash, PaymentCredit, PaymentTransfer:
		return true
	}
	return false
}

// PricingTier selects which price column of a product applies to a line.
type PricingTier string

const (
	TierRetail    PricingTier = "retail"
	TierWholesale PricingTier = "wholesale"
	TierSpecial   PricingTier = "special"
)

func (t PricingTier) Valid() bool {
	switch t {
	case TierRetail, TierWholesale, TierSpecial:
		return true
	}
	return false
}

type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
)

func (k PartyKind) Valid() bool {
	return k == PartyCustomer || k == PartySupplier
}

type LoyaltyRank string

const (
	RankBronze   LoyaltyRank = "bronze"
	RankSilver   LoyaltyRank = "silver"
	RankGold     LoyaltyRank = "gold"
	RankPlatinum LoyaltyRank = "platinum"
)

type TransactionType string

const (
	TxTypeSale     TransactionType = "sale"
	TxTypePurchase TransactionType = "purchase"
	TxTypePayment  TransactionType = "payment"
	TxTypeOpening  TransactionType = "opening"
)

// StockFloorPolicy decides whether a sale may drive product stock below zero.
type StockFloorPolicy string

const (
	StockFloorNone StockFloorPolicy = "none"
	StockFloorZero StockFloorPolicy = "zero"
)

func (p StockFloorPolicy) Valid() bool {
	return p == StockFloorNone || p == StockFloorZero
}

type Conversion struct {
	DozenToPiece  decimal.Decimal `json:"dozen_to_piece"`
	CartonToPiece decimal.Decimal `json:"carton_to_piece"`
}

// PriceTable maps a tier to the per-unit prices of that tier.
type PriceTable map[PricingTier]map[Unit]decimal.Decimal

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode,omitempty"`
	Stock      decimal.Decimal `json:"stock"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	Prices     PriceTable      `json:"prices"`
	Conversion Conversion      `json:"conversion"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ProductPatch lists the product fields an edit changes. Nil fields keep the
// stored value. StockDelta is added to the stored stock; Stock replaces it.
type ProductPatch struct {
	Name       *string
	Barcode    *string
	Stock      *decimal.Decimal
	StockDelta *decimal.Decimal
	CostPrice  *decimal.Decimal
	Prices     PriceTable
	Conversion *Conversion
	Active     *bool
}

// Apply returns p with the patch applied on top.
func (pp ProductPatch) Apply(p Product) Product {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Barcode != nil {
		p.Barcode = *pp.Barcode
	}
	if pp.Stock != nil {
		p.Stock = *pp.Stock
	}
	if pp.StockDelta != nil {
		p.Stock = p.Stock.Add(*pp.StockDelta)
	}
	if pp.CostPrice != nil {
		p.CostPrice = *pp.CostPrice
	}
	if pp.Prices != nil {
		p.Prices = pp.Prices
	}
	if pp.Conversion != nil {
		p.Conversion = *pp.Conversion
	}
	if pp.Active != nil {
		p.Active = *pp.Active
	}
	return p
}

type LineItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Unit        Unit            `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

// Recompute refreshes the derived Total from quantity, price and discount.
func (l *LineItem) Recompute() {
	l.Total = l.Quantity.Mul(l.Price).Sub(l.Discount)
}

type TaxConfig struct {
	Enabled     bool            `json:"enabled"`
	RatePercent decimal.Decimal `json:"rate_percent"`
}

type Totals struct {
	SubTotal      decimal.Decimal `json:"sub_total"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TaxableBase   decimal.Decimal `json:"taxable_base"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	NetTotal      decimal.Decimal `json:"net_total"`
}

// Display returns a copy rounded for presentation only.
func (t Totals) Display(places int32) Totals {
	return Totals{
		SubTotal:      t.SubTotal.Round(places),
		TotalDiscount: t.TotalDiscount.Round(places),
		TaxableBase:   t.TaxableBase.Round(places),
		TaxAmount:     t.TaxAmount.Round(places),
		NetTotal:      t.NetTotal.Round(places),
	}
}

type CreditEvaluation struct {
	PartyBalance     decimal.Decimal  `json:"party_balance"`
	CreditLimit      *decimal.Decimal `json:"credit_limit,omitempty"`
	CreditDelta      decimal.Decimal  `json:"credit_delta"`
	ProjectedBalance decimal.Decimal  `json:"projected_balance"`
	LimitExceeded    bool             `json:"limit_exceeded"`
}

type AccountTransaction struct {
	ID           string          `json:"id"`
	Date         time.Time       `json:"date"`
	Note         string          `json:"note"`
	Type         TransactionType `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	InvoiceID    string          `json:"invoice_id,omitempty"`
}

type Party struct {
	ID            string               `json:"id"`
	Kind          PartyKind            `json:"kind"`
	Name          string               `json:"name"`
	Phone         string               `json:"phone,omitempty"`
	Balance       decimal.Decimal      `json:"balance"`
	CreditLimit   *decimal.Decimal     `json:"credit_limit,omitempty"`
	Transactions  []AccountTransaction `json:"transactions"`
	TotalSpent    decimal.Decimal      `json:"total_spent"`
	LoyaltyPoints int64                `json:"loyalty_points"`
	Rank          LoyaltyRank          `json:"rank,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

type Invoice struct {
	ID                    string          `json:"id"`
	Type                  InvoiceType     `json:"type"`
	Number                string          `json:"number"`
	Date                  time.Time       `json:"date"`
	StoreID               string          `json:"store_id"`
	TerminalID            string          `json:"terminal_id"`
	ShiftID               string          `json:"shift_id,omitempty"`
	PartyID               string          `json:"party_id,omitempty"`
	PartyName             string          `json:"party_name,omitempty"`
	Items                 []LineItem      `json:"items"`
	PaymentType           PaymentType     `json:"payment_type"`
	Tax                   TaxConfig       `json:"tax"`
	SubTotal              decimal.Decimal `json:"sub_total"`
	TotalDiscount         decimal.Decimal `json:"total_discount"`
	TaxAmount             decimal.Decimal `json:"tax_amount"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	PaidAmount            decimal.Decimal `json:"paid_amount"`
	RemainingAmount       decimal.Decimal `json:"remaining_amount"`
	PreviousBalance       decimal.Decimal `json:"previous_balance"`
	Profit                decimal.Decimal `json:"profit"`
	Note                  string          `json:"note,omitempty"`
	IdempotencyKey        string          `json:"idempotency_key"`
	ModificationRequested bool            `json:"modification_requested"`
	ModificationNote      string          `json:"modification_note,omitempty"`
	CreatedBy             string          `json:"created_by,omitempty"`
}

type DraftState struct {
	Type        InvoiceType     `json:"type"`
	Items       []LineItem      `json:"items"`
	PartyID     string          `json:"party_id,omitempty"`
	PaymentType PaymentType     `json:"payment_type"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Note        string          `json:"note,omitempty"`
	Tier        PricingTier     `json:"tier,omitempty"`
	SavedAt     time.Time       `json:"saved_at"`
}

type Settings struct {
	Tax               TaxConfig        `json:"tax"`
	AutoInventorySync bool             `json:"auto_inventory_sync"`
	StockFloor        StockFloorPolicy `json:"stock_floor"`
	DefaultTier       PricingTier      `json:"default_tier"`
}

type Shift struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	TerminalID  string          `json:"terminal_id"`
	CashierName string          `json:"cashier_name"`
	OpeningCash decimal.Decimal `json:"opening_cash"`
	ClosingCash decimal.Decimal `json:"closing_cash"`
	Status      string          `json:"status"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// InvoiceFilter narrows invoice history listings. Zero values mean "any".
type InvoiceFilter struct {
	StoreID string
	Type    InvoiceType
	PartyID string
	From    time.Time
	To      time.Time
	Limit   int
}

// InvoiceCommit is everything the repository needs to apply one invoice
// atomically: the invoice itself plus the policies for stock and ledger.
type InvoiceCommit struct {
	Invoice           Invoice
	AutoInventorySync bool
	StockFloor        StockFloorPolicy
}

type InvoiceCommitResult struct {
	Invoice   Invoice   `json:"invoice"`
	Party     *Party    `json:"party,omitempty"`
	Products  []Product `json:"products,omitempty"`
	Duplicate bool      `json:"duplicate"`
}

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
