package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// CartLine is a line as entered at the terminal. A nil Price means the
// product's tier price applies.
type CartLine struct {
	ProductID string           `json:"product_id" validate:"required"`
	Unit      Unit             `json:"unit" validate:"required,oneof=piece dozen carton"`
	Quantity  decimal.Decimal  `json:"quantity" validate:"gt=0"`
	Price     *decimal.Decimal `json:"price,omitempty" validate:"omitempty,gte=0"`
	Discount  decimal.Decimal  `json:"discount" validate:"gte=0"`
}

// InvoiceRequest drives both quoting and committing an invoice.
type InvoiceRequest struct {
	StoreID               string          `json:"store_id"`
	TerminalID            string          `json:"terminal_id" validate:"required"`
	Type                  InvoiceType     `json:"type" validate:"required,oneof=sale purchase"`
	IdempotencyKey        string          `json:"idempotency_key"`
	PartyID               string          `json:"party_id"`
	PaymentType           PaymentType     `json:"payment_type" validate:"required,oneof=cash credit transfer"`
	PaidAmount            decimal.Decimal `json:"paid_amount" validate:"gte=0"`
	Tier                  PricingTier     `json:"tier" validate:"omitempty,oneof=retail wholesale special"`
	Note                  string          `json:"note" validate:"max=500"`
	ConfirmCreditOverride bool            `json:"confirm_credit_override"`
	ManagerPIN            string          `json:"manager_pin,omitempty"`
	Items                 []CartLine      `json:"items" validate:"dive"`
}

type QuoteResponse struct {
	Items   []LineItem        `json:"items"`
	Totals  Totals            `json:"totals"`
	Display Totals            `json:"display"`
	Credit  *CreditEvaluation `json:"credit,omitempty"`
}

type DraftSaveRequest struct {
	StoreID     string          `json:"store_id"`
	TerminalID  string          `json:"terminal_id" validate:"required"`
	Type        InvoiceType     `json:"type" validate:"required,oneof=sale purchase"`
	Items       []LineItem      `json:"items"`
	PartyID     string          `json:"party_id"`
	PaymentType PaymentType     `json:"payment_type" validate:"omitempty,oneof=cash credit transfer"`
	PaidAmount  decimal.Decimal `json:"paid_amount" validate:"gte=0"`
	Note        string          `json:"note" validate:"max=500"`
	Tier        PricingTier     `json:"tier" validate:"omitempty,oneof=retail wholesale special"`
}

type DraftResponse struct {
	Found bool        `json:"found"`
	Draft *DraftState `json:"draft,omitempty"`
}

type ProductCreateRequest struct {
	Name       string          `json:"name" validate:"required,max=200"`
	Barcode    string          `json:"barcode" validate:"omitempty,max=64"`
	Stock      decimal.Decimal `json:"stock"`
	CostPrice  decimal.Decimal `json:"cost_price" validate:"gte=0"`
	Prices     PriceTable      `json:"prices"`
	Conversion Conversion      `json:"conversion"`
}

type ProductUpdateRequest struct {
	Name       *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Barcode    *string          `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Stock      *decimal.Decimal `json:"stock,omitempty"`
	StockDelta *decimal.Decimal `json:"stock_delta,omitempty"`
	CostPrice  *decimal.Decimal `json:"cost_price,omitempty" validate:"omitempty,gte=0"`
	Prices     PriceTable       `json:"prices,omitempty"`
	Conversion *Conversion      `json:"conversion,omitempty"`
	Active     *bool            `json:"active,omitempty"`
}

type PartyCreateRequest struct {
	Kind           PartyKind        `json:"kind" validate:"required,oneof=customer supplier"`
	Name           string           `json:"name" validate:"required,max=200"`
	Phone          string           `json:"phone" validate:"max=32"`
	OpeningBalance decimal.Decimal  `json:"opening_balance"`
	CreditLimit    *decimal.Decimal `json:"credit_limit,omitempty" validate:"omitempty,gte=0"`
}

type PartyUpdateRequest struct {
	Name             *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Phone            *string          `json:"phone,omitempty" validate:"omitempty,max=32"`
	CreditLimit      *decimal.Decimal `json:"credit_limit,omitempty" validate:"omitempty,gte=0"`
	ClearCreditLimit bool             `json:"clear_credit_limit"`
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Note   string          `json:"note" validate:"max=200"`
}

type PaymentResponse struct {
	Party       Party              `json:"party"`
	Transaction AccountTransaction `json:"transaction"`
}

// PartyStatement lists a party's ledger entries between two instants,
// oldest first.
type PartyStatement struct {
	PartyID        string               `json:"party_id"`
	PartyName      string               `json:"party_name"`
	From           time.Time            `json:"from"`
	To             time.Time            `json:"to"`
	OpeningBalance decimal.Decimal      `json:"opening_balance"`
	ClosingBalance decimal.Decimal      `json:"closing_balance"`
	Entries        []AccountTransaction `json:"entries"`
}

type ModificationRequest struct {
	Note string `json:"note" validate:"required,max=500"`
}

type ShiftOpenRequest struct {
	StoreID     string          `json:"store_id"`
	TerminalID  string          `json:"terminal_id" validate:"required"`
	CashierName string          `json:"cashier_name"`
	OpeningCash decimal.Decimal `json:"opening_cash" validate:"gte=0"`
}

type ShiftCloseRequest struct {
	StoreID     string          `json:"store_id"`
	TerminalID  string          `json:"terminal_id" validate:"required"`
	ClosingCash decimal.Decimal `json:"closing_cash" validate:"gte=0"`
}

type ShiftResponse struct {
	Active bool   `json:"active"`
	Shift  *Shift `json:"shift,omitempty"`
}

type SettingsUpdateRequest struct {
	TaxEnabled        *bool             `json:"tax_enabled,omitempty"`
	TaxRatePercent    *decimal.Decimal  `json:"tax_rate_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	AutoInventorySync *bool             `json:"auto_inventory_sync,omitempty"`
	StockFloor        *StockFloorPolicy `json:"stock_floor,omitempty" validate:"omitempty,oneof=none zero"`
	DefaultTier       *PricingTier      `json:"default_tier,omitempty" validate:"omitempty,oneof=retail wholesale special"`
}

type DailyReportPayment struct {
	PaymentType PaymentType     `json:"payment_type"`
	Invoices    int64           `json:"invoices"`
	Total       decimal.Decimal `json:"total"`
}

type DailyReport struct {
	StoreID           string               `json:"store_id"`
	Date              string               `json:"date"`
	Sales             int64                `json:"sales"`
	GrossSales        decimal.Decimal      `json:"gross_sales"`
	Discount          decimal.Decimal      `json:"discount"`
	Tax               decimal.Decimal      `json:"tax"`
	NetSales          decimal.Decimal      `json:"net_sales"`
	Profit            decimal.Decimal      `json:"profit"`
	CreditOutstanding decimal.Decimal      `json:"credit_outstanding"`
	Purchases         int64                `json:"purchases"`
	PurchaseTotal     decimal.Decimal      `json:"purchase_total"`
	ByPayment         []DailyReportPayment `json:"by_payment"`
}
