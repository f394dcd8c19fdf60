package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store/memory"
)

// newTestAPI wires the real service, auth manager and seeded memory store so
// handler tests exercise the full request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded(nil)
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, "123456", repo, nil)
	svc := service.New(repo, service.Options{
		DefaultStoreID:  "main-store",
		ApproveOverride: auth.ValidateManagerPIN,
		Settings: domain.Settings{
			AutoInventorySync: true,
			StockFloor:        domain.StockFloorNone,
			DefaultTier:       domain.TierRetail,
		},
	})
	return New(svc, auth, "*", nil)
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, api *API, username string, password string) *client {
	t.Helper()
	c := &client{t: t, handler: api.Handler()}
	rec := c.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&login))
	c.token = login.AccessToken
	c.csrf = fetchCSRFToken(t, api)
	return c
}

func (c *client) do(method string, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}

func cartLine(productID string, qty int64) domain.CartLine {
	return domain.CartLine{ProductID: productID, Unit: domain.UnitPiece, Quantity: decimal.NewFromInt(qty)}
}

func openTerminal(t *testing.T, c *client) {
	t.Helper()
	rec := c.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{TerminalID: "T1", OpeningCash: decimal.NewFromInt(100000)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	require.Equal(t, true, body["ok"])
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	c := &client{t: t, handler: api.Handler()}

	rec := c.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleProductsRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProductsListAndBarcodeLookup(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodGet, "/api/v1/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Products, 5)

	rec = cashier.do(http.MethodGet, "/api/v1/products/barcode/8992770011101", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = cashier.do(http.MethodGet, "/api/v1/products/prd-missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = cashier.do(http.MethodPost, "/api/v1/products", domain.ProductCreateRequest{Name: "Teh"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCommitInvoiceFlow(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	req := domain.InvoiceRequest{
		TerminalID:     "T1",
		Type:           domain.InvoiceTypeSale,
		IdempotencyKey: "idem-http-1",
		PartyID:        "cus-warung-sari",
		PaymentType:    domain.PaymentCredit,
		Items:          []domain.CartLine{cartLine("prd-kopi", 4)},
	}

	rec := cashier.do(http.MethodPost, "/api/v1/invoices", req)
	require.Equal(t, http.StatusConflict, rec.Code, "sale without an open shift")

	openTerminal(t, cashier)

	rec = cashier.do(http.MethodPost, "/api/v1/invoices/quote", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var quote domain.QuoteResponse
	decodeBody(t, rec, &quote)
	require.True(t, quote.Totals.NetTotal.Equal(decimal.NewFromInt(10400)))
	require.NotNil(t, quote.Credit)

	rec = cashier.do(http.MethodPost, "/api/v1/invoices", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result domain.InvoiceCommitResult
	decodeBody(t, rec, &result)
	require.Equal(t, "S-000001", result.Invoice.Number)
	require.True(t, result.Party.Balance.Equal(decimal.NewFromInt(10400)))

	rec = cashier.do(http.MethodPost, "/api/v1/invoices", req)
	require.Equal(t, http.StatusOK, rec.Code)
	var again domain.InvoiceCommitResult
	decodeBody(t, rec, &again)
	require.True(t, again.Duplicate)
	require.Equal(t, result.Invoice.ID, again.Invoice.ID)

	rec = cashier.do(http.MethodGet, "/api/v1/invoices/"+result.Invoice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = cashier.do(http.MethodGet, "/api/v1/invoices?type=sale&party_id=cus-warung-sari", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Invoices []domain.Invoice `json:"invoices"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Invoices, 1)

	rec = cashier.do(http.MethodGet, "/api/v1/invoices?from=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = cashier.do(http.MethodPost, "/api/v1/invoices/"+result.Invoice.ID+"/modification-request", domain.ModificationRequest{Note: "typo"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitInvoiceUnknownProductIs404(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	openTerminal(t, cashier)

	rec := cashier.do(http.MethodPost, "/api/v1/invoices", domain.InvoiceRequest{
		TerminalID:     "T1",
		Type:           domain.InvoiceTypeSale,
		IdempotencyKey: "idem-missing",
		PaymentType:    domain.PaymentCash,
		Items:          []domain.CartLine{cartLine("prd-ghost", 1)},
	})
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestCreditLimitBreachReturnsEvaluation(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	openTerminal(t, cashier)

	limit := decimal.NewFromInt(1000)
	rec := cashier.do(http.MethodPost, "/api/v1/parties", domain.PartyCreateRequest{Kind: domain.PartyCustomer, Name: "Budi", CreditLimit: &limit})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Party domain.Party `json:"party"`
	}
	decodeBody(t, rec, &created)

	req := domain.InvoiceRequest{
		TerminalID:     "T1",
		Type:           domain.InvoiceTypeSale,
		IdempotencyKey: "idem-breach",
		PartyID:        created.Party.ID,
		PaymentType:    domain.PaymentCredit,
		Items:          []domain.CartLine{cartLine("prd-kopi", 1)},
	}
	rec = cashier.do(http.MethodPost, "/api/v1/invoices", req)
	require.Equal(t, http.StatusConflict, rec.Code)
	var blocked struct {
		Error  string                  `json:"error"`
		Credit domain.CreditEvaluation `json:"credit"`
	}
	decodeBody(t, rec, &blocked)
	require.True(t, blocked.Credit.LimitExceeded)
	require.True(t, blocked.Credit.ProjectedBalance.Equal(decimal.NewFromInt(2600)))

	req.ConfirmCreditOverride = true
	req.ManagerPIN = "999999"
	rec = cashier.do(http.MethodPost, "/api/v1/invoices", req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req.ManagerPIN = "123456"
	rec = cashier.do(http.MethodPost, "/api/v1/invoices", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodPost, "/api/v1/parties/"+created.Party.ID+"/payments", domain.PaymentRequest{Amount: decimal.NewFromInt(600)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var paid domain.PaymentResponse
	decodeBody(t, rec, &paid)
	require.True(t, paid.Party.Balance.Equal(decimal.NewFromInt(2000)))

	rec = cashier.do(http.MethodGet, "/api/v1/parties/"+created.Party.ID+"/statement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statement domain.PartyStatement
	decodeBody(t, rec, &statement)
	require.Len(t, statement.Entries, 2)
	require.True(t, statement.ClosingBalance.Equal(decimal.NewFromInt(2000)))
}

func TestDraftEndpoints(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPut, "/api/v1/drafts", domain.DraftSaveRequest{
		TerminalID: "T1",
		Type:       domain.InvoiceTypeSale,
		Items:      []domain.LineItem{{ProductID: "prd-air", Unit: domain.UnitPiece, Quantity: decimal.NewFromInt(2)}},
		Note:       "table 4",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodGet, "/api/v1/drafts?terminal_id=T1&type=sale", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded domain.DraftResponse
	decodeBody(t, rec, &loaded)
	require.True(t, loaded.Found)
	require.Equal(t, "table 4", loaded.Draft.Note)

	rec = cashier.do(http.MethodDelete, "/api/v1/drafts?terminal_id=T1&type=sale", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = cashier.do(http.MethodGet, "/api/v1/drafts?terminal_id=T1&type=sale", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared domain.DraftResponse
	decodeBody(t, rec, &cleared)
	require.False(t, cleared.Found)

	rec = cashier.do(http.MethodGet, "/api/v1/drafts?terminal_id=T1&type=refund", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsAndDailyReport(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")
	openTerminal(t, cashier)

	enabled := true
	rate := decimal.NewFromInt(10)
	rec := cashier.do(http.MethodPatch, "/api/v1/settings", domain.SettingsUpdateRequest{TaxEnabled: &enabled, TaxRatePercent: &rate})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(http.MethodPatch, "/api/v1/settings", domain.SettingsUpdateRequest{TaxEnabled: &enabled, TaxRatePercent: &rate})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodPost, "/api/v1/invoices", domain.InvoiceRequest{
		TerminalID:     "T1",
		Type:           domain.InvoiceTypeSale,
		IdempotencyKey: "idem-taxed",
		PaymentType:    domain.PaymentCash,
		Items:          []domain.CartLine{cartLine("prd-gula", 1)},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodGet, "/api/v1/reports/daily", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(http.MethodGet, "/api/v1/reports/daily", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.DailyReport
	decodeBody(t, rec, &report)
	require.Equal(t, int64(1), report.Sales)
	require.True(t, report.Tax.Equal(decimal.NewFromInt(1740)))
	require.True(t, report.NetSales.Equal(decimal.NewFromInt(19140)))

	rec = admin.do(http.MethodGet, "/api/v1/reports/daily?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "summary,net_sales,19140")
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))

	rec = admin.do(http.MethodGet, "/api/v1/audit-logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCashierManagement(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/users/cashiers", domain.CashierCreateRequest{Username: "till02", Password: "s3cret-till"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodPost, "/api/v1/users/cashiers", domain.CashierCreateRequest{Username: "till02", Password: "s3cret-till"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = admin.do(http.MethodPost, "/api/v1/users/cashiers", domain.CashierCreateRequest{Username: "ab", Password: "s3cret-till"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = admin.do(http.MethodGet, "/api/v1/users/cashiers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Cashiers []domain.CashierUser `json:"cashiers"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Cashiers, 2)

	newClient(t, api, "till02", "s3cret-till")
}
