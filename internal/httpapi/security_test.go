package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"posledger/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	require.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, res.Header().Get("Referrer-Policy"))
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123")
	c.csrf = ""

	rec := c.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{TerminalID: "T1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	c.csrf = "forged"
	rec = c.do(http.MethodDelete, "/api/v1/drafts?terminal_id=T1&type=sale", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)
	handler := api.Handler()

	body, _ := json.Marshal(domain.InvoiceRequest{
		TerminalID:            "T1",
		Type:                  domain.InvoiceTypeSale,
		IdempotencyKey:        "idem-pin",
		PaymentType:           domain.PaymentCash,
		ConfirmCreditOverride: true,
		ManagerPIN:            "000000",
	})

	for i := 0; i < 9; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		req.RemoteAddr = "127.0.0.1:5001"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 8 {
			require.Equal(t, http.StatusConflict, res.Code, "attempt %d", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, res.Code)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	require.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	require.Equal(t, 50, parsePositiveLimit("", 50, 200))
	require.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
}

func TestCSRFGuardAcceptsPreviousHourOnly(t *testing.T) {
	guard := newCSRFGuard(zap.NewNop())
	issued := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	token := guard.issue(issued)

	require.True(t, guard.valid(token, issued))
	require.True(t, guard.valid(token, issued.Add(time.Hour)))
	require.False(t, guard.valid(token, issued.Add(2*time.Hour)))
	require.False(t, guard.valid("", issued))
	require.False(t, newCSRFGuard(zap.NewNop()).valid(token, issued))
}

func TestAttemptLimiterIsPerKey(t *testing.T) {
	limiter := newAttemptLimiter(2, time.Minute)
	require.True(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.1"))
	require.False(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.2"))

	var disabled *attemptLimiter
	require.True(t, disabled.allow("anyone"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:8443"
	require.Equal(t, "2001:db8::1", clientIP(req))
	req.RemoteAddr = "192.0.2.7:1234"
	require.Equal(t, "192.0.2.7", clientIP(req))
	req.RemoteAddr = ""
	require.Equal(t, "unknown", clientIP(req))
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, strings.TrimSpace(payload["csrf_token"]))
	return payload["csrf_token"]
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "admin123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var payload domain.LoginResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, payload.AccessToken)
	return payload.AccessToken
}
