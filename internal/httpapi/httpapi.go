package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/lock"
	"posledger/backend/internal/logger"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *zap.Logger
	allowedOrigin string
	csrf          *csrfGuard
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	return &API{
		service:       svc,
		auth:          auth,
		log:           log,
		allowedOrigin: allowedOrigin,
		csrf:          newCSRFGuard(log),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/invoices/quote", a.requireAuth(a.handleQuote, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/invoices", a.requireAuth(a.handleInvoices, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/invoices/", a.requireAuth(a.handleInvoiceActions, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/drafts", a.requireAuth(a.handleDrafts, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/parties", a.requireAuth(a.handleParties, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/parties/", a.requireAuth(a.handlePartyActions, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/shifts/close", a.requireAuth(a.handleShiftClose, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/shifts/active", a.requireAuth(a.handleShiftActive, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/settings", a.requireAuth(a.handleSettings, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, domain.RoleAdmin))

	return logger.Middleware(a.log, a.secure(mux))
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token that mutating requests carry in
// the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.csrf.issue(time.Now()),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeInactive := r.URL.Query().Get("include_inactive") == "true"
		products, err := a.service.ListProducts(r.Context(), includeInactive)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r, "/api/v1/products/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	if code, ok := strings.CutPrefix(tail, "barcode/"); ok {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		product, err := a.service.FindProductByBarcode(r.Context(), code)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), tail)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateProduct(r.Context(), tail, req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": updated})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.InvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	quote, err := a.service.QuoteInvoice(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := invoiceFilterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		invoices, err := a.service.ListInvoices(r.Context(), filter)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
	case http.MethodPost:
		var req domain.InvoiceRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.ManagerPIN) != "" && !a.pinLimiter.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}

		result, err := a.service.CommitInvoice(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, result)
	default:
		writeMethodNotAllowed(w)
	}
}

func invoiceFilterFromQuery(r *http.Request) (domain.InvoiceFilter, error) {
	query := r.URL.Query()
	filter := domain.InvoiceFilter{
		StoreID: query.Get("store_id"),
		Type:    domain.InvoiceType(query.Get("type")),
		PartyID: query.Get("party_id"),
		Limit:   parsePositiveLimit(query.Get("limit"), 100, 500),
	}
	var err error
	if filter.From, err = parseDay(query.Get("from"), false); err != nil {
		return filter, err
	}
	if filter.To, err = parseDay(query.Get("to"), true); err != nil {
		return filter, err
	}
	return filter, nil
}

func (a *API) handleInvoiceActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r, "/api/v1/invoices/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("invoice id required"))
		return
	}

	if id, ok := strings.CutSuffix(tail, "/modification-request"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.ModificationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.RequestPurchaseModification(r.Context(), strings.Trim(id, "/"), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoice": updated})
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	invoice, err := a.service.GetInvoice(r.Context(), tail)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleDrafts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	switch r.Method {
	case http.MethodGet:
		resp, err := a.service.LoadDraft(r.Context(), query.Get("store_id"), query.Get("terminal_id"), domain.InvoiceType(query.Get("type")))
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPut:
		var req domain.DraftSaveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.SaveDraft(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		if err := a.service.DiscardDraft(r.Context(), query.Get("store_id"), query.Get("terminal_id"), domain.InvoiceType(query.Get("type"))); err != nil {
			a.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleParties(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		parties, err := a.service.ListParties(r.Context(), domain.PartyKind(r.URL.Query().Get("kind")))
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"parties": parties})
	case http.MethodPost:
		var req domain.PartyCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		party, err := a.service.CreateParty(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"party": party})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePartyActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r, "/api/v1/parties/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("party id required"))
		return
	}

	id, action, _ := strings.Cut(tail, "/")
	switch action {
	case "payments":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.PaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.RecordPayment(r.Context(), id, req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	case "statement":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		statement, err := a.service.PartyStatement(r.Context(), id, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statement)
	case "":
		switch r.Method {
		case http.MethodGet:
			party, err := a.service.GetParty(r.Context(), id)
			if err != nil {
				a.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"party": party})
		case http.MethodPatch:
			var req domain.PartyUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			party, err := a.service.UpdateParty(r.Context(), id, req)
			if err != nil {
				a.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"party": party})
		default:
			writeMethodNotAllowed(w)
		}
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown party action %q", action))
	}
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.GetActiveShift(r.Context(), r.URL.Query().Get("store_id"), r.URL.Query().Get("terminal_id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.service.Settings())
	case http.MethodPatch:
		var req domain.SettingsUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		settings, err := a.service.UpdateSettings(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("store_id"), query.Get("date"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	report, err := a.service.DailySummary(r.Context(), query.Get("store_id"), query.Get("date"))
	if err != nil {
		a.fail(w, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(query.Get("format"))) {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-report-%s.csv\"", report.Date))
		_, _ = w.Write([]byte(dailyReportToCSV(report)))
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(r.Context(), req)
		switch {
		case errors.Is(err, ErrUsernameTaken), errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, err)
			return
		case errors.Is(err, ErrInvalidAccount):
			writeError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

// statusFor maps service and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUnknownReference), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBlockedCommit),
		errors.Is(err, service.ErrCreditLimitExceeded),
		errors.Is(err, service.ErrStockBelowFloor),
		errors.Is(err, service.ErrShiftAlreadyOpen),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, lock.ErrNotObtained):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
	}

	var limitErr *service.CreditLimitError
	if errors.As(err, &limitErr) {
		writeJSON(w, status, map[string]any{
			"error":  err.Error(),
			"credit": limitErr.Evaluation,
		})
		return
	}
	writeError(w, status, err)
}

func pathTail(r *http.Request, prefix string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
}

func parseDay(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", raw)
	}
	if upper {
		day = day.Add(24 * time.Hour)
	}
	return day, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx errors from the client.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
