package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// csrfGuard issues stateless tokens: the HMAC of the current hour. A token
// stays valid for the hour it was issued in and the next one.
type csrfGuard struct {
	key []byte
}

func newCSRFGuard(log *zap.Logger) *csrfGuard {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Warn("generate csrf key, using fallback", zap.Error(err))
		key = []byte("posledger-csrf-fallback-key-0000")
	}
	return &csrfGuard{key: key}
}

func (g *csrfGuard) tokenFor(hour time.Time) string {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(strconv.FormatInt(hour.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *csrfGuard) issue(now time.Time) string {
	return g.tokenFor(now.UTC().Truncate(time.Hour))
}

func (g *csrfGuard) valid(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	hour := now.UTC().Truncate(time.Hour)
	for _, candidate := range []time.Time{hour, hour.Add(-time.Hour)} {
		if hmac.Equal([]byte(token), []byte(g.tokenFor(candidate))) {
			return true
		}
	}
	return false
}

// attemptLimiter counts attempts per key in fixed windows.
type attemptLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*attemptBucket
}

type attemptBucket struct {
	start time.Time
	count int
}

func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{limit: limit, window: window, buckets: make(map[string]*attemptBucket)}
}

func (l *attemptLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.Sub(bucket.start) >= l.window {
		l.buckets[key] = &attemptBucket{start: now, count: 1}
		l.prune(now)
		return true
	}
	if bucket.count >= l.limit {
		return false
	}
	bucket.count++
	return true
}

func (l *attemptLimiter) prune(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.start) >= l.window {
			delete(l.buckets, key)
		}
	}
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

func needsCSRF(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return r.URL.Path != "/api/v1/auth/login"
	}
	return false
}

// secure sets security and CORS headers, caps request bodies, answers
// preflight requests and enforces CSRF tokens on mutating requests.
func (a *API) secure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		h.Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Body != nil && r.Method != http.MethodGet {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if needsCSRF(r) && !a.csrf.valid(strings.TrimSpace(r.Header.Get("X-CSRF-Token")), time.Now()) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
