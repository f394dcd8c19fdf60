package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidAccount     = errors.New("invalid account")
)

const tokenIssuer = "posledger"

// UserStore persists login accounts. The repository implements it.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type account struct {
	hash    string
	role    string
	active  bool
	created time.Time
}

// accountCache mirrors the user store in memory, keyed by lower-case
// username.
type accountCache struct {
	mu       sync.RWMutex
	accounts map[string]account
}

func (c *accountCache) get(username string) (account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, ok := c.accounts[username]
	return acc, ok
}

func (c *accountCache) put(username string, acc account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[username] = acc
}

func (c *accountCache) withRole(role string) []domain.CashierUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.CashierUser, 0, len(c.accounts))
	for username, acc := range c.accounts {
		if acc.role == role {
			out = append(out, domain.CashierUser{Username: username, Role: acc.role, Active: acc.active, CreatedAt: acc.created})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// AuthManager issues and checks bearer tokens and guards the manager PIN that
// approves credit limit overrides.
type AuthManager struct {
	signingKey []byte
	ttl        time.Duration
	pinHash    string
	users      UserStore
	cache      *accountCache
	log        *zap.Logger
}

func NewAuthManager(ctx context.Context, secret string, ttl time.Duration, managerPIN string, users UserStore, log *zap.Logger) *AuthManager {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("auth")
	if secret == "" {
		log.Warn("AUTH_SECRET is empty, tokens are signed with a development key")
		secret = "dev-change-me"
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}

	m := &AuthManager{
		signingKey: []byte(secret),
		ttl:        ttl,
		users:      users,
		cache:      &accountCache{accounts: make(map[string]account)},
		log:        log,
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			log.Warn("hash manager pin, overrides need an admin", zap.Error(err))
		} else {
			m.pinHash = string(hash)
		}
	}
	m.refresh(ctx)
	return m
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (m *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	m.refresh(ctx)
	username := normalizeUsername(req.Username)
	acc, ok := m.cache.get(username)
	if !ok || !checkHash(acc.hash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !acc.active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: acc.role,
	}).SignedString(m.signingKey)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("sign token: %w", err)
	}

	return domain.LoginResponse{
		AccessToken: signed,
		Username:    username,
		Role:        acc.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken verifies a bearer token and returns the actor it was issued to.
func (m *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims sessionClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (any, error) {
		return m.signingKey, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil || claims.Subject == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

// ValidateManagerPIN reports whether pin matches the configured manager PIN.
// With no PIN configured nothing matches.
func (m *AuthManager) ValidateManagerPIN(pin string) bool {
	if m.pinHash == "" {
		return false
	}
	return checkHash(m.pinHash, strings.TrimSpace(pin))
}

func (m *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	m.refresh(ctx)
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return domain.CashierUser{}, fmt.Errorf("%w: username must be at least 4 characters", ErrInvalidAccount)
	case strings.IndexFunc(username, unicode.IsSpace) >= 0:
		return domain.CashierUser{}, fmt.Errorf("%w: username must not contain spaces", ErrInvalidAccount)
	case len(strings.TrimSpace(req.Password)) < 6:
		return domain.CashierUser{}, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidAccount)
	}
	if _, exists := m.cache.get(username); exists {
		return domain.CashierUser{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	acc := account{hash: string(hash), role: domain.RoleCashier, active: true, created: time.Now().UTC()}

	if m.users != nil {
		err := m.users.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  acc.hash,
			Role:      acc.role,
			Active:    acc.active,
			CreatedAt: acc.created,
		})
		if err != nil {
			return domain.CashierUser{}, err
		}
	}
	m.cache.put(username, acc)
	m.log.Info("cashier created", zap.String("username", username))

	return domain.CashierUser{Username: username, Role: acc.role, Active: acc.active, CreatedAt: acc.created}, nil
}

func (m *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	m.refresh(ctx)
	return m.cache.withRole(domain.RoleCashier)
}

// refresh reloads accounts from the user store. Accounts still holding a
// plain-text password are rehashed and written back.
func (m *AuthManager) refresh(ctx context.Context) {
	if m.users == nil {
		return
	}
	stored, err := m.users.ListUsers(ctx)
	if err != nil {
		m.log.Warn("load users", zap.Error(err))
		return
	}

	for _, user := range stored {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		hash := user.Password
		if !isBcryptHash(hash) {
			upgraded, err := bcrypt.GenerateFromPassword([]byte(hash), bcrypt.DefaultCost)
			if err != nil {
				m.log.Warn("rehash legacy password", zap.String("username", username), zap.Error(err))
				continue
			}
			hash = string(upgraded)
			if err := m.users.UpdateUserPassword(ctx, username, hash); err != nil {
				m.log.Warn("store rehashed password", zap.String("username", username), zap.Error(err))
			}
		}
		m.cache.put(username, account{hash: hash, role: user.Role, active: user.Active, created: user.CreatedAt})
	}
}

func checkHash(hash string, plain string) bool {
	if !isBcryptHash(hash) || strings.TrimSpace(plain) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func isBcryptHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
