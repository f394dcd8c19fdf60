package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"posledger/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	ctx := context.Background()
	store := legacyAdminStore()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, "123456", store, nil)
	resp, err := manager.Login(ctx, domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, resp.Role)
	require.Equal(t, "admin", resp.Username)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.NotEqual(t, "admin123", users[0].Password)
	require.True(t, strings.HasPrefix(users[0].Password, "$2"))
	require.GreaterOrEqual(t, store.updates, 1)
}

func TestLoginRejectsBadPasswordAndInactiveAccount(t *testing.T) {
	ctx := context.Background()
	store := legacyAdminStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("sleepy1"), bcrypt.MinCost)
	require.NoError(t, err)
	store.users["retired"] = domain.UserAccount{Username: "retired", Password: string(hash), Role: domain.RoleCashier}

	manager := NewAuthManager(ctx, "test-secret", time.Hour, "", store, nil)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "retired", Password: "sleepy1"})
	require.ErrorIs(t, err, ErrInactiveAccount)
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	ctx := context.Background()
	store := legacyAdminStore()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, "123456", store, nil)
	cashier, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "NewTill", Password: "pass1234"})
	require.NoError(t, err)
	require.Equal(t, "newtill", cashier.Username)

	saved, ok := store.users["newtill"]
	require.True(t, ok)
	require.NotEqual(t, "pass1234", saved.Password)
	require.True(t, strings.HasPrefix(saved.Password, "$2"))

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "newtill", Password: "pass1234"})
	require.NoError(t, err)

	_, err = manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "newtill", Password: "pass1234"})
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "two words", Password: "pass1234"})
	require.ErrorIs(t, err, ErrInvalidAccount)

	cashiers := manager.ListCashiers(ctx)
	require.Len(t, cashiers, 1)
	require.Equal(t, "newtill", cashiers[0].Username)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "654321", &userStoreStub{}, nil)

	require.NotEqual(t, "654321", manager.pinHash)
	require.True(t, manager.ValidateManagerPIN("654321"))
	require.False(t, manager.ValidateManagerPIN("111111"))
	require.False(t, manager.ValidateManagerPIN(""))
}

func TestManagerPINDisabledWhenUnset(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "  ", nil, nil)
	require.False(t, manager.ValidateManagerPIN("disabled"))
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	ctx := context.Background()
	issuer := NewAuthManager(ctx, "secret-a", time.Hour, "", legacyAdminStore(), nil)
	verifier := NewAuthManager(ctx, "secret-b", time.Hour, "", nil, nil)

	resp, err := issuer.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	actor, err := issuer.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.Actor{Username: "admin", Role: domain.RoleAdmin}, actor)

	_, err = verifier.ParseToken(resp.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}
