package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"posledger/backend/internal/config"
	"posledger/backend/internal/draft"
	"posledger/backend/internal/httpapi"
	"posledger/backend/internal/lock"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store"
	"posledger/backend/internal/store/memory"
	pgstore "posledger/backend/internal/store/postgres"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg, log := a.cfg, a.log
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("close resource", zap.Error(err))
			}
		}
	}()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.MigrateOnStart {
			if err := pg.Migrate(startCtx); err != nil {
				return err
			}
			log.Info("schema applied")
		}
		repo = pg
		log.Info("repository ready", zap.String("backend", "postgres"))
	} else {
		repo = memory.NewSeeded(log)
		log.Info("repository ready", zap.String("backend", "memory"))
	}

	drafts, locker, closeRedis := connectRedis(startCtx, cfg, log)
	if closeRedis != nil {
		closers = append(closers, closeRedis)
	}

	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN, repo, log)
	svc := service.New(repo, service.Options{
		Drafts:          drafts,
		Locker:          locker,
		Logger:          log,
		DefaultStoreID:  cfg.StoreID,
		Settings:        cfg.Settings(),
		ApproveOverride: auth.ValidateManagerPIN,
	})
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Address()), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// connectRedis returns redis backed drafts and locks when REDIS_ADDR is
// reachable and process-local ones otherwise.
func connectRedis(ctx context.Context, cfg config.Config, log *zap.Logger) (draft.Store, lock.Locker, func() error) {
	if cfg.RedisAddr == "" {
		log.Info("drafts and commit locks are process local", zap.String("backend", "memory"))
		return draft.NewMemoryStore(), lock.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	drafts := draft.NewRedisStore(client, cfg.DraftTTL())
	if err := drafts.Ping(ctx); err != nil {
		log.Warn("redis unavailable, drafts and commit locks are process local", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = client.Close()
		return draft.NewMemoryStore(), lock.NewLocalLocker(), nil
	}

	log.Info("drafts and commit locks ready", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
	return drafts, lock.NewRedisLocker(client, cfg.CommitLockTTL()), client.Close
}

// validateSecurityConfig rejects short signing secrets. The manager PIN is
// optional; without it only admins can approve credit overrides.
func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.ManagerPIN == "" {
		return nil
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects non-numeric PINs and PINs that repeat one
// digit, run in sequence or appear on a known-weak list.
func validatePINStrength(pin string) error {
	for _, ch := range pin {
		if ch < '0' || ch > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}

	known := map[string]bool{
		"121212": true, "112233": true, "123123": true, "696969": true,
		"102030": true, "131313": true, "159753": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
