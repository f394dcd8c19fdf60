package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.AuthSecret)
	require.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "REDIS_DB", "TAX_ENABLED", "TAX_RATE_PERCENT", "STOCK_FLOOR",
		"DEFAULT_PRICE_TIER", "AUTO_INVENTORY_SYNC", "DRAFT_TTL_HOURS", "COMMIT_LOCK_SECONDS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Address())
	require.Equal(t, 24*time.Hour, cfg.DraftTTL())
	require.Equal(t, 10*time.Second, cfg.CommitLockTTL())

	settings := cfg.Settings()
	require.False(t, settings.Tax.Enabled)
	require.Equal(t, "11", settings.Tax.RatePercent.String())
	require.True(t, settings.AutoInventorySync)
	require.Equal(t, domain.StockFloorNone, settings.StockFloor)
	require.Equal(t, domain.TierRetail, settings.DefaultTier)
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("TAX_ENABLED", "true")
	t.Setenv("TAX_RATE_PERCENT", "12.5")
	t.Setenv("AUTO_INVENTORY_SYNC", "false")
	t.Setenv("STOCK_FLOOR", "ZERO")
	t.Setenv("DEFAULT_PRICE_TIER", "wholesale")

	cfg, err := Load()
	require.NoError(t, err)

	settings := cfg.Settings()
	require.True(t, settings.Tax.Enabled)
	require.Equal(t, "12.5", settings.Tax.RatePercent.String())
	require.False(t, settings.AutoInventorySync)
	require.Equal(t, domain.StockFloorZero, settings.StockFloor)
	require.Equal(t, domain.TierWholesale, settings.DefaultTier)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"TAX_RATE_PERCENT":   "eleven",
		"STOCK_FLOOR":        "negative",
		"DEFAULT_PRICE_TIER": "vip",
		"REDIS_DB":           "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(file, []byte("PORT=9090\nDEFAULT_STORE_ID=branch-7\n"), 0o600))

	t.Setenv("PORT", "7070")
	t.Setenv("DEFAULT_STORE_ID", "")
	require.NoError(t, os.Unsetenv("DEFAULT_STORE_ID"))

	LoadDotEnv(file, filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "7070", cfg.Port)
	require.Equal(t, "branch-7", cfg.StoreID)
}
