package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	MigrateOnStart        bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
	DraftTTLHours         int
	CommitLockSeconds     int

	TaxEnabled        bool
	TaxRatePercent    decimal.Decimal
	AutoInventorySync bool
	StockFloor        domain.StockFloorPolicy
	DefaultTier       domain.PricingTier
}

// LoadDotEnv reads the given files, or .env when none are named, into the
// process environment. Variables already set win. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Load(file)
	}
}

func Load() (Config, error) {
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return Config{}, fmt.Errorf("REDIS_DB must be a non-negative integer")
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	draftTTL, err := strconv.Atoi(getEnv("DRAFT_TTL_HOURS", "24"))
	if err != nil || draftTTL < 1 {
		draftTTL = 24
	}
	lockSeconds, err := strconv.Atoi(getEnv("COMMIT_LOCK_SECONDS", "10"))
	if err != nil || lockSeconds < 1 {
		lockSeconds = 10
	}

	taxRate, err := decimal.NewFromString(getEnv("TAX_RATE_PERCENT", "11"))
	if err != nil || taxRate.IsNegative() {
		return Config{}, fmt.Errorf("TAX_RATE_PERCENT must be a non-negative decimal")
	}

	floor := domain.StockFloorPolicy(strings.ToLower(getEnv("STOCK_FLOOR", string(domain.StockFloorNone))))
	if !floor.Valid() {
		return Config{}, fmt.Errorf("STOCK_FLOOR must be none or zero, got %q", floor)
	}
	tier := domain.PricingTier(strings.ToLower(getEnv("DEFAULT_PRICE_TIER", string(domain.TierRetail))))
	if !tier.Valid() {
		return Config{}, fmt.Errorf("DEFAULT_PRICE_TIER must be retail, wholesale or special, got %q", tier)
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		MigrateOnStart:        getBool("MIGRATE_ON_START", false),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		DraftTTLHours:         draftTTL,
		CommitLockSeconds:     lockSeconds,
		TaxEnabled:            getBool("TAX_ENABLED", false),
		TaxRatePercent:        taxRate,
		AutoInventorySync:     getBool("AUTO_INVENTORY_SYNC", true),
		StockFloor:            floor,
		DefaultTier:           tier,
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Settings is the initial runtime settings snapshot. Admins may change it
// later through the API.
func (c Config) Settings() domain.Settings {
	return domain.Settings{
		Tax: domain.TaxConfig{
			Enabled:     c.TaxEnabled,
			RatePercent: c.TaxRatePercent,
		},
		AutoInventorySync: c.AutoInventorySync,
		StockFloor:        c.StockFloor,
		DefaultTier:       c.DefaultTier,
	}
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) DraftTTL() time.Duration {
	return time.Duration(c.DraftTTLHours) * time.Hour
}

func (c Config) CommitLockTTL() time.Duration {
	return time.Duration(c.CommitLockSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
