package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/config"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/settlement"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	require.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short"}))
	require.Error(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"}))
	require.Error(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "12a45b"}))
	require.Error(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "4321"}))
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	require.NoError(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"}))
}

func TestValidateSecurityConfigAllowsMissingPIN(t *testing.T) {
	require.NoError(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}))
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"000000", "987654", "234567", "112233"} {
		require.Error(t, validatePINStrength(pin), pin)
	}
	require.NoError(t, validatePINStrength("739154"))
}

const sampleCart = `{
  "tier": "wholesale",
  "products": [{
    "id": "prd-1",
    "name": "Instant Noodles",
    "prices": {
      "retail": {"piece": "3500"},
      "wholesale": {"piece": "3000", "carton": "120000"}
    },
    "conversion": {"dozen_to_piece": "12", "carton_to_piece": "40"}
  }],
  "items": [
    {"product_id": "prd-1", "unit": "piece", "quantity": "3", "discount": "0"},
    {"product_id": "misc", "unit": "piece", "quantity": "2", "price": "1250", "discount": "500"}
  ]
}`

func TestQuoteCart(t *testing.T) {
	settings := domain.Settings{
		Tax:         domain.TaxConfig{Enabled: true, RatePercent: decimal.NewFromInt(10)},
		DefaultTier: domain.TierRetail,
	}

	quote, err := quoteCart(strings.NewReader(sampleCart), settings)
	require.NoError(t, err)
	require.Len(t, quote.Items, 2)
	require.Equal(t, "3000", quote.Items[0].Price.String())
	require.Equal(t, "Instant Noodles", quote.Items[0].ProductName)
	require.Equal(t, "2000", quote.Items[1].Total.String())
	require.Equal(t, "11000", quote.Totals.TaxableBase.String())
	require.Equal(t, "1100", quote.Totals.TaxAmount.String())
	require.Equal(t, "12100", quote.Totals.NetTotal.String())
}

func TestQuoteCartTaxOverride(t *testing.T) {
	cart := `{"tax": {"enabled": false, "rate_percent": "0"}, "items": [
		{"product_id": "misc", "unit": "piece", "quantity": "1", "price": "999.5", "discount": "0"}
	]}`
	settings := domain.Settings{
		Tax:         domain.TaxConfig{Enabled: true, RatePercent: decimal.NewFromInt(11)},
		DefaultTier: domain.TierRetail,
	}

	quote, err := quoteCart(strings.NewReader(cart), settings)
	require.NoError(t, err)
	require.True(t, quote.Totals.TaxAmount.IsZero())
	require.Equal(t, "999.5", quote.Totals.NetTotal.String())
}

func TestQuoteCartRejectsBadInput(t *testing.T) {
	settings := domain.Settings{DefaultTier: domain.TierRetail}

	_, err := quoteCart(strings.NewReader(`{"items": [{"product_id": "ghost", "unit": "piece", "quantity": "1", "discount": "0"}]}`), settings)
	require.ErrorIs(t, err, settlement.ErrInvalidLine)

	_, err = quoteCart(strings.NewReader(`{"items": [{"product_id": "misc", "unit": "piece", "quantity": "1", "price": "100", "discount": "150"}]}`), settings)
	require.ErrorIs(t, err, settlement.ErrInvalidLine)

	_, err = quoteCart(strings.NewReader(`{"tier": "vip", "items": []}`), settings)
	require.Error(t, err)

	_, err = quoteCart(strings.NewReader(`{"unknown": true}`), settings)
	require.Error(t, err)
}

func TestQuoteCommandPrintsTotals(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cart.json")
	require.NoError(t, os.WriteFile(file, []byte(sampleCart), 0o600))
	t.Setenv("TAX_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "quote", "--file", file})
	require.NoError(t, cmd.Execute())

	var quote domain.QuoteResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &quote))
	require.Equal(t, "11000", quote.Totals.NetTotal.String())
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "migrate"})
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "DATABASE_URL")
}
