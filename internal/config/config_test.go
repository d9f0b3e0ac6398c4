package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.MarketData.CacheTTL.Duration)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Breaker.Cooldown.Duration)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Engine.Leverage = 0
	cfg.MarketData.CacheBackend = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "live"`)
	assert.Contains(t, err.Error(), "engine: leverage must be > 0")
	assert.Contains(t, err.Error(), "redis backends require redis.enabled")
}

func TestValidateRejectsNoProviders(t *testing.T) {
	cfg := Defaults()
	cfg.Finnhub.Enabled = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one provider")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paperdesk.toml")
	body := `
mode = "feed"

[market_data]
cache_ttl = "10s"
reference_prices = { "EUR/USD" = 1.085 }

[engine]
contracts = { "XAU/USD" = 100.0 }
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("PAPERDESK_FINNHUB_API_KEY", "secret-key")
	t.Setenv("PAPERDESK_ENGINE_LEVERAGE", "50")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "feed", cfg.Mode)
	assert.Equal(t, 10*time.Second, cfg.MarketData.CacheTTL.Duration)
	assert.Equal(t, 1.085, cfg.MarketData.ReferencePrices["EUR/USD"])
	assert.Equal(t, "secret-key", cfg.Finnhub.APIKey)
	assert.Equal(t, 50.0, cfg.Engine.Leverage)
	assert.Equal(t, 100.0, cfg.Engine.ContractSize("XAU/USD"))
	assert.Equal(t, 100_000.0, cfg.Engine.ContractSize("EUR/USD"))
	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.Breaker.Cooldown.Duration)
}

func TestLoadNormalizesSymbolKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paperdesk.toml")
	body := `
[market_data]
symbol_providers = { " eur/usd" = "finnhub" }
reference_prices = { "gbp/usd" = 1.27 }

[engine]
contracts = { "xau/usd" = 100.0 }
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100.0, cfg.Engine.ContractSize("XAU/USD"))
	assert.Equal(t, map[string]string{"EUR/USD": "finnhub"}, cfg.MarketData.SymbolProviders)
	assert.Equal(t, map[string]float64{"GBP/USD": 1.27}, cfg.MarketData.ReferencePrices)

	dup := `
[engine]
contracts = { "xau/usd" = 100.0, "XAU/USD" = 10.0 }
`
	require.NoError(t, os.WriteFile(path, []byte(dup), 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "engine.contracts: symbol XAU/USD listed more than once")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Finnhub.APIKey = "k"
	cfg.Postgres.Password = "p"
	cfg.Engine.Contracts["EUR/USD"] = 100_000

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Finnhub.APIKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "", out.Redis.Password)

	out.Engine.Contracts["EUR/USD"] = 1
	assert.Equal(t, 100_000.0, cfg.Engine.Contracts["EUR/USD"])
	assert.Equal(t, "k", cfg.Finnhub.APIKey)
}
