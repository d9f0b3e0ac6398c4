package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/config"
	"github.com/alanyoungcy/paperdesk/internal/marketdata"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWireWithoutBackingServices(t *testing.T) {
	cfg := config.Defaults()

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &marketdata.MemoryCache{}, deps.QuoteCache)
	assert.IsType(t, &marketdata.MemoryLimiter{}, deps.RateLimiter)
	assert.Nil(t, deps.OrderStore)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.HealthChecks)
	assert.False(t, deps.Notifier.Enabled(), "no senders configured")
}

func TestBuildMarketDataRegistersEnabledProviders(t *testing.T) {
	cfg := config.Defaults()
	cfg.TwelveData.Enabled = true
	a := New(&cfg, discard())

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	md, err := a.buildMarketData(context.Background(), deps)
	require.NoError(t, err)
	defer md.feed.Close()

	var ids []string
	for _, c := range md.feed.States() {
		ids = append(ids, c.ProviderID)
	}
	assert.Equal(t, []string{"finnhub", "twelvedata"}, ids)
	assert.Equal(t, "finnhub", md.hub.ProviderFor("AAPL"))
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.Contracts = map[string]float64{"XAU/USD": 100}

	ec := engineConfig(cfg.Engine)
	assert.Equal(t, cfg.Engine.Leverage, ec.Leverage)
	assert.Equal(t, time.Second, ec.EvalInterval)
	assert.Equal(t, 100.0, ec.ContractSize("XAU/USD"))
	assert.Equal(t, 100_000.0, ec.ContractSize("EUR/USD"))
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	a := New(&cfg, discard())
	defer a.Close()

	err := a.Run(context.Background())
	require.ErrorContains(t, err, `unsupported mode "backtest"`)
}
