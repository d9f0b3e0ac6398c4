package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/paperdesk/internal/config"
	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/engine"
	"github.com/alanyoungcy/paperdesk/internal/feed"
	"github.com/alanyoungcy/paperdesk/internal/marketdata"
	"github.com/alanyoungcy/paperdesk/internal/pipeline"
	"github.com/alanyoungcy/paperdesk/internal/platform/finnhub"
	"github.com/alanyoungcy/paperdesk/internal/platform/twelvedata"
	"github.com/alanyoungcy/paperdesk/internal/resilience"
	"github.com/alanyoungcy/paperdesk/internal/server"
	"github.com/alanyoungcy/paperdesk/internal/server/handler"
	"github.com/alanyoungcy/paperdesk/internal/server/ws"
	"github.com/alanyoungcy/paperdesk/internal/service"
)

// marketData is the streaming and quote layer shared by every mode.
type marketData struct {
	feed     *feed.Manager
	hub      *marketdata.Hub
	executor *resilience.Executor
}

// PaperMode runs the full desk: market data, the paper engine, persistence,
// notifications, the archive job and the API server.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	g, ctx := errgroup.WithContext(ctx)

	md, err := a.buildMarketData(ctx, deps)
	if err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}

	wsHub := ws.NewHub(md.hub, a.rootLogger, ws.Config{
		Mode:           "paper",
		StartedAt:      a.startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})

	dispatcher := engine.NewDispatcher(a.cfg.Engine.HookBuffer, a.rootLogger)
	eng := engine.New(engineConfig(a.cfg.Engine), md.hub, dispatcher, a.rootLogger)
	if deps.AccountStore != nil {
		if err := a.restoreEngine(ctx, eng, deps); err != nil {
			return fmt.Errorf("paper mode: %w", err)
		}
	}

	recorder := a.newRecorder(deps, wsHub)
	dispatcher.Add(recorder)
	md.feed.OnEvent(recorder.OnConnectionEvent)

	g.Go(func() error { return md.feed.Run(ctx) })
	g.Go(func() error { return md.hub.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return recorder.Run(ctx) })
	g.Go(func() error { return wsHub.Run(ctx) })

	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		archiver := pipeline.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.Archive.RetentionDays, a.rootLogger)
		g.Go(func() error { return archiver.RunCron(ctx, a.cfg.Archive.Cron) })
	}

	if a.cfg.Server.Enabled {
		handlers := a.baseHandlers(deps, md)
		handlers.Account = handler.NewAccountHandler(eng)
		handlers.Orders = handler.NewOrderHandler(eng, deps.OrderStore, a.rootLogger)
		handlers.Positions = handler.NewPositionHandler(eng, deps.PositionStore, a.rootLogger)
		if deps.SignalBus != nil {
			handlers.Events = handler.NewEventHandler(deps.SignalBus, service.EventStream, a.rootLogger)
		}
		a.startHTTPServer(ctx, g, handlers, wsHub, deps)
	}

	return g.Wait()
}

// FeedMode runs market data only: upstream streams, the quote hub, the UI
// stream and the read-only API.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode")

	g, ctx := errgroup.WithContext(ctx)

	md, err := a.buildMarketData(ctx, deps)
	if err != nil {
		return fmt.Errorf("feed mode: %w", err)
	}

	wsHub := ws.NewHub(md.hub, a.rootLogger, ws.Config{
		Mode:           "feed",
		StartedAt:      a.startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})

	// Only connection events flow through the recorder here.
	recorder := a.newRecorder(deps, wsHub)
	md.feed.OnEvent(recorder.OnConnectionEvent)

	g.Go(func() error { return md.feed.Run(ctx) })
	g.Go(func() error { return md.hub.Run(ctx) })
	g.Go(func() error { return recorder.Run(ctx) })
	g.Go(func() error { return wsHub.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, a.baseHandlers(deps, md), wsHub, deps)
	}

	return g.Wait()
}

// buildMarketData registers the enabled providers with a feed manager and
// fronts them with the quote hub. Ticks flow manager -> hub; subscriptions
// flow hub -> manager.
func (a *App) buildMarketData(ctx context.Context, deps *Dependencies) (*marketData, error) {
	var hub *marketdata.Hub
	mgr := feed.NewManager(feed.Config{
		HeartbeatInterval:    a.cfg.Connection.HeartbeatInterval.Duration,
		ConnectTimeout:       a.cfg.Connection.ConnectTimeout.Duration,
		MaxReconnectAttempts: a.cfg.Connection.MaxReconnectAttempts,
		Backoff: resilience.Backoff{
			Base: a.cfg.Connection.BackoffBase.Duration,
			Max:  a.cfg.Connection.BackoffMax.Duration,
		},
	}, func(q domain.Quote) { hub.Publish(ctx, q) }, a.rootLogger)

	fetchers := map[string]domain.QuoteFetcher{}
	budgets := map[string]int{}

	if p := a.cfg.Finnhub; p.Enabled {
		url, err := finnhub.StreamURL(p.WsURL, p.APIKey)
		if err != nil {
			return nil, fmt.Errorf("finnhub stream url: %w", err)
		}
		if err := mgr.Register(feed.Provider{ID: "finnhub", URL: url, Codec: finnhub.NewCodec()}); err != nil {
			return nil, err
		}
		fetchers["finnhub"] = finnhub.NewClient(p.RestURL, p.APIKey)
		budgets["finnhub"] = p.RequestsPerMinute
	}
	if p := a.cfg.TwelveData; p.Enabled {
		url, err := twelvedata.StreamURL(p.WsURL, p.APIKey)
		if err != nil {
			return nil, fmt.Errorf("twelvedata stream url: %w", err)
		}
		if err := mgr.Register(feed.Provider{ID: "twelvedata", URL: url, Codec: twelvedata.NewCodec()}); err != nil {
			return nil, err
		}
		fetchers["twelvedata"] = twelvedata.NewClient(p.RestURL, p.APIKey)
		budgets["twelvedata"] = p.RequestsPerMinute
	}

	executor := resilience.NewExecutor(resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: a.cfg.Breaker.FailureThreshold,
		Cooldown:         a.cfg.Breaker.Cooldown.Duration,
	}, a.rootLogger), a.rootLogger)

	md := a.cfg.MarketData
	hub = marketdata.NewHub(marketdata.Config{
		CacheTTL:          md.CacheTTL.Duration,
		PollInterval:      md.PollInterval.Duration,
		FetchTimeout:      md.FetchTimeout.Duration,
		DefaultProvider:   md.DefaultProvider,
		SymbolProviders:   md.SymbolProviders,
		ReferencePrices:   md.ReferencePrices,
		RequestsPerMinute: budgets,
	}, marketdata.Deps{
		Cache:    deps.QuoteCache,
		Limiter:  deps.RateLimiter,
		Executor: executor,
		Upstream: mgr,
		Fetchers: fetchers,
	}, a.rootLogger)

	return &marketData{feed: mgr, hub: hub, executor: executor}, nil
}

// restoreEngine seeds the engine from the last persisted account snapshot,
// open positions and pending orders. A database without snapshots starts
// fresh.
func (a *App) restoreEngine(ctx context.Context, eng *engine.Engine, deps *Dependencies) error {
	st, err := deps.AccountStore.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		a.logger.InfoContext(ctx, "no persisted account, starting fresh",
			slog.Float64("balance", a.cfg.Engine.InitialBalance),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore account: %w", err)
	}

	positions, err := deps.PositionStore.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	orders, err := deps.OrderStore.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}
	return eng.Restore(st.Balance, positions, orders)
}

func (a *App) newRecorder(deps *Dependencies, ui service.Broadcaster) *service.Recorder {
	return service.NewRecorder(service.RecorderDeps{
		Orders:    deps.OrderStore,
		Positions: deps.PositionStore,
		Accounts:  deps.AccountStore,
		Audit:     deps.AuditStore,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
		UI:        ui,
	}, 5*time.Second, a.rootLogger)
}

// baseHandlers builds the handlers every mode serves.
func (a *App) baseHandlers(deps *Dependencies, md *marketData) server.Handlers {
	h := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.rootLogger),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.startedAt, handler.StatusSources{
			Connections: md.feed.States,
			Breakers:    md.executor.Breakers().Snapshots,
			Symbols:     md.hub.Snapshot,
		}),
		Quotes: handler.NewQuoteHandler(md.hub, a.rootLogger),
	}
	if deps.BlobReader != nil {
		h.Archive = handler.NewArchiveHandler(deps.BlobReader, a.rootLogger)
	}
	return h
}

// startHTTPServer runs the API server inside g until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, handlers server.Handlers, wsHub *ws.Hub, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
	}, handlers, wsHub, deps.RateLimiter, a.rootLogger)

	g.Go(func() error { return srv.Run(ctx) })
}

func engineConfig(c config.EngineConfig) engine.Config {
	return engine.Config{
		Currency:            c.Currency,
		InitialBalance:      c.InitialBalance,
		Leverage:            c.Leverage,
		MaxVolume:           c.MaxVolume,
		MarginCallLevel:     c.MarginCallLevel,
		StopOutLevel:        c.StopOutLevel,
		EvalInterval:        c.EvalInterval.Duration,
		DefaultContractSize: c.DefaultContractSize,
		Contracts:           c.Contracts,
	}
}
