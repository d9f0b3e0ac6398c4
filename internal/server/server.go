// Package server exposes the trading desk over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/server/handler"
	"github.com/alanyoungcy/paperdesk/internal/server/middleware"
	"github.com/alanyoungcy/paperdesk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port              int
	CORSOrigins       []string
	APIKey            string // empty disables authentication
	RequestsPerMinute int    // per client IP; zero disables the limiter
}

// Handlers aggregates the route handlers. Nil handlers leave their routes
// unregistered, which is how feed mode omits the trading endpoints.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Quotes    *handler.QuoteHandler
	Account   *handler.AccountHandler
	Orders    *handler.OrderHandler
	Positions *handler.PositionHandler
	Events    *handler.EventHandler
	Archive   *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: recover, CORS, logging, rate limit, auth.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Quotes != nil {
		mux.HandleFunc("GET /api/quotes/{symbol...}", handlers.Quotes.GetQuote)
	}
	if handlers.Account != nil {
		mux.HandleFunc("GET /api/account", handlers.Account.GetAccount)
	}
	if handlers.Orders != nil {
		mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
		mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
		mux.HandleFunc("POST /api/orders", handlers.Orders.PlaceOrder)
		mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)
	}
	if handlers.Positions != nil {
		mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
		mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
		mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	}
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.ListArchives)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RequestsPerMinute > 0 {
		h = middleware.RateLimit(limiter, cfg.RequestsPerMinute, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Recover(logger)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
