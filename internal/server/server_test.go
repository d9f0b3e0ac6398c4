package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/server/handler"
)

type stubEngine struct {
	placeRes domain.OrderResult
	placeErr error
	closeRes domain.CloseResult
	closeErr error
	gotVol   *float64
	orders   []domain.Order
}

func (s *stubEngine) AccountSummary() domain.AccountState {
	return domain.AccountState{Balance: 100_000, Equity: 100_000, Currency: "USD"}
}
func (s *stubEngine) PlaceOrder(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return s.placeRes, s.placeErr
}
func (s *stubEngine) CancelOrder(_ context.Context, id string) (domain.Order, error) {
	return domain.Order{}, domain.Errorf(domain.KindNotFound, "engine: cancel order", "unknown order "+id)
}
func (s *stubEngine) Order(id string) (domain.Order, error) { return domain.Order{ID: id}, nil }
func (s *stubEngine) Orders() []domain.Order                { return s.orders }
func (s *stubEngine) Position(id string) (domain.Position, error) {
	return domain.Position{ID: id}, nil
}
func (s *stubEngine) Positions(status domain.PositionStatus) []domain.Position {
	return []domain.Position{{ID: "p1", Status: status}}
}
func (s *stubEngine) ClosePosition(_ context.Context, _ string, volume *float64) (domain.CloseResult, error) {
	s.gotVol = volume
	return s.closeRes, s.closeErr
}

type stubQuotes struct {
	q   domain.Quote
	err error
}

func (s stubQuotes) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	q := s.q
	if q.Price > 0 {
		q.Symbol = symbol
	}
	return q, s.err
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestHandler(eng *stubEngine, quotes stubQuotes, cfg Config) http.Handler {
	logger := discard()
	return NewHandler(cfg, Handlers{
		Health:    handler.NewHealthHandler(map[string]handler.HealthCheck{"redis": func(context.Context) error { return nil }}, logger),
		Status:    handler.NewStatusHandler("paper", time.Now(), handler.StatusSources{}),
		Quotes:    handler.NewQuoteHandler(quotes, logger),
		Account:   handler.NewAccountHandler(eng),
		Orders:    handler.NewOrderHandler(eng, nil, logger),
		Positions: handler.NewPositionHandler(eng, nil, logger),
	}, nil, nil, logger)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealthAndStatus(t *testing.T) {
	h := newTestHandler(&stubEngine{}, stubQuotes{}, Config{APIKey: "secret"})

	rec, body := do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")
	assert.Equal(t, "ok", body["status"])

	rec, body = do(t, h, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication", body["kind"])
}

func TestQuoteEndpoint(t *testing.T) {
	fresh := newTestHandler(&stubEngine{}, stubQuotes{q: domain.Quote{Price: 1.085}}, Config{})
	rec, body := do(t, fresh, http.MethodGet, "/api/quotes/EUR/USD", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EUR/USD", body["symbol"])

	stale := newTestHandler(&stubEngine{}, stubQuotes{
		q:   domain.Quote{Price: 1.08, Stale: true},
		err: domain.Errorf(domain.KindStaleData, "quote", "serving cached quote"),
	}, Config{})
	rec, body = do(t, stale, http.MethodGet, "/api/quotes/EUR%2FUSD", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["stale"])
	assert.NotEmpty(t, body["warning"])

	none := newTestHandler(&stubEngine{}, stubQuotes{err: domain.Errorf(domain.KindNoData, "quote", "no data for XYZ")}, Config{})
	rec, body = do(t, none, http.MethodGet, "/api/quotes/XYZ", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no_data", body["kind"])

	limited := newTestHandler(&stubEngine{}, stubQuotes{err: &domain.Error{
		Kind: domain.KindRateLimit, Op: "quote", Msg: "limit reached", RetryAfter: 12 * time.Second,
	}}, Config{})
	rec, _ = do(t, limited, http.MethodGet, "/api/quotes/AAPL", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
}

func TestPlaceOrder(t *testing.T) {
	eng := &stubEngine{placeRes: domain.OrderResult{Order: domain.Order{ID: "o1", Status: domain.OrderStatusFilled}}}
	h := newTestHandler(eng, stubQuotes{}, Config{})

	rec, body := do(t, h, http.MethodPost, "/api/orders", `{"symbol":"EUR/USD","side":"buy","kind":"market","volume":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "o1", body["order"].(map[string]any)["id"])

	rec, body = do(t, h, http.MethodPost, "/api/orders", `{"symbol":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["kind"])

	eng.placeRes = domain.OrderResult{Order: domain.Order{ID: "o2", Status: domain.OrderStatusRejected}}
	eng.placeErr = domain.Errorf(domain.KindInsufficientMargin, "engine: place order", "required 1000 exceeds free margin 10")
	rec, body = do(t, h, http.MethodPost, "/api/orders", `{"symbol":"EUR/USD","side":"buy","volume":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_margin", body["kind"])
	assert.Equal(t, "o2", body["order"].(map[string]any)["id"], "rejected order is returned")

	eng.placeRes = domain.OrderResult{}
	eng.placeErr = domain.Errorf(domain.KindValidation, "engine: place order", "volume must be positive")
	rec, _ = do(t, h, http.MethodPost, "/api/orders", `{"symbol":"EUR/USD","side":"buy","volume":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	eng.placeErr = errors.New("boom")
	rec, body = do(t, h, http.MethodPost, "/api/orders", `{"symbol":"EUR/USD","side":"buy","volume":1}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestOrderListAndCancel(t *testing.T) {
	eng := &stubEngine{orders: []domain.Order{
		{ID: "a", Status: domain.OrderStatusPending},
		{ID: "b", Status: domain.OrderStatusFilled},
	}}
	h := newTestHandler(eng, stubQuotes{}, Config{})

	_, body := do(t, h, http.MethodGet, "/api/orders?status=pending", "")
	orders := body["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "a", orders[0].(map[string]any)["id"])

	rec, body := do(t, h, http.MethodGet, "/api/orders?history=true", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no history store configured")
	assert.Equal(t, "not_found", body["kind"])

	rec, body = do(t, h, http.MethodDelete, "/api/orders/zzz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["kind"])
}

func TestClosePosition(t *testing.T) {
	eng := &stubEngine{closeRes: domain.CloseResult{ClosedVolume: 0.5, RealizedPnL: 250}}
	h := newTestHandler(eng, stubQuotes{}, Config{})

	rec, body := do(t, h, http.MethodPost, "/api/positions/p1/close", `{"volume":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 250.0, body["realized_pnl"])
	require.NotNil(t, eng.gotVol)
	assert.Equal(t, 0.5, *eng.gotVol)

	rec, _ = do(t, h, http.MethodPost, "/api/positions/p1/close", "")
	require.Equal(t, http.StatusOK, rec.Code, "empty body closes everything")
	assert.Nil(t, eng.gotVol)

	rec, body = do(t, h, http.MethodGet, "/api/positions?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["kind"])

	_, body = do(t, h, http.MethodGet, "/api/positions", "")
	assert.Len(t, body["positions"].([]any), 1)
}

func TestRateLimitedAPI(t *testing.T) {
	h := NewHandler(Config{RequestsPerMinute: 60}, Handlers{
		Account: handler.NewAccountHandler(&stubEngine{}),
	}, nil, denyLimiter{}, discard())

	rec, body := do(t, h, http.MethodGet, "/api/account", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit", body["kind"])
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(&stubEngine{}, stubQuotes{}, Config{CORSOrigins: []string{"http://localhost:5173"}, APIKey: "k"})
	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
