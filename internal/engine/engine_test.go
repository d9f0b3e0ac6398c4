package engine

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	errs   map[string]error
	subs   map[string]domain.Subscription
	seq    int
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{
		quotes: make(map[string]domain.Quote),
		errs:   make(map[string]error),
		subs:   make(map[string]domain.Subscription),
	}
}

func (f *fakeQuotes) set(q domain.Quote) {
	f.mu.Lock()
	f.quotes[q.Symbol] = q
	f.mu.Unlock()
}

func (f *fakeQuotes) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return f.quotes[symbol], err
	}
	q, ok := f.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNoData
	}
	return q, nil
}

func (f *fakeQuotes) Subscribe(symbol string, _ domain.QuoteCallback) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	sub := domain.Subscription{ID: strconv.Itoa(f.seq), Symbol: symbol}
	f.subs[sub.ID] = sub
	return sub, nil
}

func (f *fakeQuotes) Unsubscribe(sub domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub.ID]; !ok {
		return domain.ErrNotFound
	}
	delete(f.subs, sub.ID)
	return nil
}

func (f *fakeQuotes) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type recordingHooks struct {
	NopHooks
	mu        sync.Mutex
	alerts    []domain.RiskAlert
	positions []domain.PositionEvent
	orders    []domain.OrderEvent
}

func (h *recordingHooks) OnRiskAlert(a domain.RiskAlert) {
	h.mu.Lock()
	h.alerts = append(h.alerts, a)
	h.mu.Unlock()
}

func (h *recordingHooks) OnPositionEvent(ev domain.PositionEvent) {
	h.mu.Lock()
	h.positions = append(h.positions, ev)
	h.mu.Unlock()
}

func (h *recordingHooks) OnOrderEvent(ev domain.OrderEvent) {
	h.mu.Lock()
	h.orders = append(h.orders, ev)
	h.mu.Unlock()
}

func (h *recordingHooks) alertTypes() []domain.RiskAlertType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.RiskAlertType, 0, len(h.alerts))
	for _, a := range h.alerts {
		out = append(out, a.Type)
	}
	return out
}

func testConfig() Config {
	return Config{
		Currency:            "USD",
		InitialBalance:      100_000,
		Leverage:            100,
		MaxVolume:           50,
		MarginCallLevel:     100,
		StopOutLevel:        50,
		EvalInterval:        time.Second,
		DefaultContractSize: 100_000,
		Contracts:           map[string]float64{"AAPL": 1},
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeQuotes, *recordingHooks) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	quotes := newFakeQuotes()
	hooks := &recordingHooks{}
	d := NewDispatcher(64, logger)
	d.Add(hooks)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return New(cfg, quotes, d, logger), quotes, hooks
}

func ptr(v float64) *float64 { return &v }

func eurusd(price float64) domain.Quote {
	return domain.Quote{Symbol: "EUR/USD", Price: price, Source: "test"}
}

func TestMarketOrderOpensPositionAndReservesMargin(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	quotes.set(domain.Quote{Symbol: "EUR/USD", Price: 1.0850, Bid: 1.0849, Ask: 1.0851})

	res, err := e.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "eur/usd", Side: domain.OrderSideBuy, Kind: domain.OrderKindMarket, Volume: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Position)

	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)
	assert.Equal(t, 1.0851, res.Order.FillPrice, "buys fill at the ask")
	assert.Equal(t, res.Position.ID, res.Order.PositionID)
	assert.Equal(t, "EUR/USD", res.Position.Symbol)
	assert.Equal(t, 1.0851, res.Position.OpenPrice)
	assert.Equal(t, 1000.0, res.Position.Margin)
	assert.Equal(t, domain.PositionStatusOpen, res.Position.Status)

	acct := e.AccountSummary()
	assert.Equal(t, 100_000.0, acct.Balance)
	assert.Equal(t, 100_000.0, acct.Equity)
	assert.Equal(t, 1000.0, acct.UsedMargin)
	assert.Equal(t, 99_000.0, acct.FreeMargin)
	assert.Equal(t, 10_000.0, acct.MarginLevel)
	assert.Equal(t, 1, acct.OpenPositions)

	assert.Equal(t, []string{"EUR/USD"}, e.Symbols())
	assert.Equal(t, 1, quotes.live())

	sell, err := e.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "EUR/USD", Side: domain.OrderSideSell, Volume: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0849, sell.Order.FillPrice, "sells fill at the bid")
	assert.Equal(t, 1, quotes.live(), "one subscription per symbol")
}

func TestEURUSDRoundTrip(t *testing.T) {
	e, quotes, hooks := newTestEngine(t, testConfig())
	quotes.set(eurusd(1.0850))

	res, err := e.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "EUR/USD", Side: domain.OrderSideBuy, Kind: domain.OrderKindMarket, Volume: 1,
	})
	require.NoError(t, err)

	quotes.set(eurusd(1.0900))
	e.evaluate(eurusd(1.0900))

	pos, err := e.Position(res.Position.ID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, pos.UnrealizedPnL)
	assert.Equal(t, 100_500.0, e.AccountSummary().Equity)

	closed, err := e.ClosePosition(context.Background(), pos.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 500.0, closed.RealizedPnL)
	assert.Equal(t, 1.0900, closed.ClosePrice)
	assert.Equal(t, 1.0, closed.ClosedVolume)
	assert.Equal(t, domain.PositionStatusClosed, closed.Position.Status)
	assert.Equal(t, domain.CloseReasonManual, closed.Position.CloseReason)

	acct := e.AccountSummary()
	assert.Equal(t, 100_500.0, acct.Balance)
	assert.Equal(t, 100_500.0, acct.Equity)
	assert.Zero(t, acct.UsedMargin)
	assert.Zero(t, acct.MarginLevel)
	assert.Zero(t, acct.OpenPositions)
	assert.Zero(t, quotes.live(), "subscription released with the last exposure")

	require.Eventually(t, func() bool {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		return len(hooks.positions) == 2
	}, time.Second, 5*time.Millisecond)
	hooks.mu.Lock()
	assert.Equal(t, domain.PositionEventOpened, hooks.positions[0].Type)
	assert.Equal(t, domain.PositionEventClosed, hooks.positions[1].Type)
	hooks.mu.Unlock()
}

func TestCloseIsIdempotent(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	quotes.set(eurusd(1.0850))
	res, err := e.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideSell, Volume: 1})
	require.NoError(t, err)

	quotes.set(eurusd(1.0800))
	first, err := e.ClosePosition(context.Background(), res.Position.ID, nil)
	require.NoError(t, err)
	assert.False(t, first.AlreadyClosed)
	assert.Equal(t, 500.0, first.RealizedPnL)

	quotes.set(eurusd(1.0700))
	second, err := e.ClosePosition(context.Background(), res.Position.ID, nil)
	require.NoError(t, err)
	assert.True(t, second.AlreadyClosed)
	assert.Equal(t, 500.0, second.RealizedPnL)
	assert.Equal(t, 1.0800, second.ClosePrice)
	assert.Equal(t, 100_500.0, e.AccountSummary().Balance)

	_, err = e.ClosePosition(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPartialClose(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	quotes.set(eurusd(1.0850))
	res, err := e.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 2})
	require.NoError(t, err)

	quotes.set(eurusd(1.0900))
	part, err := e.ClosePosition(context.Background(), res.Position.ID, ptr(0.5))
	require.NoError(t, err)
	assert.Equal(t, 250.0, part.RealizedPnL)
	assert.Equal(t, domain.PositionStatusOpen, part.Position.Status)
	assert.Equal(t, 1.5, part.Position.Volume)
	assert.Equal(t, 2.0, part.Position.InitialVolume)
	assert.Equal(t, 1500.0, part.Position.Margin)

	_, err = e.ClosePosition(context.Background(), res.Position.ID, ptr(3))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.ClosePosition(context.Background(), res.Position.ID, ptr(0))
	assert.ErrorIs(t, err, domain.ErrValidation)

	rest, err := e.ClosePosition(context.Background(), res.Position.ID, ptr(1.5))
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, rest.Position.Status)
	assert.Equal(t, 1000.0, rest.Position.RealizedPnL)
	assert.Equal(t, 101_000.0, e.AccountSummary().Balance)
}

func TestStopLossFillsAtStopLevelOnGap(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	quotes.set(eurusd(1.0850))
	long, err := e.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 1,
		StopLoss: ptr(1.0800), TakeProfit: ptr(1.0950),
	})
	require.NoError(t, err)

	e.evaluate(eurusd(1.0820))
	pos, _ := e.Position(long.Position.ID)
	require.Equal(t, domain.PositionStatusOpen, pos.Status)

	e.evaluate(eurusd(1.0700))
	pos, _ = e.Position(long.Position.ID)
	require.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, pos.CloseReason)
	require.NotNil(t, pos.ClosePrice)
	assert.Equal(t, 1.0800, *pos.ClosePrice, "closed at the stop, not the gapped tick")
	assert.Equal(t, -500.0, pos.RealizedPnL)
	assert.Equal(t, 99_500.0, e.AccountSummary().Balance)
}

func TestTakeProfitOnShort(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	quotes.set(eurusd(1.0850))
	short, err := e.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "EUR/USD", Side: domain.OrderSideSell, Volume: 1,
		StopLoss: ptr(1.0900), TakeProfit: ptr(1.0800),
	})
	require.NoError(t, err)

	e.evaluate(domain.Quote{Symbol: "EUR/USD", Price: 1.0788, Bid: 1.0786, Ask: 1.0790})
	pos, _ := e.Position(short.Position.ID)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, domain.CloseReasonTakeProfit, pos.CloseReason)
	assert.Equal(t, 500.0, pos.RealizedPnL)
}

func TestInsufficientMarginRejects(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBalance = 1000
	e, quotes, _ := newTestEngine(t, cfg)
	quotes.set(eurusd(1.0850))

	res, err := e.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientMargin)
	assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)
	assert.NotEmpty(t, res.Order.RejectReason)
	assert.Nil(t, res.Position)
	assert.Empty(t, e.Positions(domain.PositionStatusOpen))
	assert.Zero(t, quotes.live())

	_, err = e.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 1})
	require.NoError(t, err)
	assert.Len(t, e.Orders(), 2)
}

func TestPlaceOrderValidation(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	quotes.set(eurusd(1.0850))

	tests := []struct {
		name string
		req  domain.OrderRequest
	}{
		{"missing symbol", domain.OrderRequest{Side: domain.OrderSideBuy, Volume: 1}},
		{"bad side", domain.OrderRequest{Symbol: "EUR/USD", Side: "hold", Volume: 1}},
		{"bad kind", domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Kind: "iceberg", Volume: 1}},
		{"zero volume", domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy}},
		{"volume above max", domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 51}},
		{"limit without price", domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit, Volume: 1}},
		{"negative stop loss", domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 1, StopLoss: ptr(-1)}},
		{"zero take profit", domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 1, TakeProfit: ptr(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.PlaceOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Empty(t, e.Orders())
}

func TestSyntheticQuoteIsNeverExecuted(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	quotes.set(domain.Quote{Symbol: "EUR/USD", Price: 1.08, Synthetic: true, Stale: true})
	quotes.errs["EUR/USD"] = domain.Errorf(domain.KindStaleData, "quote", "serving reference price")

	res, err := e.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 1})
	assert.ErrorIs(t, err, domain.ErrStaleData)
	assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)
	assert.Empty(t, e.Positions(""))
}

func TestLimitAndStopOrdersTrigger(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	buyLimit, err := e.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "EUR/USD", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit, Volume: 1, Price: 1.0800,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, buyLimit.Order.Status)
	sellStop, err := e.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "EUR/USD", Side: domain.OrderSideSell, Kind: domain.OrderKindStop, Volume: 1, Price: 1.0750,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, e.AccountSummary().PendingOrders)

	e.evaluate(domain.Quote{Symbol: "EUR/USD", Price: 1.0850, Bid: 1.0849, Ask: 1.0851})
	o, _ := e.Order(buyLimit.Order.ID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)

	e.evaluate(domain.Quote{Symbol: "EUR/USD", Price: 1.0790, Bid: 1.0789, Ask: 1.0791})
	o, _ = e.Order(buyLimit.Order.ID)
	require.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Equal(t, 1.0800, o.FillPrice)
	pos, err := e.Position(o.PositionID)
	require.NoError(t, err)
	assert.Equal(t, 1.0800, pos.OpenPrice)

	o, _ = e.Order(sellStop.Order.ID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	e.evaluate(domain.Quote{Symbol: "EUR/USD", Price: 1.0740, Bid: 1.0740, Ask: 1.0742})
	o, _ = e.Order(sellStop.Order.ID)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Len(t, e.Positions(domain.PositionStatusOpen), 2)
}

func TestCancelOrder(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := e.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "AAPL", Side: domain.OrderSideSell, Kind: domain.OrderKindLimit, Volume: 10, Price: 250,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, quotes.live())

	cancelled, err := e.CancelOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Zero(t, quotes.live())

	_, err = e.CancelOrder(ctx, res.Order.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.CancelOrder(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarginCallThenStopOut(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBalance = 10_000
	e, quotes, hooks := newTestEngine(t, cfg)
	quotes.set(eurusd(1.0850))

	res, err := e.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 5})
	require.NoError(t, err)
	assert.Equal(t, 5000.0, e.AccountSummary().UsedMargin)

	e.evaluate(eurusd(1.0760)) // equity 5500, level 110
	assert.Equal(t, 110.0, e.AccountSummary().MarginLevel)
	e.evaluate(eurusd(1.0745)) // equity 4750, level 95
	assert.Equal(t, 95.0, e.AccountSummary().MarginLevel)
	e.evaluate(eurusd(1.0744)) // still below, no second call

	e.evaluate(eurusd(1.0690)) // equity 2000, level 40
	pos, _ := e.Position(res.Position.ID)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, domain.CloseReasonStopOut, pos.CloseReason)
	assert.Equal(t, -8000.0, pos.RealizedPnL)

	acct := e.AccountSummary()
	assert.Equal(t, 2000.0, acct.Balance)
	assert.Zero(t, acct.UsedMargin)

	require.Eventually(t, func() bool { return len(hooks.alertTypes()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.RiskAlertType{domain.RiskAlertMarginCall, domain.RiskAlertStopOut}, hooks.alertTypes())
}

func TestDispatcherCoalescesAccountAndSurvivesPanics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(4, logger)

	var mu sync.Mutex
	var balances []float64
	d.Add(panicHooks{})
	d.Add(accountHooks{fn: func(st domain.AccountState) {
		mu.Lock()
		balances = append(balances, st.Balance)
		mu.Unlock()
	}})

	for i := 1; i <= 10; i++ {
		d.emit(domain.AccountState{Balance: float64(i)})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{10}, balances)
}

type panicHooks struct{ NopHooks }

func (panicHooks) OnAccountChanged(domain.AccountState) { panic("boom") }

type accountHooks struct {
	NopHooks
	fn func(domain.AccountState)
}

func (h accountHooks) OnAccountChanged(st domain.AccountState) { h.fn(st) }

func TestRestoreSeedsState(t *testing.T) {
	e, quotes, _ := newTestEngine(t, testConfig())
	now := time.Now().UTC()

	positions := []domain.Position{
		{ID: "p1", Symbol: "EUR/USD", Side: domain.OrderSideBuy, Volume: 1, InitialVolume: 1,
			ContractSize: 100_000, OpenPrice: 1.0850, Status: domain.PositionStatusOpen, OpenedAt: now},
		{ID: "p0", Symbol: "EUR/USD", Side: domain.OrderSideBuy, Status: domain.PositionStatusClosed},
	}
	orders := []domain.Order{
		{ID: "o1", Symbol: "AAPL", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit, Volume: 5, Price: 200,
			Status: domain.OrderStatusPending, CreatedAt: now},
		{ID: "o0", Symbol: "AAPL", Status: domain.OrderStatusFilled},
	}
	require.NoError(t, e.Restore(99_000, positions, orders))

	acct := e.AccountSummary()
	assert.Equal(t, 99_000.0, acct.Balance)
	assert.Equal(t, 1000.0, acct.UsedMargin)
	assert.Equal(t, 1, acct.OpenPositions)
	assert.Equal(t, 1, acct.PendingOrders)
	assert.Equal(t, []string{"AAPL", "EUR/USD"}, e.Symbols())
	assert.Equal(t, 2, quotes.live())

	e.evaluate(domain.Quote{Symbol: "EUR/USD", Price: 1.0900, Bid: 1.0900, Ask: 1.0900})
	p, err := e.Position("p1")
	require.NoError(t, err)
	assert.InDelta(t, 500, p.UnrealizedPnL, 1e-9)

	assert.ErrorIs(t, e.Restore(0, positions, nil), domain.ErrValidation)
}

func TestRestoreKeepsPersistedContractSize(t *testing.T) {
	cfg := testConfig()
	cfg.Contracts["XAU/USD"] = 10
	e, _, _ := newTestEngine(t, cfg)

	positions := []domain.Position{
		{ID: "p1", Symbol: "XAU/USD", Side: domain.OrderSideBuy, Volume: 2, InitialVolume: 2,
			ContractSize: 100, OpenPrice: 2000, Status: domain.PositionStatusOpen, OpenedAt: time.Now().UTC()},
	}
	require.NoError(t, e.Restore(100_000, positions, nil))

	p, err := e.Position("p1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.ContractSize)
	assert.InDelta(t, 2.0, p.Margin, 1e-9)
	assert.InDelta(t, 2.0, e.AccountSummary().UsedMargin, 1e-9)

	e.evaluate(domain.Quote{Symbol: "XAU/USD", Price: 2010, Bid: 2010, Ask: 2010})
	p, err = e.Position("p1")
	require.NoError(t, err)
	assert.InDelta(t, 2000, p.UnrealizedPnL, 1e-9)
}
