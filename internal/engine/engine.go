// Package engine is the paper trading core: it owns the account, its orders
// and positions, and re-evaluates them on every tick.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// Config holds account and risk parameters.
type Config struct {
	Currency            string
	InitialBalance      float64
	Leverage            float64
	MaxVolume           float64
	MarginCallLevel     float64
	StopOutLevel        float64
	EvalInterval        time.Duration
	DefaultContractSize float64
	Contracts           map[string]float64
}

// ContractSize returns the units per lot for symbol.
func (c Config) ContractSize(symbol string) float64 {
	if v, ok := c.Contracts[symbol]; ok && v > 0 {
		return v
	}
	return c.DefaultContractSize
}

// Engine is a single paper account. All order, position and balance state is
// guarded by mu; quote lookups happen outside it.
type Engine struct {
	cfg    Config
	quotes domain.QuoteSource
	hooks  *Dispatcher
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
	ticks  chan domain.Quote

	mu           sync.Mutex
	balance      decimal.Decimal
	orders       map[string]*domain.Order
	orderIDs     []string
	positions    map[string]*domain.Position
	positionIDs  []string
	subs         map[string]domain.Subscription
	account      domain.AccountState
	marginCalled bool
}

// New creates an Engine funded with cfg.InitialBalance.
func New(cfg Config, quotes domain.QuoteSource, hooks *Dispatcher, logger *slog.Logger) *Engine {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if hooks == nil {
		hooks = NewDispatcher(1024, logger)
	}
	e := &Engine{
		cfg:       cfg,
		quotes:    quotes,
		hooks:     hooks,
		logger:    logger.With(slog.String("component", "engine")),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		ticks:     make(chan domain.Quote, 256),
		balance:   decimal.NewFromFloat(cfg.InitialBalance),
		orders:    make(map[string]*domain.Order),
		positions: make(map[string]*domain.Position),
		subs:      make(map[string]domain.Subscription),
	}
	e.recomputeLocked()
	return e
}

// AccountSummary returns the current account state.
func (e *Engine) AccountSummary() domain.AccountState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

// Order returns one order by id.
func (e *Engine) Order(id string) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, domain.Errorf(domain.KindNotFound, "engine: order", "unknown order "+id)
	}
	return cloneOrder(o), nil
}

// Orders returns every order, oldest first.
func (e *Engine) Orders() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Order, 0, len(e.orderIDs))
	for _, id := range e.orderIDs {
		out = append(out, cloneOrder(e.orders[id]))
	}
	return out
}

// Position returns one position by id.
func (e *Engine) Position(id string) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[id]
	if !ok {
		return domain.Position{}, domain.Errorf(domain.KindNotFound, "engine: position", "unknown position "+id)
	}
	return clonePosition(p), nil
}

// Positions returns positions with the given status, or all positions when
// status is empty, oldest first.
func (e *Engine) Positions(status domain.PositionStatus) []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.positionIDs))
	for _, id := range e.positionIDs {
		p := e.positions[id]
		if status == "" || p.Status == status {
			out = append(out, clonePosition(p))
		}
	}
	return out
}

// Symbols returns the symbols the engine currently holds quote
// subscriptions for.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.subs))
	for sym := range e.subs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// recomputeLocked derives the account from the balance and open positions.
func (e *Engine) recomputeLocked() domain.AccountState {
	unrealized := decimal.Zero
	used := decimal.Zero
	open := 0
	for _, p := range e.positions {
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		open++
		unrealized = unrealized.Add(decimal.NewFromFloat(p.UnrealizedPnL))
		used = used.Add(decimal.NewFromFloat(p.Margin))
	}
	pending := 0
	for _, o := range e.orders {
		if o.Status == domain.OrderStatusPending {
			pending++
		}
	}

	equity := e.balance.Add(unrealized)
	level := decimal.Zero
	if used.IsPositive() {
		level = equity.Div(used).Mul(decimal.NewFromInt(100))
	}

	e.account = domain.AccountState{
		Balance:       e.balance.InexactFloat64(),
		Equity:        equity.InexactFloat64(),
		UsedMargin:    used.InexactFloat64(),
		FreeMargin:    equity.Sub(used).InexactFloat64(),
		MarginLevel:   level.Round(4).InexactFloat64(),
		UnrealizedPnL: unrealized.InexactFloat64(),
		Currency:      e.cfg.Currency,
		OpenPositions: open,
		PendingOrders: pending,
		UpdatedAt:     e.now(),
	}
	return e.account
}

// publishAccountLocked recomputes the account and hands it to the hooks.
func (e *Engine) publishAccountLocked() {
	e.hooks.emit(e.recomputeLocked())
}

// marginFor returns the margin required to hold volume lots of symbol.
func (e *Engine) marginFor(symbol string, volume float64) decimal.Decimal {
	return decimal.NewFromFloat(volume).
		Mul(decimal.NewFromFloat(e.cfg.ContractSize(symbol))).
		Div(decimal.NewFromFloat(e.cfg.Leverage))
}

// positionMargin returns the margin held by p at its own contract size,
// which may differ from the current configuration for restored positions.
func (e *Engine) positionMargin(p *domain.Position) decimal.Decimal {
	if p.ContractSize <= 0 {
		return e.marginFor(p.Symbol, p.Volume)
	}
	return decimal.NewFromFloat(p.Volume).
		Mul(decimal.NewFromFloat(p.ContractSize)).
		Div(decimal.NewFromFloat(e.cfg.Leverage))
}

// hasExposureLocked reports whether symbol has open positions or pending
// orders.
func (e *Engine) hasExposureLocked(symbol string) bool {
	for _, p := range e.positions {
		if p.Symbol == symbol && p.Status == domain.PositionStatusOpen {
			return true
		}
	}
	for _, o := range e.orders {
		if o.Symbol == symbol && o.Status == domain.OrderStatusPending {
			return true
		}
	}
	return false
}

// watchLocked makes sure the engine holds a quote subscription for symbol.
func (e *Engine) watchLocked(symbol string) error {
	if _, ok := e.subs[symbol]; ok {
		return nil
	}
	sub, err := e.quotes.Subscribe(symbol, e.enqueueTick)
	if err != nil {
		return err
	}
	e.subs[symbol] = sub
	return nil
}

// releaseLocked drops the quote subscription for symbol once nothing
// references it.
func (e *Engine) releaseLocked(symbol string) {
	sub, ok := e.subs[symbol]
	if !ok || e.hasExposureLocked(symbol) {
		return
	}
	delete(e.subs, symbol)
	if err := e.quotes.Unsubscribe(sub); err != nil {
		e.logger.Warn("release quote subscription failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// enqueueTick runs on the publisher's goroutine and must not block.
func (e *Engine) enqueueTick(q domain.Quote) {
	select {
	case e.ticks <- q:
	default:
		e.logger.Debug("tick queue full, deferring to interval evaluation", slog.String("symbol", q.Symbol))
	}
}

func cloneOrder(o *domain.Order) domain.Order {
	c := *o
	c.StopLoss = cloneFloat(o.StopLoss)
	c.TakeProfit = cloneFloat(o.TakeProfit)
	if o.FilledAt != nil {
		t := *o.FilledAt
		c.FilledAt = &t
	}
	return c
}

func clonePosition(p *domain.Position) domain.Position {
	c := *p
	c.StopLoss = cloneFloat(p.StopLoss)
	c.TakeProfit = cloneFloat(p.TakeProfit)
	c.ClosePrice = cloneFloat(p.ClosePrice)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Run evaluates positions and pending orders on every tick of a watched
// symbol and on EvalInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.EvalInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "evaluation loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q := <-e.ticks:
			e.evaluate(q)
		case <-ticker.C:
			e.evaluateAll(ctx)
		}
	}
}
