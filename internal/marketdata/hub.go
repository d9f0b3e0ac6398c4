// Package marketdata is the single source of quotes for the rest of the
// process: it caches the latest tick per symbol, fans ticks out to
// subscribers, and falls back to rate-limited REST pulls when the stream is
// quiet.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/resilience"
)

// ReferenceSource is stamped on synthetic quotes built from configured
// reference prices.
const ReferenceSource = "reference"

// Config controls caching, routing and pull budgets.
type Config struct {
	CacheTTL        time.Duration
	PollInterval    time.Duration
	FetchTimeout    time.Duration
	DefaultProvider string
	SymbolProviders map[string]string
	ReferencePrices map[string]float64
	// RequestsPerMinute is the REST pull budget per provider id. Zero means
	// unlimited.
	RequestsPerMinute map[string]int
}

// Upstream is the streaming side the hub asks to carry symbols.
type Upstream interface {
	Subscribe(providerID, symbol string) error
	Unsubscribe(providerID, symbol string) error
}

// Deps are the hub's collaborators. Upstream may be nil when no streaming
// provider is configured.
type Deps struct {
	Cache    domain.QuoteCache
	Limiter  domain.RateLimiter
	Executor *resilience.Executor
	Upstream Upstream
	Fetchers map[string]domain.QuoteFetcher
}

// SymbolInfo describes one live symbol.
type SymbolInfo struct {
	Symbol      string `json:"symbol"`
	Provider    string `json:"provider"`
	Subscribers int    `json:"subscribers"`
}

type subscriber struct {
	id string
	cb domain.QuoteCallback
}

type symbolEntry struct {
	provider string
	subs     []subscriber
}

// lane serializes stamping, caching and fan-out for one symbol.
type lane struct {
	mu sync.Mutex
}

// Hub implements domain.QuoteSource.
type Hub struct {
	cfg      Config
	cache    domain.QuoteCache
	limiter  domain.RateLimiter
	exec     *resilience.Executor
	upstream Upstream
	fetchers map[string]domain.QuoteFetcher
	logger   *slog.Logger
	now      func() time.Time

	pulls singleflight.Group
	lanes sync.Map // symbol -> *lane

	// subMu serializes registry changes together with their upstream calls;
	// mu guards the registry itself so Publish never waits on the network.
	subMu   sync.Mutex
	mu      sync.RWMutex
	symbols map[string]*symbolEntry
}

// NewHub creates a Hub. A nil Cache or Limiter gets the in-memory variant
// and a nil Executor gets default breakers.
func NewHub(cfg Config, deps Deps, logger *slog.Logger) *Hub {
	if deps.Cache == nil {
		deps.Cache = NewMemoryCache()
	}
	if deps.Limiter == nil {
		deps.Limiter = NewMemoryLimiter()
	}
	if deps.Fetchers == nil {
		deps.Fetchers = map[string]domain.QuoteFetcher{}
	}
	if deps.Executor == nil {
		deps.Executor = resilience.NewExecutor(resilience.NewBreakers(resilience.DefaultBreakerConfig(), logger), logger)
	}
	return &Hub{
		cfg:      cfg,
		cache:    deps.Cache,
		limiter:  deps.Limiter,
		exec:     deps.Executor,
		upstream: deps.Upstream,
		fetchers: deps.Fetchers,
		logger:   logger.With(slog.String("component", "marketdata")),
		now:      time.Now,
		symbols:  make(map[string]*symbolEntry),
	}
}

// NormalizeSymbol trims and upper-cases a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ProviderFor returns the provider id a symbol is routed to.
func (h *Hub) ProviderFor(symbol string) string {
	if p, ok := h.cfg.SymbolProviders[symbol]; ok {
		return p
	}
	return h.cfg.DefaultProvider
}

// Subscribe registers cb for symbol. The first subscriber asks the upstream
// to stream the symbol and adds it to the polling set.
func (h *Hub) Subscribe(symbol string, cb domain.QuoteCallback) (domain.Subscription, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return domain.Subscription{}, domain.Errorf(domain.KindValidation, "marketdata: subscribe", "symbol is required")
	}
	if cb == nil {
		return domain.Subscription{}, domain.Errorf(domain.KindValidation, "marketdata: subscribe", "callback is required")
	}
	provider := h.ProviderFor(symbol)
	if provider == "" {
		return domain.Subscription{}, domain.Errorf(domain.KindValidation, "marketdata: subscribe", "no provider for "+symbol)
	}

	h.subMu.Lock()
	defer h.subMu.Unlock()

	sub := domain.Subscription{ID: uuid.NewString(), Symbol: symbol}
	h.mu.Lock()
	entry, existed := h.symbols[symbol]
	if !existed {
		entry = &symbolEntry{provider: provider}
		h.symbols[symbol] = entry
	}
	entry.subs = append(entry.subs, subscriber{id: sub.ID, cb: cb})
	h.mu.Unlock()

	if !existed && h.upstream != nil {
		if err := h.upstream.Subscribe(provider, symbol); err != nil {
			// The poller still covers the symbol.
			h.logger.Warn("upstream subscribe failed",
				slog.String("symbol", symbol),
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		}
	}
	return sub, nil
}

// Unsubscribe removes a subscription. The last one for a symbol releases the
// upstream stream and the polling entry.
func (h *Hub) Unsubscribe(sub domain.Subscription) error {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	entry, ok := h.symbols[sub.Symbol]
	idx := -1
	if ok {
		for i, s := range entry.subs {
			if s.id == sub.ID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		h.mu.Unlock()
		return domain.Errorf(domain.KindNotFound, "marketdata: unsubscribe", "unknown subscription "+sub.ID)
	}
	entry.subs = append(entry.subs[:idx:idx], entry.subs[idx+1:]...)
	last := len(entry.subs) == 0
	if last {
		delete(h.symbols, sub.Symbol)
	}
	h.mu.Unlock()

	if last && h.upstream != nil {
		if err := h.upstream.Unsubscribe(entry.provider, sub.Symbol); err != nil {
			h.logger.Warn("upstream unsubscribe failed",
				slog.String("symbol", sub.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Publish stamps q with its arrival time, stores it and delivers it to the
// symbol's subscribers in registration order. It returns the stored quote.
func (h *Hub) Publish(ctx context.Context, q domain.Quote) domain.Quote {
	q.Symbol = NormalizeSymbol(q.Symbol)

	// Subscribers see a symbol's ticks in arrival order, so the stamp must be
	// taken under the same lock as the fan-out.
	l := h.lane(q.Symbol)
	l.mu.Lock()
	defer l.mu.Unlock()

	q.Timestamp = h.now()
	q.StaleAfter = q.Timestamp.Add(h.cfg.CacheTTL)
	q.Stale, q.Synthetic = false, false

	if err := h.cache.Set(ctx, q); err != nil {
		h.logger.WarnContext(ctx, "cache set failed",
			slog.String("symbol", q.Symbol),
			slog.String("error", err.Error()),
		)
	}

	h.mu.RLock()
	var subs []subscriber
	if entry, ok := h.symbols[q.Symbol]; ok {
		subs = append(subs, entry.subs...)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, q)
	}
	return q
}

func (h *Hub) lane(symbol string) *lane {
	if l, ok := h.lanes.Load(symbol); ok {
		return l.(*lane)
	}
	l, _ := h.lanes.LoadOrStore(symbol, &lane{})
	return l.(*lane)
}

func (h *Hub) deliver(s subscriber, q domain.Quote) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panicked",
				slog.String("subscription", s.id),
				slog.String("symbol", q.Symbol),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.cb(q)
}

// GetQuote returns the freshest quote available for symbol.
//
// A cached quote younger than the cache TTL is returned as is. Otherwise a
// REST pull is attempted. When the pull is rate limited or fails, the last
// cached quote is returned marked Stale, or a configured reference price
// marked Synthetic, together with a stale_data error. With nothing to fall
// back on the error is no_data and the quote is zero.
func (h *Hub) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return domain.Quote{}, domain.Errorf(domain.KindValidation, "marketdata: get quote", "symbol is required")
	}

	cached, ok := h.cached(ctx, symbol)
	if ok && !h.isStale(cached) {
		return cached, nil
	}

	q, err := h.pull(ctx, symbol)
	if err == nil {
		return q, nil
	}
	if ctx.Err() != nil {
		return domain.Quote{}, ctx.Err()
	}
	return h.fallback(symbol, cached, ok, err)
}

func (h *Hub) cached(ctx context.Context, symbol string) (domain.Quote, bool) {
	q, ok, err := h.cache.Get(ctx, symbol)
	if err != nil {
		h.logger.WarnContext(ctx, "cache get failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return domain.Quote{}, false
	}
	return q, ok
}

func (h *Hub) isStale(q domain.Quote) bool {
	return q.Age(h.now()) > h.cfg.CacheTTL
}

// pull fetches symbol over REST, at most once concurrently per symbol.
func (h *Hub) pull(ctx context.Context, symbol string) (domain.Quote, error) {
	v, err, _ := h.pulls.Do(symbol, func() (any, error) {
		return h.fetch(ctx, symbol)
	})
	if err != nil {
		return domain.Quote{}, err
	}
	return v.(domain.Quote), nil
}

func (h *Hub) fetch(ctx context.Context, symbol string) (domain.Quote, error) {
	op := "marketdata: pull " + symbol
	provider := h.ProviderFor(symbol)
	fetcher, ok := h.fetchers[provider]
	if !ok {
		return domain.Quote{}, domain.Errorf(domain.KindNoData, op, "no rest client for provider "+provider)
	}

	if rpm := h.cfg.RequestsPerMinute[provider]; rpm > 0 {
		allowed, err := h.limiter.Allow(ctx, "quotes:"+provider, rpm, time.Minute)
		if err != nil {
			// Limiter backend trouble should not take quotes down with it.
			h.logger.WarnContext(ctx, "rate limiter unavailable",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			return domain.Quote{}, &domain.Error{
				Kind:       domain.KindRateLimit,
				Op:         op,
				Msg:        fmt.Sprintf("%s budget of %d requests per minute used", provider, rpm),
				RetryAfter: time.Minute / time.Duration(rpm),
			}
		}
	}

	fctx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout)
	defer cancel()

	q, err := resilience.Execute(fctx, h.exec, provider, func(ctx context.Context) (domain.Quote, error) {
		return fetcher.FetchQuote(ctx, symbol)
	})
	if err != nil {
		return domain.Quote{}, err
	}
	q.Symbol = symbol
	if q.Source == "" {
		q.Source = provider
	}
	return h.Publish(ctx, q), nil
}

func (h *Hub) fallback(symbol string, cached domain.Quote, haveCached bool, cause error) (domain.Quote, error) {
	op := "marketdata: get quote " + symbol
	if haveCached {
		cached.Stale = true
		return cached, &domain.Error{Kind: domain.KindStaleData, Op: op, Msg: "serving last cached quote", Err: cause}
	}
	if ref, ok := h.cfg.ReferencePrices[symbol]; ok && ref > 0 {
		now := h.now()
		q := domain.Quote{
			Symbol:     symbol,
			Price:      ref,
			Timestamp:  now,
			StaleAfter: now,
			Source:     ReferenceSource,
			Stale:      true,
			Synthetic:  true,
		}
		return q, &domain.Error{Kind: domain.KindStaleData, Op: op, Msg: "serving reference price", Err: cause}
	}
	return domain.Quote{}, &domain.Error{Kind: domain.KindNoData, Op: op, Err: cause}
}

// Snapshot lists live symbols, ordered by symbol.
func (h *Hub) Snapshot() []SymbolInfo {
	h.mu.RLock()
	out := make([]SymbolInfo, 0, len(h.symbols))
	for sym, e := range h.symbols {
		out = append(out, SymbolInfo{Symbol: sym, Provider: e.provider, Subscribers: len(e.subs)})
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

var _ domain.QuoteSource = (*Hub)(nil)
