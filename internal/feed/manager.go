// Package feed maintains one supervised streaming connection per upstream
// quote provider and forwards decoded ticks to a single handler.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/resilience"
)

// Provider describes one streaming upstream.
type Provider struct {
	ID    string
	URL   string // full websocket URL including credentials
	Codec domain.StreamCodec
}

// Config holds connection supervision parameters.
type Config struct {
	HeartbeatInterval    time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	Backoff              resilience.Backoff
}

// TickHandler receives every decoded quote, in per-provider arrival order.
type TickHandler func(domain.Quote)

// EventHandler receives connection state transitions.
type EventHandler func(domain.ConnectionEvent)

// Manager owns every provider connection. Connections are only reachable
// through its methods; callers see snapshots.
type Manager struct {
	cfg     Config
	onTick  TickHandler
	retrier *resilience.Retrier
	dialer  *websocket.Dialer
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	conns     map[string]*connection
	listeners []EventHandler
	closed    bool
}

// NewManager creates a Manager that forwards ticks to onTick.
func NewManager(cfg Config, onTick TickHandler, logger *slog.Logger) *Manager {
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = 1
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = resilience.DefaultBackoff()
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With(slog.String("component", "feed"))
	return &Manager{
		cfg:     cfg,
		onTick:  onTick,
		retrier: resilience.NewRetrier(cfg.Backoff, logger),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*connection),
	}
}

// Register adds a provider. Registering the same id twice is an error.
func (m *Manager) Register(p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[p.ID]; ok {
		return fmt.Errorf("feed: provider %s already registered", p.ID)
	}
	m.conns[p.ID] = newConnection(p, m)
	return nil
}

// OnEvent registers a listener for connection state transitions.
func (m *Manager) OnEvent(fn EventHandler) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Connect starts the provider's worker if it is not running and waits up to
// ConnectTimeout for the first successful connection. On timeout the worker
// keeps retrying in the background.
func (m *Manager) Connect(ctx context.Context, providerID string) error {
	c, err := m.conn(providerID)
	if err != nil {
		return err
	}
	if err := m.start(c); err != nil {
		return err
	}
	return c.waitConnected(ctx, m.cfg.ConnectTimeout)
}

// Subscribe asks providerID to stream symbol. While disconnected the
// request is queued and replayed on connect. Repeated calls are no-ops on
// the wire.
func (m *Manager) Subscribe(providerID, symbol string) error {
	c, err := m.conn(providerID)
	if err != nil {
		return err
	}
	return c.subscribe(symbol)
}

// Unsubscribe stops streaming symbol from providerID.
func (m *Manager) Unsubscribe(providerID, symbol string) error {
	c, err := m.conn(providerID)
	if err != nil {
		return err
	}
	return c.unsubscribe(symbol)
}

// States returns a snapshot of every connection, ordered by provider id.
func (m *Manager) States() []domain.ConnectionInfo {
	m.mu.RLock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	out := make([]domain.ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Run connects every registered provider and blocks until ctx is done, then
// closes all connections. Providers that fail to connect in time keep
// retrying in the background.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := m.Connect(ctx, id); err != nil {
			if ctx.Err() != nil {
				break
			}
			m.logger.WarnContext(ctx, "provider not connected yet",
				slog.String("provider", id),
				slog.String("error", err.Error()),
			)
		}
	}

	<-ctx.Done()
	m.Close()
	return ctx.Err()
}

// Close cancels every worker, including pending backoff waits, and waits
// for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) conn(id string) (*connection, error) {
	m.mu.RLock()
	c, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "feed", "unknown provider "+id)
	}
	return c, nil
}

func (m *Manager) start(c *connection) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return domain.Errorf(domain.KindConnectionFailed, "feed", "manager closed")
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run(m.ctx)
	}()
	return nil
}

func (m *Manager) dial(ctx context.Context, p Provider) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(dctx, p.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, classifyDial("dial "+p.ID, resp, err)
	}
	return conn, nil
}

func (m *Manager) emit(ev domain.ConnectionEvent) {
	m.mu.RLock()
	listeners := append([]EventHandler(nil), m.listeners...)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
