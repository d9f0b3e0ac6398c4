package feed

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/platform/finnhub"
	"github.com/alanyoungcy/paperdesk/internal/platform/twelvedata"
	"github.com/alanyoungcy/paperdesk/internal/resilience"
)

// mockUpstream is a websocket server that records every text frame it
// receives, per connection.
type mockUpstream struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	delay    time.Duration

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames [][]string
}

func newMockUpstream(t *testing.T) *mockUpstream {
	t.Helper()
	m := &mockUpstream{}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	idx := len(m.conns)
	m.conns = append(m.conns, conn)
	m.frames = append(m.frames, nil)
	m.mu.Unlock()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.TextMessage {
			m.mu.Lock()
			m.frames[idx] = append(m.frames[idx], string(data))
			m.mu.Unlock()
		}
	}
}

func (m *mockUpstream) url() string {
	return "ws" + strings.TrimPrefix(m.srv.URL, "http")
}

func (m *mockUpstream) connCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *mockUpstream) framesOn(idx int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx >= len(m.frames) {
		return nil
	}
	return append([]string(nil), m.frames[idx]...)
}

func (m *mockUpstream) send(t *testing.T, idx int, frame string) {
	t.Helper()
	m.mu.Lock()
	conn := m.conns[idx]
	m.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (m *mockUpstream) drop(idx int) {
	m.mu.Lock()
	conn := m.conns[idx]
	m.mu.Unlock()
	_ = conn.Close()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		HeartbeatInterval:    time.Second,
		ConnectTimeout:       2 * time.Second,
		MaxReconnectAttempts: 5,
		Backoff:              resilience.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	}
}

type tickSink struct {
	mu     sync.Mutex
	quotes []domain.Quote
}

func (s *tickSink) handle(q domain.Quote) {
	s.mu.Lock()
	s.quotes = append(s.quotes, q)
	s.mu.Unlock()
}

func (s *tickSink) all() []domain.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Quote(nil), s.quotes...)
}

func TestSubscriptionsReplayedExactlyOnceAfterReconnect(t *testing.T) {
	up := newMockUpstream(t)
	m := NewManager(testConfig(), func(domain.Quote) {}, testLogger())
	defer m.Close()
	require.NoError(t, m.Register(Provider{ID: "mock", URL: up.url(), Codec: finnhub.NewCodec()}))

	// Queued while disconnected.
	require.NoError(t, m.Subscribe("mock", "EUR/USD"))
	require.NoError(t, m.Connect(context.Background(), "mock"))
	require.NoError(t, m.Subscribe("mock", "GBP/USD"))
	require.NoError(t, m.Subscribe("mock", "EUR/USD"))

	require.Eventually(t, func() bool { return len(up.framesOn(0)) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{
		`{"type":"subscribe","symbol":"OANDA:EUR_USD"}`,
		`{"type":"subscribe","symbol":"OANDA:GBP_USD"}`,
	}, up.framesOn(0))

	up.drop(0)
	require.Eventually(t, func() bool { return len(up.framesOn(1)) == 2 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	frames := up.framesOn(1)
	assert.Len(t, frames, 2, "each desired symbol is sent exactly once per connection")
	assert.ElementsMatch(t, []string{
		`{"type":"subscribe","symbol":"OANDA:EUR_USD"}`,
		`{"type":"subscribe","symbol":"OANDA:GBP_USD"}`,
	}, frames)

	require.Eventually(t, func() bool {
		st := m.States()
		return len(st) == 1 && st[0].State == domain.ConnConnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.States()[0].Symbols)
}

func TestUnsubscribeSendsFrameAndForgetsSymbol(t *testing.T) {
	up := newMockUpstream(t)
	m := NewManager(testConfig(), func(domain.Quote) {}, testLogger())
	defer m.Close()
	require.NoError(t, m.Register(Provider{ID: "mock", URL: up.url(), Codec: finnhub.NewCodec()}))
	require.NoError(t, m.Connect(context.Background(), "mock"))

	require.NoError(t, m.Subscribe("mock", "AAPL"))
	require.NoError(t, m.Unsubscribe("mock", "AAPL"))
	require.Eventually(t, func() bool { return len(up.framesOn(0)) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"type":"unsubscribe","symbol":"AAPL"}`, up.framesOn(0)[1])

	up.drop(0)
	require.Eventually(t, func() bool { return up.connCount() == 2 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, up.framesOn(1))
}

func TestTicksForwardedAndMalformedFramesDropped(t *testing.T) {
	up := newMockUpstream(t)
	sink := &tickSink{}
	m := NewManager(testConfig(), sink.handle, testLogger())
	defer m.Close()
	require.NoError(t, m.Register(Provider{ID: "finnhub", URL: up.url(), Codec: finnhub.NewCodec()}))
	require.NoError(t, m.Connect(context.Background(), "finnhub"))
	require.Eventually(t, func() bool { return up.connCount() == 1 }, time.Second, 5*time.Millisecond)

	up.send(t, 0, `{"type":`)
	up.send(t, 0, `{"type":"trade","data":[{"s":"OANDA:EUR_USD","p":1.0851,"v":1,"t":1767614400000}]}`)
	up.send(t, 0, `{"type":"trade","data":[{"s":"OANDA:EUR_USD","p":1.0852,"v":1,"t":1767614401000}]}`)

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	quotes := sink.all()
	assert.Equal(t, "EUR/USD", quotes[0].Symbol)
	assert.Equal(t, 1.0851, quotes[0].Price)
	assert.Equal(t, 1.0852, quotes[1].Price, "ticks keep provider order")
	assert.Equal(t, domain.ConnConnected, m.States()[0].State)
	assert.Equal(t, 1, up.connCount())
}

func TestSilentConnectionDegradesThenReconnects(t *testing.T) {
	up := newMockUpstream(t)
	cfg := testConfig()
	cfg.HeartbeatInterval = 80 * time.Millisecond

	var mu sync.Mutex
	var seen []domain.ConnState
	m := NewManager(cfg, func(domain.Quote) {}, testLogger())
	defer m.Close()
	m.OnEvent(func(ev domain.ConnectionEvent) {
		mu.Lock()
		seen = append(seen, ev.State)
		mu.Unlock()
	})
	// Twelve Data keeps alive with application frames, so no pongs arrive.
	require.NoError(t, m.Register(Provider{ID: "td", URL: up.url(), Codec: twelvedata.NewCodec()}))
	require.NoError(t, m.Connect(context.Background(), "td"))

	require.Eventually(t, func() bool { return up.connCount() >= 2 }, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, domain.ConnDegraded)
	assert.Contains(t, seen, domain.ConnDisconnected)
	assert.Contains(t, up.framesOn(0), `{"action":"heartbeat"}`)
}

func TestFailedAfterMaxReconnectAttempts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadURL := "ws://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig()
	cfg.MaxReconnectAttempts = 3
	cfg.Backoff = resilience.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}

	failed := make(chan domain.ConnectionEvent, 1)
	m := NewManager(cfg, func(domain.Quote) {}, testLogger())
	defer m.Close()
	m.OnEvent(func(ev domain.ConnectionEvent) {
		if ev.State == domain.ConnFailed {
			failed <- ev
		}
	})
	require.NoError(t, m.Register(Provider{ID: "dead", URL: deadURL, Codec: finnhub.NewCodec()}))

	err = m.Connect(context.Background(), "dead")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)

	select {
	case ev := <-failed:
		assert.Equal(t, "dead", ev.ProviderID)
		assert.ErrorIs(t, ev.Err, domain.ErrRetryExhausted)
	case <-time.After(time.Second):
		t.Fatal("no failed event")
	}
	assert.Equal(t, domain.ConnFailed, m.States()[0].State)
}

func TestConnectTimeout(t *testing.T) {
	up := newMockUpstream(t)
	up.delay = 300 * time.Millisecond

	cfg := testConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	cfg.MaxReconnectAttempts = 100
	cfg.Backoff = resilience.Backoff{Base: time.Second, Max: time.Second}

	m := NewManager(cfg, func(domain.Quote) {}, testLogger())
	require.NoError(t, m.Register(Provider{ID: "slow", URL: up.url(), Codec: finnhub.NewCodec()}))

	start := time.Now()
	err := m.Connect(context.Background(), "slow")
	assert.ErrorIs(t, err, domain.ErrConnectionTimeout)
	assert.Less(t, time.Since(start), time.Second)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the backoff wait")
	}
}

func TestUnknownProvider(t *testing.T) {
	m := NewManager(testConfig(), func(domain.Quote) {}, testLogger())
	defer m.Close()
	assert.ErrorIs(t, m.Subscribe("nope", "EUR/USD"), domain.ErrNotFound)
	assert.ErrorIs(t, m.Connect(context.Background(), "nope"), domain.ErrNotFound)
}

func TestSubscriptionsFold(t *testing.T) {
	s := newSubscriptions()
	s.queue(true, "EUR/USD")
	s.queue(true, "GBP/USD")
	s.queue(true, "EUR/USD")
	s.queue(false, "GBP/USD")
	s.queue(true, "AAPL")
	assert.Equal(t, 2, s.count())

	assert.Equal(t, []string{"AAPL", "EUR/USD"}, s.fold())
	assert.Empty(t, s.pending)

	s.markActive("AAPL")
	assert.True(t, s.isActive("AAPL"))
	s.clearActive()
	assert.False(t, s.isActive("AAPL"))
	assert.Equal(t, []string{"AAPL", "EUR/USD"}, s.fold())
}
