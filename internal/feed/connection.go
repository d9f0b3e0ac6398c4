package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/resilience"
)

// writeWait is the time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// connection owns one provider's socket. All fields below mu are guarded by
// it; writes to the socket are additionally serialized by writeMu.
type connection struct {
	provider Provider
	m        *Manager
	logger   *slog.Logger

	mu            sync.Mutex
	state         domain.ConnState
	attempt       int
	lastInbound   time.Time
	lastHeartbeat time.Time
	connectedAt   time.Time
	lastErr       string
	ws            *websocket.Conn
	subs          *subscriptions
	running       bool
	changed       chan struct{} // closed and replaced on every state change

	writeMu sync.Mutex
}

func newConnection(p Provider, m *Manager) *connection {
	return &connection{
		provider: p,
		m:        m,
		logger:   m.logger.With(slog.String("provider", p.ID)),
		state:    domain.ConnDisconnected,
		subs:     newSubscriptions(),
		changed:  make(chan struct{}),
	}
}

// run is the worker goroutine: dial with retry, serve until the socket
// drops, repeat. It exits when ctx is done or retries are exhausted.
func (c *connection) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		var ws *websocket.Conn
		err := c.m.retrier.Do(ctx, c.provider.ID, c.m.cfg.MaxReconnectAttempts, func(actx context.Context) error {
			c.setState(domain.ConnConnecting, resilience.AttemptFrom(actx), nil)
			conn, err := c.m.dial(actx, c.provider)
			if err != nil {
				c.logger.WarnContext(ctx, "dial failed",
					slog.Int("attempt", resilience.AttemptFrom(actx)),
					slog.String("error", err.Error()),
				)
				c.setLastErr(err)
				return err
			}
			ws = conn
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				c.setState(domain.ConnDisconnected, 0, nil)
				return
			}
			c.logger.ErrorContext(ctx, "connection failed, giving up", slog.String("error", err.Error()))
			c.setState(domain.ConnFailed, 0, err)
			return
		}

		dropErr := c.serve(ctx, ws)
		if ctx.Err() != nil {
			c.setState(domain.ConnDisconnected, 0, nil)
			return
		}
		c.logger.WarnContext(ctx, "connection dropped, reconnecting", slog.String("error", dropErr.Error()))
		c.setState(domain.ConnDisconnected, 0, dropErr)

		// Avoid a hot loop against a server that accepts then drops.
		t := time.NewTimer(c.m.cfg.Backoff.Base)
		select {
		case <-ctx.Done():
			t.Stop()
			c.setState(domain.ConnDisconnected, 0, nil)
			return
		case <-t.C:
		}
	}
}

// serve runs one socket until it drops or ctx ends. It replays the desired
// subscriptions, starts the read loop, and supervises heartbeats.
func (c *connection) serve(ctx context.Context, ws *websocket.Conn) error {
	now := c.m.now()
	c.mu.Lock()
	c.ws = ws
	c.lastInbound = now
	c.lastHeartbeat = now
	c.connectedAt = now
	c.mu.Unlock()

	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	if err := c.replay(); err != nil {
		c.detach(ws)
		return fmt.Errorf("replay subscriptions: %w", err)
	}

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(ws) }()

	hb := c.m.cfg.HeartbeatInterval
	check := time.NewTicker(max(hb/2, time.Millisecond))
	defer check.Stop()
	lastSent := now

	for {
		select {
		case <-ctx.Done():
			c.writeRaw(ws, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.detach(ws)
			<-readErr
			return ctx.Err()

		case err := <-readErr:
			c.detach(ws)
			return err

		case <-check.C:
			now := c.m.now()
			c.mu.Lock()
			silence := now.Sub(c.lastInbound)
			state := c.state
			c.mu.Unlock()

			if silence >= 2*hb {
				c.detach(ws)
				<-readErr
				return fmt.Errorf("no inbound traffic for %s", silence.Round(time.Millisecond))
			}
			if silence >= hb && state == domain.ConnConnected {
				c.logger.Warn("connection degraded", slog.Duration("silence", silence))
				c.setState(domain.ConnDegraded, 0, nil)
			}
			if now.Sub(lastSent) >= hb {
				lastSent = now
				if err := c.sendHeartbeat(ws); err != nil {
					c.detach(ws)
					<-readErr
					return fmt.Errorf("heartbeat: %w", err)
				}
			}
		}
	}
}

func (c *connection) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		c.touch()

		msg, err := c.provider.Codec.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame",
				slog.String("error", err.Error()),
				slog.Int("bytes", len(data)),
			)
			continue
		}

		switch msg.Kind {
		case domain.MessageQuotes:
			for _, q := range msg.Quotes {
				if q.Source == "" {
					q.Source = c.provider.ID
				}
				c.m.onTick(q)
			}
		case domain.MessageHeartbeat:
			c.mu.Lock()
			c.lastHeartbeat = c.m.now()
			c.mu.Unlock()
		case domain.MessageError:
			c.logger.Warn("provider reported error", slog.String("detail", msg.Detail))
		case domain.MessageStatus:
			c.logger.Debug("provider status", slog.String("detail", msg.Detail))
		}
	}
}

// touch records inbound traffic and lifts a degraded connection.
func (c *connection) touch() {
	c.mu.Lock()
	c.lastInbound = c.m.now()
	recovered := c.state == domain.ConnDegraded
	c.mu.Unlock()
	if recovered {
		c.logger.Info("connection recovered")
		c.setState(domain.ConnConnected, 0, nil)
	}
}

// replay folds queued requests into the desired set, sends one subscribe
// frame per desired symbol and marks the connection live, all under one
// lock so no request can slip between the fold and the state change.
func (c *connection) replay() error {
	c.mu.Lock()
	for _, sym := range c.subs.fold() {
		frame, err := c.provider.Codec.SubscribeFrame(sym)
		if err == nil {
			err = c.write(c.ws, websocket.TextMessage, frame)
		}
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.subs.markActive(sym)
	}
	ev, changed := c.transitionLocked(domain.ConnConnected, 0, nil)
	c.mu.Unlock()

	if changed {
		c.m.emit(ev)
	}
	return nil
}

func (c *connection) subscribe(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live() {
		c.subs.queue(true, symbol)
		return nil
	}
	if c.subs.isActive(symbol) {
		return nil
	}
	frame, err := c.provider.Codec.SubscribeFrame(symbol)
	if err != nil {
		return fmt.Errorf("feed: encode subscribe %s: %w", symbol, err)
	}
	if err := c.write(c.ws, websocket.TextMessage, frame); err != nil {
		// The socket is going away; replay will pick the symbol up.
		c.subs.queue(true, symbol)
		return nil
	}
	c.subs.markActive(symbol)
	return nil
}

func (c *connection) unsubscribe(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live() {
		c.subs.queue(false, symbol)
		return nil
	}
	if c.subs.isActive(symbol) {
		frame, err := c.provider.Codec.UnsubscribeFrame(symbol)
		if err != nil {
			return fmt.Errorf("feed: encode unsubscribe %s: %w", symbol, err)
		}
		if err := c.write(c.ws, websocket.TextMessage, frame); err != nil {
			c.subs.queue(false, symbol)
			return nil
		}
	}
	c.subs.remove(symbol)
	return nil
}

// live reports whether subscribe frames can be sent now. Caller holds mu.
func (c *connection) live() bool {
	return c.ws != nil && (c.state == domain.ConnConnected || c.state == domain.ConnDegraded)
}

func (c *connection) sendHeartbeat(ws *websocket.Conn) error {
	if frame := c.provider.Codec.HeartbeatFrame(); frame != nil {
		return c.write(ws, websocket.TextMessage, frame)
	}
	return c.write(ws, websocket.PingMessage, nil)
}

func (c *connection) write(ws *websocket.Conn, messageType int, data []byte) error {
	if ws == nil {
		return domain.ErrConnectionFailed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(messageType, data)
}

func (c *connection) writeRaw(ws *websocket.Conn, messageType int, data []byte) {
	_ = c.write(ws, messageType, data)
}

// detach closes ws and forgets it, keeping the desired set for the next
// socket.
func (c *connection) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
		c.subs.clearActive()
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *connection) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

// setState records a transition, wakes waiters and notifies listeners.
func (c *connection) setState(state domain.ConnState, attempt int, err error) {
	c.mu.Lock()
	ev, changed := c.transitionLocked(state, attempt, err)
	c.mu.Unlock()

	if changed {
		c.m.emit(ev)
	}
}

// transitionLocked applies a state change. Caller holds mu and emits the
// returned event after releasing it when changed is true.
func (c *connection) transitionLocked(state domain.ConnState, attempt int, err error) (domain.ConnectionEvent, bool) {
	prev := c.state
	c.state = state
	c.attempt = attempt
	if err != nil {
		c.lastErr = err.Error()
	}
	if state == domain.ConnConnected {
		c.lastErr = ""
	}
	close(c.changed)
	c.changed = make(chan struct{})

	ev := domain.ConnectionEvent{ProviderID: c.provider.ID, State: state, Err: err, At: c.m.now()}
	return ev, prev != state
}

// waitConnected blocks until the connection is up, has failed, or the
// timeout elapses.
func (c *connection) waitConnected(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		state, changed, lastErr := c.state, c.changed, c.lastErr
		c.mu.Unlock()

		switch state {
		case domain.ConnConnected, domain.ConnDegraded:
			return nil
		case domain.ConnFailed:
			return &domain.Error{Kind: domain.KindConnectionFailed, Op: "connect " + c.provider.ID, Msg: lastErr}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return &domain.Error{
				Kind: domain.KindConnectionTimeout,
				Op:   "connect " + c.provider.ID,
				Msg:  fmt.Sprintf("not connected within %s", timeout),
			}
		}
	}
}

func (c *connection) info() domain.ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ConnectionInfo{
		ProviderID:       c.provider.ID,
		State:            c.state,
		ReconnectAttempt: c.attempt,
		LastHeartbeatAt:  c.lastHeartbeat,
		ConnectedAt:      c.connectedAt,
		Symbols:          c.subs.count(),
		LastError:        c.lastErr,
	}
}

// classifyDial maps handshake failures onto the domain taxonomy so the
// retrier can stop on credential errors.
func classifyDial(op string, resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.NewError(domain.KindAuthentication, op, err)
		case http.StatusTooManyRequests:
			return domain.NewError(domain.KindRateLimit, op, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewError(domain.KindNetwork, op, err)
}
