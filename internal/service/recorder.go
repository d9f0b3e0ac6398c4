// Package service connects the trading engine to its side effects:
// persistence, the event bus, the UI stream and operator notifications.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/engine"
	"github.com/alanyoungcy/paperdesk/internal/notify"
)

// Event channels shared by the bus and the UI stream.
const (
	ChannelAccount     = "account"
	ChannelPositions   = "positions"
	ChannelOrders      = "orders"
	ChannelRisk        = "risk"
	ChannelConnections = "connections"

	// EventStream is the durable stream of every recorded event.
	EventStream = "events"
)

// Broadcaster pushes an event to live UI clients.
type Broadcaster interface {
	Broadcast(channel, eventType string, payload any)
}

// Envelope is the wire shape of a recorded event on the bus and stream.
type Envelope struct {
	Type    string    `json:"type"`
	Channel string    `json:"channel"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// RecorderDeps are the optional sinks; any nil field is skipped.
type RecorderDeps struct {
	Orders    domain.OrderStore
	Positions domain.PositionStore
	Accounts  domain.AccountStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Notifier  *notify.Notifier
	UI        Broadcaster
}

// Recorder implements engine.Hooks. Every sink is best effort: failures are
// logged and never reach the engine.
type Recorder struct {
	deps          RecorderDeps
	snapshotEvery time.Duration
	timeout       time.Duration
	logger        *slog.Logger
	now           func() time.Time

	conns chan domain.ConnectionEvent

	// touched only on the dispatcher goroutine
	lastSnapshot    time.Time
	lastSnapBalance float64
	snapped         bool
}

var _ engine.Hooks = (*Recorder)(nil)

// NewRecorder creates a Recorder. Account snapshots are written at most once
// per snapshotEvery unless the balance changed.
func NewRecorder(deps RecorderDeps, snapshotEvery time.Duration, logger *slog.Logger) *Recorder {
	if snapshotEvery <= 0 {
		snapshotEvery = 5 * time.Second
	}
	return &Recorder{
		deps:          deps,
		snapshotEvery: snapshotEvery,
		timeout:       5 * time.Second,
		logger:        logger.With(slog.String("component", "recorder")),
		now:           func() time.Time { return time.Now().UTC() },
		conns:         make(chan domain.ConnectionEvent, 64),
	}
}

// OnAccountChanged streams the account and snapshots it to the store.
func (r *Recorder) OnAccountChanged(st domain.AccountState) {
	ctx, cancel := r.ctx()
	defer cancel()

	r.broadcast(ChannelAccount, "account", st)
	r.publish(ctx, ChannelAccount, "account", st, false)

	if r.deps.Accounts == nil {
		return
	}
	now := r.now()
	balanceMoved := r.snapped && st.Balance != r.lastSnapBalance
	if r.snapped && !balanceMoved && now.Sub(r.lastSnapshot) < r.snapshotEvery {
		return
	}
	if err := r.deps.Accounts.Snapshot(ctx, st); err != nil {
		r.warn("account snapshot failed", err)
		return
	}
	r.snapped = true
	r.lastSnapshot = now
	r.lastSnapBalance = st.Balance
}

// OnPositionEvent persists the position and announces closes.
func (r *Recorder) OnPositionEvent(ev domain.PositionEvent) {
	ctx, cancel := r.ctx()
	defer cancel()

	if r.deps.Positions != nil {
		if err := r.deps.Positions.Upsert(ctx, ev.Position); err != nil {
			r.warn("persist position failed", err, slog.String("position_id", ev.Position.ID))
		}
	}
	r.audit(ctx, "position_"+string(ev.Type), map[string]any{
		"position_id":  ev.Position.ID,
		"symbol":       ev.Position.Symbol,
		"side":         string(ev.Position.Side),
		"volume":       ev.Volume,
		"price":        ev.Price,
		"realized_pnl": ev.RealizedPnL,
		"reason":       string(ev.Position.CloseReason),
	})
	r.broadcast(ChannelPositions, string(ev.Type), ev)
	r.publish(ctx, ChannelPositions, string(ev.Type), ev, true)

	if ev.Type == domain.PositionEventClosed {
		title, msg := notify.PositionClosed(ev)
		r.notify(ctx, notify.EventPositionClosed, title, msg)
	}
}

// OnOrderEvent persists the order.
func (r *Recorder) OnOrderEvent(ev domain.OrderEvent) {
	ctx, cancel := r.ctx()
	defer cancel()

	if r.deps.Orders != nil {
		if err := r.deps.Orders.Upsert(ctx, ev.Order); err != nil {
			r.warn("persist order failed", err, slog.String("order_id", ev.Order.ID))
		}
	}
	detail := map[string]any{
		"order_id": ev.Order.ID,
		"symbol":   ev.Order.Symbol,
		"side":     string(ev.Order.Side),
		"kind":     string(ev.Order.Kind),
		"volume":   ev.Order.Volume,
	}
	if ev.Order.RejectReason != "" {
		detail["reject_reason"] = ev.Order.RejectReason
	}
	r.audit(ctx, "order_"+string(ev.Type), detail)
	r.broadcast(ChannelOrders, string(ev.Type), ev)
	r.publish(ctx, ChannelOrders, string(ev.Type), ev, true)
}

// OnRiskAlert records and announces margin calls and stop-outs.
func (r *Recorder) OnRiskAlert(a domain.RiskAlert) {
	ctx, cancel := r.ctx()
	defer cancel()

	r.audit(ctx, string(a.Type), map[string]any{
		"margin_level": a.MarginLevel,
		"position_id":  a.PositionID,
		"equity":       a.Account.Equity,
		"used_margin":  a.Account.UsedMargin,
	})
	r.broadcast(ChannelRisk, string(a.Type), a)
	r.publish(ctx, ChannelRisk, string(a.Type), a, true)

	event, title, msg := notify.RiskAlert(a)
	r.notify(ctx, event, title, msg)
}

// OnConnectionEvent queues a feed state transition. It never blocks the
// connection goroutine that reports it.
func (r *Recorder) OnConnectionEvent(ev domain.ConnectionEvent) {
	select {
	case r.conns <- ev:
	default:
		r.logger.Warn("connection event dropped",
			slog.String("provider", ev.ProviderID),
			slog.String("state", string(ev.State)),
		)
	}
}

// Run drains queued connection events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.conns:
			r.recordConnection(ev)
		}
	}
}

type connectionPayload struct {
	ProviderID string           `json:"provider_id"`
	State      domain.ConnState `json:"state"`
	Error      string           `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}

func (r *Recorder) recordConnection(ev domain.ConnectionEvent) {
	ctx, cancel := r.ctx()
	defer cancel()

	p := connectionPayload{ProviderID: ev.ProviderID, State: ev.State, At: ev.At}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	r.broadcast(ChannelConnections, string(ev.State), p)
	r.publish(ctx, ChannelConnections, string(ev.State), p, ev.State == domain.ConnFailed)

	if ev.State != domain.ConnFailed {
		return
	}
	r.audit(ctx, notify.EventConnectionFailed, map[string]any{
		"provider": ev.ProviderID,
		"error":    p.Error,
	})
	title, msg := notify.ConnectionFailed(ev)
	r.notify(ctx, notify.EventConnectionFailed, title, msg)
}

func (r *Recorder) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Recorder) broadcast(channel, eventType string, payload any) {
	if r.deps.UI != nil {
		r.deps.UI.Broadcast(channel, eventType, payload)
	}
}

// publish sends the event on the bus channel and, when durable, appends it
// to the event stream.
func (r *Recorder) publish(ctx context.Context, channel, eventType string, payload any, durable bool) {
	if r.deps.Bus == nil {
		return
	}
	data, err := json.Marshal(Envelope{Type: eventType, Channel: channel, Payload: payload, At: r.now()})
	if err != nil {
		r.warn("marshal event failed", err, slog.String("channel", channel))
		return
	}
	if err := r.deps.Bus.Publish(ctx, channel, data); err != nil {
		r.warn("publish event failed", err, slog.String("channel", channel))
	}
	if !durable {
		return
	}
	if err := r.deps.Bus.StreamAppend(ctx, EventStream, data); err != nil {
		r.warn("append event stream failed", err, slog.String("channel", channel))
	}
}

func (r *Recorder) audit(ctx context.Context, event string, detail map[string]any) {
	if r.deps.Audit == nil {
		return
	}
	if err := r.deps.Audit.Log(ctx, event, detail); err != nil {
		r.warn("audit log failed", err, slog.String("event", event))
	}
}

func (r *Recorder) notify(ctx context.Context, event, title, msg string) {
	if !r.deps.Notifier.Enabled() {
		return
	}
	if err := r.deps.Notifier.Notify(ctx, event, title, msg); err != nil {
		r.warn("notification failed", err, slog.String("event", event))
	}
}

func (r *Recorder) warn(msg string, err error, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("error", err.Error()))
	for _, a := range attrs {
		args = append(args, a)
	}
	r.logger.Warn(msg, args...)
}
