package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// Hooks receives engine events. Methods run on the dispatcher goroutine,
// never on the engine's critical path.
type Hooks interface {
	OnAccountChanged(domain.AccountState)
	OnPositionEvent(domain.PositionEvent)
	OnOrderEvent(domain.OrderEvent)
	OnRiskAlert(domain.RiskAlert)
}

// NopHooks implements Hooks with no-ops. Embed it to implement a subset.
type NopHooks struct{}

func (NopHooks) OnAccountChanged(domain.AccountState)  {}
func (NopHooks) OnPositionEvent(domain.PositionEvent) {}
func (NopHooks) OnOrderEvent(domain.OrderEvent)       {}
func (NopHooks) OnRiskAlert(domain.RiskAlert)         {}

// Dispatcher delivers engine events to hooks asynchronously. Order, position
// and risk events are queued in order and dropped with a warning when the
// queue is full. Account changes are coalesced: consumers always see the
// latest state but may skip intermediate ones.
type Dispatcher struct {
	logger *slog.Logger
	events chan any

	mu      sync.Mutex
	hooks   []Hooks
	account *domain.AccountState
	wake    chan struct{}
}

// NewDispatcher creates a Dispatcher with the given queue size.
func NewDispatcher(buffer int, logger *slog.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		logger: logger.With(slog.String("component", "engine-hooks")),
		events: make(chan any, buffer),
		wake:   make(chan struct{}, 1),
	}
}

// Add registers h. Hooks added after Run started receive subsequent events.
func (d *Dispatcher) Add(h Hooks) {
	d.mu.Lock()
	d.hooks = append(d.hooks, h)
	d.mu.Unlock()
}

func (d *Dispatcher) emit(ev any) {
	if st, ok := ev.(domain.AccountState); ok {
		d.mu.Lock()
		d.account = &st
		d.mu.Unlock()
		select {
		case d.wake <- struct{}{}:
		default:
		}
		return
	}

	select {
	case d.events <- ev:
	default:
		d.logger.Warn("hook queue full, dropping event", slog.String("event", fmt.Sprintf("%T", ev)))
	}
}

// Run delivers events until ctx is done, then flushes what is queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return ctx.Err()
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.wake:
			d.deliverAccount()
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		default:
			d.deliverAccount()
			return
		}
	}
}

func (d *Dispatcher) deliverAccount() {
	d.mu.Lock()
	st := d.account
	d.account = nil
	d.mu.Unlock()
	if st != nil {
		d.deliver(*st)
	}
}

func (d *Dispatcher) deliver(ev any) {
	d.mu.Lock()
	hooks := append([]Hooks(nil), d.hooks...)
	d.mu.Unlock()

	for _, h := range hooks {
		d.call(h, ev)
	}
}

func (d *Dispatcher) call(h Hooks, ev any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("hook panicked",
				slog.String("hook", fmt.Sprintf("%T", h)),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	switch e := ev.(type) {
	case domain.AccountState:
		h.OnAccountChanged(e)
	case domain.PositionEvent:
		h.OnPositionEvent(e)
	case domain.OrderEvent:
		h.OnOrderEvent(e)
	case domain.RiskAlert:
		h.OnRiskAlert(e)
	}
}
