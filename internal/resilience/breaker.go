// Package resilience provides the retry, backoff and circuit breaker
// primitives wrapped around every outbound provider call.
package resilience

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing, reject calls
	StateHalfOpen              // one trial call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakerConfig holds the thresholds shared by every breaker in a registry.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerConfig returns five failures and a five minute cool-down.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         5 * time.Minute,
	}
}

// BreakerSnapshot is a read-only view of a breaker for reporting.
type BreakerSnapshot struct {
	ServiceID    string     `json:"service_id"`
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

// Breaker isolates one downstream service. While Open it rejects calls until
// the cool-down elapses, then admits exactly one trial call.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
	// gen advances on every state change. Outcomes reported under an older
	// generation are ignored.
	gen uint64
}

// Ticket identifies the breaker generation a call was admitted under.
type Ticket struct {
	gen uint64
}

func newBreaker(name string, cfg BreakerConfig, now func() time.Time, logger *slog.Logger) *Breaker {
	return &Breaker{name: name, cfg: cfg, now: now, logger: logger}
}

// Allow returns a ticket when a call may proceed. Callers that are admitted
// must report the outcome through RecordSuccess, RecordFailure or Release
// with that ticket.
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return Ticket{gen: b.gen}, nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.Cooldown {
			return Ticket{}, b.openError(b.cfg.Cooldown - elapsed)
		}
		b.setState(StateHalfOpen)
		b.trial = true
		b.logger.Info("circuit half-open, admitting trial call", slog.String("service", b.name))
		return Ticket{gen: b.gen}, nil
	case StateHalfOpen:
		if b.trial {
			return Ticket{}, b.openError(0)
		}
		b.trial = true
		return Ticket{gen: b.gen}, nil
	}
	return Ticket{}, b.openError(0)
}

// RecordSuccess closes the breaker and resets the failure count. A success
// admitted before the last state change is ignored.
func (b *Breaker) RecordSuccess(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		return
	}
	b.failures = 0
	b.trial = false
	if b.state != StateClosed {
		b.setState(StateClosed)
		b.logger.Info("circuit closed", slog.String("service", b.name))
	}
}

// RecordFailure counts a failure, opening the breaker at the threshold or
// immediately when the half-open trial fails. A failure admitted before the
// last state change is ignored.
func (b *Breaker) RecordFailure(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		return
	}
	b.failures++
	b.trial = false
	switch b.state {
	case StateHalfOpen:
		b.open()
		b.logger.Warn("circuit re-opened, trial call failed", slog.String("service", b.name))
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
			b.logger.Warn("circuit opened",
				slog.String("service", b.name),
				slog.Int("failures", b.failures),
			)
		}
	}
}

// Release gives back an admitted call whose outcome says nothing about the
// service's health, e.g. a cancelled context.
func (b *Breaker) Release(t Ticket) {
	b.mu.Lock()
	if t.gen == b.gen {
		b.trial = false
	}
	b.mu.Unlock()
}

// Snapshot returns the current view of the breaker.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerSnapshot{ServiceID: b.name, State: b.state, FailureCount: b.failures}
	if b.state != StateClosed {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}

func (b *Breaker) open() {
	b.setState(StateOpen)
	b.openedAt = b.now()
}

func (b *Breaker) setState(s State) {
	b.state = s
	b.gen++
}

func (b *Breaker) openError(retryAfter time.Duration) error {
	return &domain.Error{
		Kind:       domain.KindCircuitOpen,
		Op:         "breaker " + b.name,
		Msg:        fmt.Sprintf("circuit open after %d failures", b.failures),
		RetryAfter: retryAfter,
	}
}

// Breakers is the registry of breakers keyed by service id. Breakers are
// created on first use and never removed.
type Breakers struct {
	cfg    BreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig, logger *slog.Logger) *Breakers {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breakers{
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "breaker")),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for serviceID, creating it if necessary.
func (r *Breakers) Get(serviceID string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[serviceID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[serviceID]; ok {
		return b
	}
	b = newBreaker(serviceID, r.cfg, r.now, r.logger)
	r.breakers[serviceID] = b
	return b
}

// Snapshots returns every breaker's state ordered by service id.
func (r *Breakers) Snapshots() []BreakerSnapshot {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make([]BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}
