package feed

import "sort"

type subOp struct {
	subscribe bool
	symbol    string
}

// subscriptions tracks what a connection should carry (desired), what has
// been sent on the current socket (active), and requests made while no
// socket was up (pending). Not safe for concurrent use; the owning
// connection serializes access.
type subscriptions struct {
	desired map[string]struct{}
	active  map[string]struct{}
	pending []subOp
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		desired: make(map[string]struct{}),
		active:  make(map[string]struct{}),
	}
}

// queue records a request to replay once connected.
func (s *subscriptions) queue(subscribe bool, symbol string) {
	s.pending = append(s.pending, subOp{subscribe: subscribe, symbol: symbol})
}

// fold applies pending requests to the desired set in arrival order, forgets
// everything sent on the previous socket, and returns the symbols to send on
// the new one, sorted.
func (s *subscriptions) fold() []string {
	for _, op := range s.pending {
		if op.subscribe {
			s.desired[op.symbol] = struct{}{}
		} else {
			delete(s.desired, op.symbol)
		}
	}
	s.pending = nil
	clear(s.active)

	out := make([]string, 0, len(s.desired))
	for sym := range s.desired {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *subscriptions) markActive(symbol string) {
	s.desired[symbol] = struct{}{}
	s.active[symbol] = struct{}{}
}

func (s *subscriptions) isActive(symbol string) bool {
	_, ok := s.active[symbol]
	return ok
}

func (s *subscriptions) remove(symbol string) {
	delete(s.desired, symbol)
	delete(s.active, symbol)
}

// clearActive is called when the socket drops.
func (s *subscriptions) clearActive() {
	clear(s.active)
}

// count returns the number of symbols the connection will carry once all
// pending requests are applied.
func (s *subscriptions) count() int {
	if len(s.pending) == 0 {
		return len(s.desired)
	}
	set := make(map[string]struct{}, len(s.desired))
	for sym := range s.desired {
		set[sym] = struct{}{}
	}
	for _, op := range s.pending {
		if op.subscribe {
			set[op.symbol] = struct{}{}
		} else {
			delete(set, op.symbol)
		}
	}
	return len(set)
}
