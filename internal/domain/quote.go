package domain

import (
	"context"
	"time"
)

// Quote is a normalized price tick. Bid, Ask and Volume are zero when the
// provider did not supply them.
type Quote struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	Bid          float64   `json:"bid,omitempty"`
	Ask          float64   `json:"ask,omitempty"`
	Volume       float64   `json:"volume,omitempty"`
	Timestamp    time.Time `json:"timestamp"` // local arrival time
	ProviderTime time.Time `json:"provider_time,omitempty"`
	StaleAfter   time.Time `json:"stale_after"` // Timestamp plus the hub's cache TTL
	Source       string    `json:"source"`
	Stale        bool      `json:"stale,omitempty"`
	Synthetic    bool      `json:"synthetic,omitempty"`
}

// BuyPrice is the price a buyer pays: the ask, or the last price when the
// provider sends no book.
func (q Quote) BuyPrice() float64 {
	if q.Ask > 0 {
		return q.Ask
	}
	return q.Price
}

// SellPrice is the price a seller receives: the bid, or the last price.
func (q Quote) SellPrice() float64 {
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Price
}

// Age reports how long ago the quote arrived.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// QuoteCallback receives ticks for a subscribed symbol.
type QuoteCallback func(Quote)

// Subscription is the handle returned by a market data subscribe call.
type Subscription struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

// QuoteSource is the read side of the market data hub as seen by consumers.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	Subscribe(symbol string, cb QuoteCallback) (Subscription, error)
	Unsubscribe(sub Subscription) error
}
