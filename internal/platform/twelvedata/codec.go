// Package twelvedata implements the Twelve Data streaming codec and REST
// price client.
package twelvedata

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// Source is the provider id stamped on quotes.
const Source = "twelvedata"

var heartbeatFrame = []byte(`{"action":"heartbeat"}`)

// Codec implements domain.StreamCodec for the Twelve Data price stream.
type Codec struct{}

// NewCodec returns a Twelve Data codec.
func NewCodec() *Codec { return &Codec{} }

// StreamURL appends the API key to the websocket endpoint.
func StreamURL(wsURL, apiKey string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("twelvedata: parse ws url: %w", err)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("apikey", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Codec) SubscribeFrame(symbol string) ([]byte, error) {
	return json.Marshal(Command{Action: "subscribe", Params: &Params{Symbols: symbol}})
}

func (c *Codec) UnsubscribeFrame(symbol string) ([]byte, error) {
	return json.Marshal(Command{Action: "unsubscribe", Params: &Params{Symbols: symbol}})
}

// HeartbeatFrame returns the application-level keepalive the server expects.
func (c *Codec) HeartbeatFrame() []byte { return heartbeatFrame }

// Decode parses one inbound frame.
func (c *Codec) Decode(frame []byte) (domain.ProviderMessage, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return domain.ProviderMessage{}, fmt.Errorf("twelvedata: decode frame: %w", err)
	}

	switch ev.Event {
	case "price":
		if ev.Symbol == "" || ev.Price <= 0 {
			return domain.ProviderMessage{}, fmt.Errorf("twelvedata: price event without symbol or price")
		}
		q := domain.Quote{
			Symbol: ev.Symbol,
			Price:  ev.Price,
			Bid:    ev.Bid,
			Ask:    ev.Ask,
			Volume: ev.DayVolume,
			Source: Source,
		}
		if ev.Timestamp > 0 {
			q.ProviderTime = time.Unix(ev.Timestamp, 0).UTC()
		}
		return domain.ProviderMessage{Kind: domain.MessageQuotes, Quotes: []domain.Quote{q}}, nil
	case "heartbeat":
		return domain.ProviderMessage{Kind: domain.MessageHeartbeat}, nil
	case "subscribe-status":
		if ev.Status == "error" || len(ev.Fails) > 0 {
			failed := make([]string, 0, len(ev.Fails))
			for _, f := range ev.Fails {
				failed = append(failed, f.Symbol)
			}
			return domain.ProviderMessage{Kind: domain.MessageError, Detail: "subscribe failed: " + strings.Join(failed, ",")}, nil
		}
		return domain.ProviderMessage{Kind: domain.MessageStatus, Detail: ev.Status}, nil
	case "":
		return domain.ProviderMessage{}, fmt.Errorf("twelvedata: frame without event")
	default:
		return domain.ProviderMessage{Kind: domain.MessageIgnored, Detail: ev.Event}, nil
	}
}
