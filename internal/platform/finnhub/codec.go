// Package finnhub implements the Finnhub streaming codec and REST quote
// client.
package finnhub

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// Source is the provider id stamped on quotes.
const Source = "finnhub"

// Codec implements domain.StreamCodec for the Finnhub trade stream.
type Codec struct{}

// NewCodec returns a Finnhub codec.
func NewCodec() *Codec { return &Codec{} }

// StreamURL appends the API token to the websocket endpoint.
func StreamURL(wsURL, apiKey string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("finnhub: parse ws url: %w", err)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("token", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Codec) SubscribeFrame(symbol string) ([]byte, error) {
	return json.Marshal(Command{Type: "subscribe", Symbol: ToProvider(symbol)})
}

func (c *Codec) UnsubscribeFrame(symbol string) ([]byte, error) {
	return json.Marshal(Command{Type: "unsubscribe", Symbol: ToProvider(symbol)})
}

// HeartbeatFrame returns nil: Finnhub pings us, we keep the socket alive
// with websocket ping control frames.
func (c *Codec) HeartbeatFrame() []byte { return nil }

// Decode parses one inbound frame.
func (c *Codec) Decode(frame []byte) (domain.ProviderMessage, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return domain.ProviderMessage{}, fmt.Errorf("finnhub: decode frame: %w", err)
	}

	switch env.Type {
	case "trade":
		quotes := make([]domain.Quote, 0, len(env.Data))
		for _, t := range env.Data {
			if t.Symbol == "" || t.Price <= 0 {
				return domain.ProviderMessage{}, fmt.Errorf("finnhub: trade without symbol or price")
			}
			q := domain.Quote{
				Symbol: FromProvider(t.Symbol),
				Price:  t.Price,
				Volume: t.Volume,
				Source: Source,
			}
			if t.Timestamp > 0 {
				q.ProviderTime = time.UnixMilli(t.Timestamp).UTC()
			}
			quotes = append(quotes, q)
		}
		return domain.ProviderMessage{Kind: domain.MessageQuotes, Quotes: quotes}, nil
	case "ping":
		return domain.ProviderMessage{Kind: domain.MessageHeartbeat}, nil
	case "error":
		return domain.ProviderMessage{Kind: domain.MessageError, Detail: env.Msg}, nil
	case "":
		return domain.ProviderMessage{}, fmt.Errorf("finnhub: frame without type")
	default:
		return domain.ProviderMessage{Kind: domain.MessageIgnored, Detail: env.Type}, nil
	}
}
