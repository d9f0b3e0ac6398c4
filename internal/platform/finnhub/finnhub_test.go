package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

func TestSymbolMapping(t *testing.T) {
	assert.Equal(t, "OANDA:EUR_USD", ToProvider("EUR/USD"))
	assert.Equal(t, "AAPL", ToProvider("AAPL"))
	assert.Equal(t, "EUR/USD", FromProvider("OANDA:EUR_USD"))
	assert.Equal(t, "AAPL", FromProvider("AAPL"))
}

func TestCodecFrames(t *testing.T) {
	c := NewCodec()
	sub, err := c.SubscribeFrame("EUR/USD")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","symbol":"OANDA:EUR_USD"}`, string(sub))

	unsub, err := c.UnsubscribeFrame("EUR/USD")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"unsubscribe","symbol":"OANDA:EUR_USD"}`, string(unsub))
	assert.Nil(t, c.HeartbeatFrame())
}

func TestCodecDecode(t *testing.T) {
	c := NewCodec()
	tests := []struct {
		name    string
		frame   string
		kind    domain.MessageKind
		quotes  int
		wantErr bool
	}{
		{"trade", `{"type":"trade","data":[{"s":"OANDA:EUR_USD","p":1.085,"v":2,"t":1767614400000},{"s":"AAPL","p":190.1,"v":10,"t":1767614400000}]}`, domain.MessageQuotes, 2, false},
		{"ping", `{"type":"ping"}`, domain.MessageHeartbeat, 0, false},
		{"error", `{"type":"error","msg":"Subscribing to too many symbols"}`, domain.MessageError, 0, false},
		{"unknown type", `{"type":"news"}`, domain.MessageIgnored, 0, false},
		{"garbage", `{"type":`, 0, 0, true},
		{"no type", `{"data":[]}`, 0, 0, true},
		{"trade without price", `{"type":"trade","data":[{"s":"AAPL"}]}`, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := c.Decode([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
			assert.Len(t, msg.Quotes, tt.quotes)
		})
	}

	msg, err := c.Decode([]byte(`{"type":"trade","data":[{"s":"OANDA:EUR_USD","p":1.085,"t":1767614400000}]}`))
	require.NoError(t, err)
	q := msg.Quotes[0]
	assert.Equal(t, "EUR/USD", q.Symbol)
	assert.Equal(t, Source, q.Source)
	assert.Equal(t, time.UnixMilli(1767614400000).UTC(), q.ProviderTime)
}

func TestStreamURL(t *testing.T) {
	u, err := StreamURL("wss://ws.finnhub.io", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://ws.finnhub.io?token=abc", u)
}

func TestFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("token"))
		switch r.URL.Query().Get("symbol") {
		case "OANDA:EUR_USD":
			_, _ = w.Write([]byte(`{"c":1.0852,"h":1.09,"l":1.08,"o":1.084,"pc":1.083,"t":1767614400}`))
		case "LIMIT":
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(http.StatusTooManyRequests)
		case "DENIED":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			_, _ = w.Write([]byte(`{"c":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	ctx := context.Background()

	q, err := c.FetchQuote(ctx, "EUR/USD")
	require.NoError(t, err)
	assert.Equal(t, "EUR/USD", q.Symbol)
	assert.Equal(t, 1.0852, q.Price)
	assert.False(t, q.Timestamp.IsZero())

	_, err = c.FetchQuote(ctx, "LIMIT")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 12*time.Second, domain.RetryAfterOf(err))

	_, err = c.FetchQuote(ctx, "DENIED")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = c.FetchQuote(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
