package domain

import (
	"context"
	"time"
)

// MessageKind tags a decoded provider frame.
type MessageKind int

const (
	MessageIgnored MessageKind = iota
	MessageQuotes
	MessageHeartbeat
	MessageStatus
	MessageError
)

// ProviderMessage is the tagged result of decoding one inbound frame.
type ProviderMessage struct {
	Kind   MessageKind
	Quotes []Quote
	Detail string
}

// StreamCodec translates between a provider's streaming wire format and
// normalized quotes.
type StreamCodec interface {
	SubscribeFrame(symbol string) ([]byte, error)
	UnsubscribeFrame(symbol string) ([]byte, error)
	// HeartbeatFrame returns the keepalive frame to send, or nil when the
	// provider relies on websocket ping control frames.
	HeartbeatFrame() []byte
	Decode(frame []byte) (ProviderMessage, error)
}

// QuoteFetcher pulls a single quote over a provider's REST API.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}

// ConnState is the lifecycle state of a streaming provider connection.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDegraded     ConnState = "degraded"
	ConnFailed       ConnState = "failed"
)

// ConnectionInfo is a snapshot of one provider connection.
type ConnectionInfo struct {
	ProviderID       string    `json:"provider_id"`
	State            ConnState `json:"state"`
	ReconnectAttempt int       `json:"reconnect_attempt"`
	LastHeartbeatAt  time.Time `json:"last_heartbeat_at,omitempty"`
	ConnectedAt      time.Time `json:"connected_at,omitempty"`
	Symbols          int       `json:"symbols"`
	LastError        string    `json:"last_error,omitempty"`
}

// ConnectionEvent reports a connection state transition.
type ConnectionEvent struct {
	ProviderID string
	State      ConnState
	Err        error
	At         time.Time
}
