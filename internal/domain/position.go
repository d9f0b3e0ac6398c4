package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// CloseReason records why a position (or part of it) was closed.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopOut    CloseReason = "stop_out"
)

// Position is exposure created by a filled order.
type Position struct {
	ID            string         `json:"id"`
	OrderID       string         `json:"order_id"`
	Symbol        string         `json:"symbol"`
	Side          OrderSide      `json:"side"`
	Volume        float64        `json:"volume"`
	InitialVolume float64        `json:"initial_volume"`
	ContractSize  float64        `json:"contract_size"`
	OpenPrice     float64        `json:"open_price"`
	CurrentPrice  float64        `json:"current_price"`
	StopLoss      *float64       `json:"stop_loss,omitempty"`
	TakeProfit    *float64       `json:"take_profit,omitempty"`
	Margin        float64        `json:"margin"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	RealizedPnL   float64        `json:"realized_pnl"`
	Status        PositionStatus `json:"status"`
	CloseReason   CloseReason    `json:"close_reason,omitempty"`
	ClosePrice    *float64       `json:"close_price,omitempty"`
	OpenedAt      time.Time      `json:"opened_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

// PnLAt returns the P&L of volume units marked at price.
func (p Position) PnLAt(price, volume float64) float64 {
	return (price - p.OpenPrice) * p.Side.Sign() * volume * p.ContractSize
}

// CloseResult is returned by a close request.
type CloseResult struct {
	Position      Position `json:"position"`
	ClosedVolume  float64  `json:"closed_volume"`
	ClosePrice    float64  `json:"close_price"`
	RealizedPnL   float64  `json:"realized_pnl"`
	AlreadyClosed bool     `json:"already_closed"`
}

// PositionEventType names a position transition.
type PositionEventType string

const (
	PositionEventOpened        PositionEventType = "opened"
	PositionEventPartialClosed PositionEventType = "partially_closed"
	PositionEventClosed        PositionEventType = "closed"
)

// PositionEvent is emitted whenever a position is opened or (partly) closed.
type PositionEvent struct {
	Type        PositionEventType `json:"type"`
	Position    Position          `json:"position"`
	Volume      float64           `json:"volume"`
	Price       float64           `json:"price"`
	RealizedPnL float64           `json:"realized_pnl"`
	At          time.Time         `json:"at"`
}
