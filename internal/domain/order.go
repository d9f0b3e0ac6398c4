package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Sign is +1 for buys and -1 for sells; P&L is (exit-entry)*Sign.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderKind selects the execution policy.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
	OrderKindStop   OrderKind = "stop"
)

// Valid reports whether k is a known kind.
func (k OrderKind) Valid() bool {
	switch k {
	case OrderKindMarket, OrderKindLimit, OrderKindStop:
		return true
	}
	return false
}

// OrderStatus tracks the order lifecycle. Pending is the only non-terminal
// status.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// Order is a paper trading order.
type Order struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Side         OrderSide   `json:"side"`
	Kind         OrderKind   `json:"kind"`
	Volume       float64     `json:"volume"`
	Price        float64     `json:"price,omitempty"` // limit or stop trigger price
	StopLoss     *float64    `json:"stop_loss,omitempty"`
	TakeProfit   *float64    `json:"take_profit,omitempty"`
	Status       OrderStatus `json:"status"`
	FillPrice    float64     `json:"fill_price,omitempty"`
	PositionID   string      `json:"position_id,omitempty"`
	RejectReason string      `json:"reject_reason,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	FilledAt     *time.Time  `json:"filled_at,omitempty"`
}

// OrderRequest is the caller's intent to trade.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Kind       OrderKind `json:"kind"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
}

// OrderResult is returned by order placement. Position is set when the order
// filled immediately.
type OrderResult struct {
	Order    Order     `json:"order"`
	Position *Position `json:"position,omitempty"`
}

// OrderEventType names an order lifecycle transition.
type OrderEventType string

const (
	OrderEventPlaced    OrderEventType = "placed"
	OrderEventFilled    OrderEventType = "filled"
	OrderEventRejected  OrderEventType = "rejected"
	OrderEventCancelled OrderEventType = "cancelled"
)

// OrderEvent is emitted on every order transition.
type OrderEvent struct {
	Type  OrderEventType `json:"type"`
	Order Order          `json:"order"`
	At    time.Time      `json:"at"`
}
