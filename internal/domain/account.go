package domain

import "time"

// AccountState is the derived financial state of the paper account.
// Equity = Balance + unrealized P&L; FreeMargin = Equity - UsedMargin;
// MarginLevel = Equity / UsedMargin * 100, or 0 when no margin is used.
type AccountState struct {
	Balance       float64   `json:"balance"`
	Equity        float64   `json:"equity"`
	UsedMargin    float64   `json:"used_margin"`
	FreeMargin    float64   `json:"free_margin"`
	MarginLevel   float64   `json:"margin_level"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Currency      string    `json:"currency"`
	OpenPositions int       `json:"open_positions"`
	PendingOrders int       `json:"pending_orders"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RiskAlertType names a margin threshold crossing.
type RiskAlertType string

const (
	RiskAlertMarginCall RiskAlertType = "margin_call"
	RiskAlertStopOut    RiskAlertType = "stop_out"
)

// RiskAlert is raised when the margin level falls below a configured level.
type RiskAlert struct {
	Type        RiskAlertType `json:"type"`
	MarginLevel float64       `json:"margin_level"`
	PositionID  string        `json:"position_id,omitempty"`
	Account     AccountState  `json:"account"`
	At          time.Time     `json:"at"`
}
