package notify

import (
	"fmt"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// PositionClosed renders a closed-position alert.
func PositionClosed(ev domain.PositionEvent) (title, message string) {
	p := ev.Position
	title = fmt.Sprintf("Position closed: %s %s", p.Side, p.Symbol)
	message = fmt.Sprintf("id %s\nvolume %g @ %g (opened %g)\nreason %s\nrealized P&L %.2f",
		p.ID, ev.Volume, ev.Price, p.OpenPrice, p.CloseReason, p.RealizedPnL)
	return title, message
}

// RiskAlert renders a margin call or stop-out alert.
func RiskAlert(a domain.RiskAlert) (event, title, message string) {
	acct := fmt.Sprintf("margin level %.2f%%\nequity %.2f %s\nused margin %.2f",
		a.MarginLevel, a.Account.Equity, a.Account.Currency, a.Account.UsedMargin)
	switch a.Type {
	case domain.RiskAlertStopOut:
		return EventStopOut, "Stop out", fmt.Sprintf("closed position %s\n%s", a.PositionID, acct)
	default:
		return EventMarginCall, "Margin call", acct
	}
}

// ConnectionFailed renders a provider connection failure.
func ConnectionFailed(ev domain.ConnectionEvent) (title, message string) {
	title = fmt.Sprintf("Feed %s failed", ev.ProviderID)
	message = "reconnect attempts exhausted"
	if ev.Err != nil {
		message = ev.Err.Error()
	}
	return title, message
}
