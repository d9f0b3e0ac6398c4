package handler

import (
	"context"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// TradingEngine is the slice of the paper engine the REST layer drives.
type TradingEngine interface {
	AccountSummary() domain.AccountState
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, id string) (domain.Order, error)
	Order(id string) (domain.Order, error)
	Orders() []domain.Order
	Position(id string) (domain.Position, error)
	Positions(status domain.PositionStatus) []domain.Position
	ClosePosition(ctx context.Context, id string, volume *float64) (domain.CloseResult, error)
}
