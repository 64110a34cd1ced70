package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"bybit-trader/internal/core"
)

// Gateway is the engine's view of the remote exchange. Every call suspends
// until response or timeout and returns errors classified into the kinds in
// internal/core.
type Gateway interface {
	Name() string
	GetSymbolRule(ctx context.Context, symbol string) (core.SymbolRule, error)
	Balances(ctx context.Context) (map[string]core.Balance, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, order core.Order) (core.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	QueryOrder(ctx context.Context, symbol, orderID string) (core.Order, error)
}

// PriceSource is the subset of Gateway the paired-order monitor needs; a
// websocket ticker feed can stand in for REST polling.
type PriceSource interface {
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
