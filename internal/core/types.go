package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

type TimeInForce string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

const (
	Market    OrderType = "MARKET"
	Limit     OrderType = "LIMIT"
	StopLimit OrderType = "STOP_LIMIT"
)

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
)

// Order is a caller's trade intent. The engine rounds Qty/Price in place
// before submission and assigns ID once the exchange accepts it.
type Order struct {
	ID          string
	LinkID      string
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce TimeInForce
	Status      OrderStatus
	CreatedAt   time.Time
}

// SymbolRule is per-pair trading metadata. Immutable once fetched; the
// Normalizer is the sole writer of the cached copy.
type SymbolRule struct {
	Symbol     string          `json:"symbol"`
	BaseAsset  string          `json:"base_asset"`
	QuoteAsset string          `json:"quote_asset"`
	MinQty     decimal.Decimal `json:"min_qty"`
	MaxQty     decimal.Decimal `json:"max_qty"`
	QtyStep    decimal.Decimal `json:"qty_step"`
	PriceTick  decimal.Decimal `json:"price_tick"`
}

type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// IsTerminal reports whether no further status transition can occur.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next keeps the order
// lifecycle monotonic. Self transitions are allowed so repeated status
// polls are no-ops.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusNew:
		switch next {
		case StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected:
			return true
		}
	case StatusPartiallyFilled:
		switch next {
		case StatusFilled, StatusCanceled:
			return true
		}
	}
	return false
}
