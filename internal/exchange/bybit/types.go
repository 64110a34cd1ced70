package bybit

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"bybit-trader/internal/core"
)

// APIError is a non-success envelope from the exchange, kept alongside the
// classified kind so callers can inspect the raw code and message.
type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return "bybit api error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

// envelope is the uniform response wrapper; RetCode 0 is success.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type instrumentsResult struct {
	List []instrumentInfo `json:"list"`
}

type instrumentInfo struct {
	Symbol        string `json:"symbol"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	Status        string `json:"status"`
	LotSizeFilter struct {
		BasePrecision string `json:"basePrecision"`
		MinOrderQty   string `json:"minOrderQty"`
		MaxOrderQty   string `json:"maxOrderQty"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

type walletBalanceResult struct {
	List []struct {
		Coin []struct {
			Coin   string `json:"coin"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"coin"`
	} `json:"list"`
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderRealtimeResult struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderType   string `json:"orderType"`
		Qty         string `json:"qty"`
		Price       string `json:"price"`
		OrderStatus string `json:"orderStatus"`
	} `json:"list"`
}

func parseInstrument(src instrumentInfo) core.SymbolRule {
	rule := core.SymbolRule{
		Symbol:     src.Symbol,
		BaseAsset:  src.BaseCoin,
		QuoteAsset: src.QuoteCoin,
		MinQty:     decimal.Zero,
		MaxQty:     decimal.Zero,
		QtyStep:    decimal.Zero,
		PriceTick:  decimal.Zero,
	}
	if v, err := decimal.NewFromString(src.LotSizeFilter.MinOrderQty); err == nil {
		rule.MinQty = v
	}
	if v, err := decimal.NewFromString(src.LotSizeFilter.MaxOrderQty); err == nil {
		rule.MaxQty = v
	}
	if v, err := decimal.NewFromString(src.LotSizeFilter.BasePrecision); err == nil {
		rule.QtyStep = v
	}
	if v, err := decimal.NewFromString(src.PriceFilter.TickSize); err == nil {
		rule.PriceTick = v
	}
	return rule
}

// remote status strings differ from the local enum spelling; anything not in
// this table maps to the most conservative non-terminal state.
var statusMapping = map[string]core.OrderStatus{
	"New":             core.StatusNew,
	"PartiallyFilled": core.StatusPartiallyFilled,
	"Filled":          core.StatusFilled,
	"Cancelled":       core.StatusCanceled,
	"Canceled":        core.StatusCanceled,
	"Rejected":        core.StatusRejected,
}
