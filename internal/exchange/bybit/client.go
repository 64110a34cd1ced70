package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bybit-trader/internal/core"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultRecvWindow  = 5000 * time.Millisecond
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second
)

// Client executes signed requests against the exchange with bounded retry
// and uniform error classification. One Client shares a single HTTP
// connection pool across all calls; Close releases it.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow time.Duration
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
}

type Options struct {
	APIKey         string
	APISecret      string
	BaseURL        string
	RecvWindowMs   int64
	HTTPTimeoutSec int64
	MaxRetries     int
	RetryDelayMs   int64
}

func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	timeout := defaultHTTPTimeout
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	recvWindow := defaultRecvWindow
	if opts.RecvWindowMs > 0 {
		recvWindow = time.Duration(opts.RecvWindowMs) * time.Millisecond
	}
	maxRetries := defaultMaxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	}
	retryDelay := defaultRetryDelay
	if opts.RetryDelayMs > 0 {
		retryDelay = time.Duration(opts.RetryDelayMs) * time.Millisecond
	}
	return &Client{
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		recvWindow: recvWindow,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string { return "bybit" }

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) GetSymbolRule(ctx context.Context, symbol string) (core.SymbolRule, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)
	result, err := c.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params)
	if err != nil {
		return core.SymbolRule{}, err
	}
	var resp instrumentsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return core.SymbolRule{}, err
	}
	if len(resp.List) == 0 {
		return core.SymbolRule{}, fmt.Errorf("%w: %s", core.ErrUnknownSymbol, symbol)
	}
	return parseInstrument(resp.List[0]), nil
}

func (c *Client) Balances(ctx context.Context) (map[string]core.Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	result, err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params)
	if err != nil {
		return nil, err
	}
	var resp walletBalanceResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, err
	}
	balances := make(map[string]core.Balance)
	for _, account := range resp.List {
		for _, coin := range account.Coin {
			free, _ := decimal.NewFromString(coin.Free)
			locked, _ := decimal.NewFromString(coin.Locked)
			balances[coin.Coin] = core.Balance{Asset: coin.Coin, Free: free, Locked: locked}
		}
	}
	return balances, nil
}

func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)
	result, err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params)
	if err != nil {
		return decimal.Zero, err
	}
	var resp tickersResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return decimal.Zero, err
	}
	if len(resp.List) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no price data for %s", core.ErrUnknownSymbol, symbol)
	}
	price, err := decimal.NewFromString(resp.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

func (c *Client) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("orderType", string(order.Type))
	params.Set("qty", order.Qty.String())
	tif := order.TimeInForce
	if tif == "" {
		tif = core.GTC
	}
	params.Set("timeInForce", string(tif))
	if order.Price.Cmp(decimal.Zero) > 0 {
		params.Set("price", order.Price.String())
	}
	if order.StopPrice.Cmp(decimal.Zero) > 0 {
		params.Set("stopPrice", order.StopPrice.String())
	}
	if order.LinkID != "" {
		params.Set("orderLinkId", order.LinkID)
	}
	result, err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", params)
	if err != nil {
		return order, err
	}
	var resp orderCreateResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return order, err
	}
	order.ID = resp.OrderID
	order.Status = core.StatusNew
	order.CreatedAt = time.Now().UTC()
	return order, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params)
	return err
}

func (c *Client) QueryOrder(ctx context.Context, symbol, orderID string) (core.Order, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	result, err := c.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderRealtimeResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return core.Order{}, err
	}
	if len(resp.List) == 0 {
		return core.Order{}, fmt.Errorf("%w: %s", core.ErrOrderNotFound, orderID)
	}
	src := resp.List[0]
	qty, _ := decimal.NewFromString(src.Qty)
	price, _ := decimal.NewFromString(src.Price)
	return core.Order{
		ID:     src.OrderID,
		LinkID: src.OrderLinkID,
		Symbol: src.Symbol,
		Side:   core.Side(strings.ToUpper(src.Side)),
		Type:   core.OrderType(strings.ToUpper(src.OrderType)),
		Qty:    qty,
		Price:  price,
		Status: mapStatus(src.OrderStatus),
	}, nil
}

// mapStatus maps a remote status string onto the local enum. Unknown strings
// map to the most conservative non-terminal state and are logged rather than
// treated as fatal.
func mapStatus(remote string) core.OrderStatus {
	if status, ok := statusMapping[remote]; ok {
		return status
	}
	log.WithField("status", remote).Warn("unexpected order status from exchange")
	return core.StatusNew
}

// doRequest executes a signed call, retrying transport and transient
// application failures with increasing backoff. Errors whose cause cannot
// change between attempts are returned after the first attempt.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		result, err := c.doOnce(ctx, method, path, params)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !core.Retryable(err) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}
		wait := c.retryDelay * time.Duration(attempt)
		log.WithFields(log.Fields{
			"path":    path,
			"attempt": attempt,
			"wait":    wait.String(),
			"err":     err.Error(),
		}).Warn("request failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error) {
	signed := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			signed.Add(k, v)
		}
	}
	signed.Set("api_key", c.apiKey)
	signed.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		signed.Set("recv_window", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}
	// Encode sorts keys, giving the canonical string the signature covers.
	signed.Set("sign", sign(c.apiSecret, signed.Encode()))

	var (
		req *http.Request
		err error
	)
	urlStr := c.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		urlStr += "?" + signed.Encode()
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, urlStr, strings.NewReader(signed.Encode()))
	}
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet && method != http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkErr(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkErr(err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Gateways and proxies answer outages with non-JSON bodies; treat
		// them like transport failures.
		return nil, networkErr(fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if env.RetCode != 0 {
		return nil, classify(env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
