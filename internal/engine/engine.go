package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bybit-trader/internal/alert"
	"bybit-trader/internal/core"
	"bybit-trader/internal/exchange"
)

// Persister receives snapshots of the active-order set so a restart can
// reconcile against the exchange.
type Persister interface {
	SaveActiveOrders(orders []core.Order) error
}

// Engine owns the in-flight order set and drives each order through
// validation, submission and status tracking. Validation failures never
// reach the network; a failed place never leaves an order registered.
type Engine struct {
	gw      exchange.Gateway
	rules   *core.Normalizer
	ledger  *core.Ledger
	alerter alert.Alerter
	store   Persister

	mu     sync.Mutex
	active map[string]core.Order
}

func New(gw exchange.Gateway) *Engine {
	return &Engine{
		gw:     gw,
		rules:  core.NewNormalizer(),
		ledger: core.NewLedger(),
		active: make(map[string]core.Order),
	}
}

func (e *Engine) SetAlerter(alerter alert.Alerter) { e.alerter = alerter }

func (e *Engine) SetPersister(store Persister) { e.store = store }

// Rules exposes the symbol-rule cache; the Normalizer stays its sole writer.
func (e *Engine) Rules() *core.Normalizer { return e.rules }

// Ledger exposes the balance snapshot for callers sizing orders.
func (e *Engine) Ledger() *core.Ledger { return e.ledger }

// RefreshBalances replaces the ledger snapshot wholesale. The engine never
// auto-refreshes; staleness is the caller's call.
func (e *Engine) RefreshBalances(ctx context.Context) error {
	balances, err := e.gw.Balances(ctx)
	if err != nil {
		return err
	}
	e.ledger.ReplaceAll(balances)
	return nil
}

// RefreshRules fetches and caches trading rules for the given symbols.
func (e *Engine) RefreshRules(ctx context.Context, symbols ...string) error {
	for _, symbol := range symbols {
		rule, err := e.gw.GetSymbolRule(ctx, symbol)
		if err != nil {
			return err
		}
		e.rules.UpdateRule(rule)
	}
	return nil
}

func (e *Engine) ensureRule(ctx context.Context, symbol string) (core.SymbolRule, error) {
	if rule, ok := e.rules.Rule(symbol); ok {
		return rule, nil
	}
	rule, err := e.gw.GetSymbolRule(ctx, symbol)
	if err != nil {
		return core.SymbolRule{}, err
	}
	e.rules.UpdateRule(rule)
	return rule, nil
}

// Place validates, normalizes and submits an order. On success the order is
// registered in the active set under its assigned identifier.
func (e *Engine) Place(ctx context.Context, order core.Order) (string, error) {
	if order.Qty.Cmp(decimal.Zero) <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", core.ErrPrecision)
	}
	rule, err := e.ensureRule(ctx, order.Symbol)
	if err != nil {
		return "", err
	}
	refPrice, err := e.gw.TickerPrice(ctx, order.Symbol)
	if err != nil {
		return "", err
	}

	if ok, reason := e.ledger.ValidateOrder(order, rule, refPrice); !ok {
		return "", fmt.Errorf("%w: %s", core.ErrInsufficientBalance, reason)
	}

	order.Qty, err = e.rules.RoundQuantity(order.Symbol, order.Qty)
	if err != nil {
		return "", err
	}
	if order.Price.Cmp(decimal.Zero) > 0 {
		order.Price, err = e.rules.RoundPrice(order.Symbol, order.Price)
		if err != nil {
			return "", err
		}
	}
	// Final gate after rounding, in case the cached rule changed upstream.
	if !e.rules.ValidateQuantity(order.Symbol, order.Qty) {
		return "", fmt.Errorf("%w: quantity %s violates step/min/max for %s",
			core.ErrPrecision, order.Qty.String(), order.Symbol)
	}

	if order.LinkID == "" {
		order.LinkID = uuid.NewString()
	}
	if order.TimeInForce == "" {
		order.TimeInForce = core.GTC
	}

	placed, err := e.gw.PlaceOrder(ctx, order)
	if err != nil {
		e.alertImportant("order_place_failed", map[string]string{
			"symbol": order.Symbol,
			"side":   string(order.Side),
			"qty":    order.Qty.String(),
			"err":    err.Error(),
		})
		return "", err
	}
	placed.Status = core.StatusNew

	e.mu.Lock()
	e.active[placed.ID] = placed
	e.mu.Unlock()
	e.persistActive()

	log.WithFields(log.Fields{
		"order_id": placed.ID,
		"symbol":   placed.Symbol,
		"side":     placed.Side,
		"type":     placed.Type,
		"qty":      placed.Qty.String(),
		"price":    placed.Price.String(),
	}).Info("order placed")
	return placed.ID, nil
}

// Cancel submits a cancellation. Unknown orders, locally or server-side,
// count as already terminal: cancel is idempotent.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	order, ok := e.active[orderID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if err := e.gw.CancelOrder(ctx, order.Symbol, orderID); err != nil {
		if !errors.Is(err, core.ErrOrderNotFound) {
			return err
		}
		log.WithField("order_id", orderID).Debug("cancel of unknown order treated as terminal")
	}
	e.remove(orderID)
	log.WithFields(log.Fields{
		"order_id": orderID,
		"symbol":   order.Symbol,
	}).Info("order canceled")
	return nil
}

// QueryStatus fetches the remote status and advances the local copy,
// forward only. Terminal statuses evict the order from the active set.
func (e *Engine) QueryStatus(ctx context.Context, orderID string) (core.OrderStatus, error) {
	e.mu.Lock()
	order, ok := e.active[orderID]
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrOrderNotFound, orderID)
	}
	remote, err := e.gw.QueryOrder(ctx, order.Symbol, orderID)
	if err != nil {
		return "", err
	}
	next := remote.Status

	e.mu.Lock()
	current, ok := e.active[orderID]
	if !ok {
		e.mu.Unlock()
		return next, nil
	}
	if !current.Status.CanTransition(next) {
		log.WithFields(log.Fields{
			"order_id": orderID,
			"from":     current.Status,
			"to":       next,
		}).Warn("ignoring non-monotonic status transition")
		next = current.Status
		e.mu.Unlock()
		return next, nil
	}
	current.Status = next
	e.active[orderID] = current
	e.mu.Unlock()

	if next.IsTerminal() {
		e.remove(orderID)
	}
	return next, nil
}

// Restore seeds the active set from a persisted snapshot, skipping orders
// that already reached a terminal state. Callers should follow up with
// QueryStatus per order to reconcile against the exchange.
func (e *Engine) Restore(orders []core.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, order := range orders {
		if order.ID == "" || order.Status.IsTerminal() {
			continue
		}
		e.active[order.ID] = order
	}
}

// ActiveOrder returns the tracked copy of an in-flight order.
func (e *Engine) ActiveOrder(orderID string) (core.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.active[orderID]
	return order, ok
}

// ActiveOrders returns a snapshot of the in-flight set.
func (e *Engine) ActiveOrders() []core.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	orders := make([]core.Order, 0, len(e.active))
	for _, order := range e.active {
		orders = append(orders, order)
	}
	return orders
}

func (e *Engine) remove(orderID string) {
	e.mu.Lock()
	delete(e.active, orderID)
	e.mu.Unlock()
	e.persistActive()
}

func (e *Engine) persistActive() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveActiveOrders(e.ActiveOrders()); err != nil {
		log.WithField("err", err.Error()).Warn("active orders snapshot write failed")
	}
}

func (e *Engine) alertImportant(event string, fields map[string]string) {
	if e.alerter == nil {
		return
	}
	e.alerter.Important(event, fields)
}
