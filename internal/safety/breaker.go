package safety

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bybit-trader/internal/alert"
	"bybit-trader/internal/core"
	"bybit-trader/internal/exchange"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const defaultCooldown = 30 * time.Second

type circuit struct {
	action      string
	maxFailures int
	failures    int
	state       circuitState
	openedAt    time.Time
	openErr     error
}

// Breaker trips an action's circuit after N consecutive failures and rejects
// further calls until a cooldown passes; the first call after cooldown probes
// the action and a success closes the circuit again. Place and cancel run on
// independent circuits so a broken submit path cannot block emergency
// cancellations.
type Breaker struct {
	enabled  bool
	cooldown time.Duration

	mu     sync.Mutex
	place  circuit
	cancel circuit

	alerter alert.Alerter
}

func NewBreaker(enabled bool, maxPlaceFailures, maxCancelFailures int, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		enabled:  enabled,
		cooldown: cooldown,
		place:    circuit{action: "place", maxFailures: maxPlaceFailures, state: circuitClosed},
		cancel:   circuit{action: "cancel", maxFailures: maxCancelFailures, state: circuitClosed},
	}
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerter = alerter
}

// AllowPlace reports whether a place attempt may proceed.
func (b *Breaker) AllowPlace() error { return b.allow(&b.place) }

// AllowCancel reports whether a cancel attempt may proceed.
func (b *Breaker) AllowCancel() error { return b.allow(&b.cancel) }

// RecordPlace feeds a place outcome into its circuit.
func (b *Breaker) RecordPlace(err error) { b.record(&b.place, err) }

// RecordCancel feeds a cancel outcome into its circuit.
func (b *Breaker) RecordCancel(err error) { b.record(&b.cancel, err) }

func (b *Breaker) allow(c *circuit) error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.state != circuitOpen {
		return nil
	}
	if time.Since(c.openedAt) < b.cooldown {
		return c.openErr
	}
	c.state = circuitHalfOpen
	log.WithField("action", c.action).Info("circuit half-open, probing")
	return nil
}

func (b *Breaker) record(c *circuit, err error) {
	if b == nil || !b.enabled || c.maxFailures < 1 {
		return
	}
	b.mu.Lock()

	if err == nil {
		if c.state != circuitClosed || c.failures > 0 {
			prev := c.failures
			c.state = circuitClosed
			c.failures = 0
			c.openErr = nil
			c.openedAt = time.Time{}
			b.mu.Unlock()
			log.WithFields(log.Fields{
				"action":            c.action,
				"previous_failures": prev,
			}).Info("circuit recovered")
			return
		}
		b.mu.Unlock()
		return
	}

	// Rejection for lack of funds or bad precision is the caller's bug, not
	// venue trouble; only transport and transient failures count.
	if !core.Retryable(err) {
		b.mu.Unlock()
		return
	}

	if c.state == circuitHalfOpen {
		b.tripLocked(c, err)
		return
	}
	c.failures++
	if c.failures < c.maxFailures {
		failures := c.failures
		nearTrip := c.maxFailures > 1 && failures == c.maxFailures-1
		alerter := b.alerter
		b.mu.Unlock()
		if nearTrip {
			log.WithFields(log.Fields{
				"action":   c.action,
				"failures": failures,
				"err":      err.Error(),
			}).Warn("circuit breaker one failure from tripping")
			if alerter != nil {
				alerter.Important("circuit_breaker_near_trip", map[string]string{
					"action":   c.action,
					"failures": strconv.Itoa(failures),
					"err":      err.Error(),
				})
			}
		}
		return
	}
	b.tripLocked(c, err)
}

// tripLocked opens the circuit and releases the lock.
func (b *Breaker) tripLocked(c *circuit, cause error) {
	c.state = circuitOpen
	c.openedAt = time.Now().UTC()
	c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, cooldown=%s, last error: %v",
		ErrCircuitOpen, c.action, c.failures, b.cooldown.String(), cause)
	failures := c.failures
	alerter := b.alerter
	b.mu.Unlock()

	log.WithFields(log.Fields{
		"action":   c.action,
		"failures": failures,
		"err":      cause.Error(),
	}).Error("circuit breaker tripped")
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"action":   c.action,
			"failures": strconv.Itoa(failures),
			"err":      cause.Error(),
		})
	}
}

// Guarded wraps a gateway so order mutations flow through the breaker.
// Read-only calls pass straight through.
type Guarded struct {
	inner   exchange.Gateway
	breaker *Breaker
}

func NewGuarded(inner exchange.Gateway, breaker *Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) GetSymbolRule(ctx context.Context, symbol string) (core.SymbolRule, error) {
	return g.inner.GetSymbolRule(ctx, symbol)
}

func (g *Guarded) Balances(ctx context.Context) (map[string]core.Balance, error) {
	return g.inner.Balances(ctx)
}

func (g *Guarded) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return g.inner.TickerPrice(ctx, symbol)
}

func (g *Guarded) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	if err := g.breaker.AllowPlace(); err != nil {
		return order, err
	}
	placed, err := g.inner.PlaceOrder(ctx, order)
	g.breaker.RecordPlace(err)
	return placed, err
}

func (g *Guarded) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := g.breaker.AllowCancel(); err != nil {
		return err
	}
	err := g.inner.CancelOrder(ctx, symbol, orderID)
	g.breaker.RecordCancel(err)
	return err
}

func (g *Guarded) QueryOrder(ctx context.Context, symbol, orderID string) (core.Order, error) {
	return g.inner.QueryOrder(ctx, symbol, orderID)
}
