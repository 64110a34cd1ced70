package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bybit-trader/internal/alert"
	"bybit-trader/internal/core"
	"bybit-trader/internal/exchange"
)

type PairState string

const (
	PairActive    PairState = "ACTIVE"
	PairTriggered PairState = "TRIGGERED"
	PairClosed    PairState = "CLOSED"
)

const defaultPollInterval = time.Second

// StopPair is a synthetic stop leg attached to a resting primary order, for
// venues without a native paired order type. Polling trades latency, bounded
// by the interval, for simplicity.
type StopPair struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      core.Side       `json:"side"`
	StopPrice decimal.Decimal `json:"stop_price"`
	State     PairState       `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Monitor watches the reference price for tracked stop pairs and cancels the
// primary leg when the stop boundary is crossed. It runs as one cancellable
// task; Stop waits for the poll loop to exit.
type Monitor struct {
	engine   *Engine
	prices   exchange.PriceSource
	interval time.Duration
	alerter  alert.Alerter

	mu    sync.Mutex
	pairs map[string]*StopPair

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewMonitor(engine *Engine, prices exchange.PriceSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Monitor{
		engine:   engine,
		prices:   prices,
		interval: interval,
		pairs:    make(map[string]*StopPair),
	}
}

func (m *Monitor) SetAlerter(alerter alert.Alerter) { m.alerter = alerter }

// Track registers a stop condition for an order already in the active set.
// Re-tracking an order that has already triggered or closed is a no-op so a
// pair can never fire twice.
func (m *Monitor) Track(orderID, symbol string, side core.Side, stopPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pairs[orderID]; ok && existing.State != PairActive {
		return
	}
	m.pairs[orderID] = &StopPair{
		OrderID:   orderID,
		Symbol:    symbol,
		Side:      side,
		StopPrice: stopPrice,
		State:     PairActive,
		UpdatedAt: time.Now().UTC(),
	}
}

// Restore seeds tracked pairs from a persisted snapshot. Pair states carry
// over as saved, so a pair that already triggered stays disarmed.
func (m *Monitor) Restore(pairs []StopPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pair := range pairs {
		if pair.OrderID == "" {
			continue
		}
		p := pair
		m.pairs[p.OrderID] = &p
	}
}

// Untrack removes a stop condition without cancelling anything.
func (m *Monitor) Untrack(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pairs, orderID)
}

// Pairs returns a snapshot of tracked pairs.
func (m *Monitor) Pairs() []StopPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	pairs := make([]StopPair, 0, len(m.pairs))
	for _, p := range m.pairs {
		pairs = append(pairs, *p)
	}
	return pairs
}

// Start launches the poll loop. The loop holds its own lifetime: cancelling
// ctx or calling Stop ends it without leaking the goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.started = true
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to terminate.
func (m *Monitor) Stop() {
	if !m.started {
		return
	}
	m.cancel()
	<-m.done
	m.started = false
}

func (m *Monitor) checkOnce(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]StopPair, 0, len(m.pairs))
	for _, p := range m.pairs {
		if p.State == PairActive {
			snapshot = append(snapshot, *p)
		}
	}
	m.mu.Unlock()

	priceCache := make(map[string]decimal.Decimal, 1)
	for _, pair := range snapshot {
		// Primary leg reached a terminal state on its own: stop tracking
		// without issuing a cancellation.
		if _, ok := m.engine.ActiveOrder(pair.OrderID); !ok {
			m.close(pair.OrderID)
			continue
		}

		price, ok := priceCache[pair.Symbol]
		if !ok {
			var err error
			price, err = m.prices.TickerPrice(ctx, pair.Symbol)
			if err != nil {
				log.WithFields(log.Fields{
					"symbol": pair.Symbol,
					"err":    err.Error(),
				}).Warn("stop monitor price fetch failed")
				continue
			}
			priceCache[pair.Symbol] = price
		}

		if !crossed(pair.Side, price, pair.StopPrice) {
			continue
		}
		if !m.trigger(pair.OrderID) {
			continue
		}
		log.WithFields(log.Fields{
			"order_id": pair.OrderID,
			"symbol":   pair.Symbol,
			"price":    price.String(),
			"stop":     pair.StopPrice.String(),
		}).Info("stop condition met, cancelling primary leg")
		if err := m.engine.Cancel(ctx, pair.OrderID); err != nil {
			log.WithFields(log.Fields{
				"order_id": pair.OrderID,
				"err":      err.Error(),
			}).Error("stop-triggered cancel failed")
		}
		m.alertImportant("stop_triggered", map[string]string{
			"order_id": pair.OrderID,
			"symbol":   pair.Symbol,
			"price":    price.String(),
			"stop":     pair.StopPrice.String(),
		})
	}
}

// crossed reports whether price has moved through the stop boundary in the
// unfavorable direction: a buy leg exits on a drop, a sell leg on a rise.
func crossed(side core.Side, price, stop decimal.Decimal) bool {
	if side == core.Buy {
		return price.Cmp(stop) <= 0
	}
	return price.Cmp(stop) >= 0
}

// trigger flips a pair to TRIGGERED exactly once.
func (m *Monitor) trigger(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, ok := m.pairs[orderID]
	if !ok || pair.State != PairActive {
		return false
	}
	pair.State = PairTriggered
	pair.UpdatedAt = time.Now().UTC()
	return true
}

func (m *Monitor) close(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, ok := m.pairs[orderID]
	if !ok || pair.State != PairActive {
		return
	}
	pair.State = PairClosed
	pair.UpdatedAt = time.Now().UTC()
}

func (m *Monitor) alertImportant(event string, fields map[string]string) {
	if m.alerter == nil {
		return
	}
	m.alerter.Important(event, fields)
}
