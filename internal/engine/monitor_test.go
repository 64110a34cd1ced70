package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bybit-trader/internal/core"
)

type scriptedPrices struct {
	mu    sync.Mutex
	ticks []string // decimal string, or "err" for a failed fetch
	calls int
}

func (s *scriptedPrices) TickerPrice(context.Context, string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.ticks) {
		i = len(s.ticks) - 1
	}
	s.calls++
	if s.ticks[i] == "err" {
		return decimal.Zero, errors.New("feed down")
	}
	return decimal.RequireFromString(s.ticks[i]), nil
}

func seedActive(e *Engine, orderID, symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[orderID] = core.Order{
		ID:     orderID,
		Symbol: symbol,
		Side:   core.Buy,
		Type:   core.Limit,
		Status: core.StatusNew,
	}
}

func pairByID(t *testing.T, m *Monitor, orderID string) StopPair {
	t.Helper()
	for _, p := range m.Pairs() {
		if p.OrderID == orderID {
			return p
		}
	}
	t.Fatalf("pair %s not tracked", orderID)
	return StopPair{}
}

func TestMonitorCancelsOnFirstCross(t *testing.T) {
	gw := toshiGateway()
	e := New(gw)
	seedActive(e, "oid-1", "TOSHIUSDT")

	prices := &scriptedPrices{ticks: []string{"100", "97", "94"}}
	m := NewMonitor(e, prices, time.Second)
	m.Track("oid-1", "TOSHIUSDT", core.Buy, decimal.RequireFromString("95"))

	ctx := context.Background()
	m.checkOnce(ctx)
	m.checkOnce(ctx)
	require.Equal(t, 0, gw.cancelCalls, "no cancel while price holds above the stop")

	m.checkOnce(ctx)
	require.Equal(t, []string{"oid-1"}, gw.canceled)
	require.Equal(t, PairTriggered, pairByID(t, m, "oid-1").State)
}

func TestMonitorNeverTriggersTwice(t *testing.T) {
	gw := toshiGateway()
	e := New(gw)
	seedActive(e, "oid-1", "TOSHIUSDT")

	prices := &scriptedPrices{ticks: []string{"90"}}
	m := NewMonitor(e, prices, time.Second)
	m.Track("oid-1", "TOSHIUSDT", core.Buy, decimal.RequireFromString("95"))

	ctx := context.Background()
	m.checkOnce(ctx)
	m.checkOnce(ctx)
	m.checkOnce(ctx)
	require.Equal(t, 1, gw.cancelCalls)
}

func TestMonitorRetracksAfterTriggerIgnored(t *testing.T) {
	gw := toshiGateway()
	e := New(gw)
	seedActive(e, "oid-1", "TOSHIUSDT")

	prices := &scriptedPrices{ticks: []string{"90"}}
	m := NewMonitor(e, prices, time.Second)
	m.Track("oid-1", "TOSHIUSDT", core.Buy, decimal.RequireFromString("95"))
	m.checkOnce(context.Background())
	require.Equal(t, 1, gw.cancelCalls)

	// Re-tracking a fired pair must not arm it again.
	m.Track("oid-1", "TOSHIUSDT", core.Buy, decimal.RequireFromString("95"))
	m.checkOnce(context.Background())
	require.Equal(t, 1, gw.cancelCalls)
	require.Equal(t, PairTriggered, pairByID(t, m, "oid-1").State)
}

func TestMonitorClosesWhenPrimaryGone(t *testing.T) {
	gw := toshiGateway()
	e := New(gw)
	// Order was never registered: it filled or was cancelled elsewhere.

	prices := &scriptedPrices{ticks: []string{"90"}}
	m := NewMonitor(e, prices, time.Second)
	m.Track("oid-1", "TOSHIUSDT", core.Buy, decimal.RequireFromString("95"))
	m.checkOnce(context.Background())

	require.Equal(t, 0, gw.cancelCalls)
	require.Equal(t, 0, prices.calls, "a dead pair should not cost a price fetch")
	require.Equal(t, PairClosed, pairByID(t, m, "oid-1").State)
}

func TestMonitorSurvivesPriceFetchFailures(t *testing.T) {
	gw := toshiGateway()
	e := New(gw)
	seedActive(e, "oid-1", "TOSHIUSDT")

	prices := &scriptedPrices{ticks: []string{"err", "94"}}
	m := NewMonitor(e, prices, time.Second)
	m.Track("oid-1", "TOSHIUSDT", core.Buy, decimal.RequireFromString("95"))

	ctx := context.Background()
	m.checkOnce(ctx)
	require.Equal(t, 0, gw.cancelCalls)
	require.Equal(t, PairActive, pairByID(t, m, "oid-1").State)

	m.checkOnce(ctx)
	require.Equal(t, 1, gw.cancelCalls)
}

func TestMonitorSellSideTriggersOnRise(t *testing.T) {
	gw := toshiGateway()
	e := New(gw)
	seedActive(e, "oid-1", "TOSHIUSDT")

	prices := &scriptedPrices{ticks: []string{"104", "105"}}
	m := NewMonitor(e, prices, time.Second)
	m.Track("oid-1", "TOSHIUSDT", core.Sell, decimal.RequireFromString("105"))

	ctx := context.Background()
	m.checkOnce(ctx)
	require.Equal(t, 0, gw.cancelCalls)
	m.checkOnce(ctx)
	require.Equal(t, 1, gw.cancelCalls, "touching the stop exactly must trigger")
}

func TestCrossedBoundaries(t *testing.T) {
	tests := []struct {
		side  core.Side
		price string
		stop  string
		want  bool
	}{
		{core.Buy, "94", "95", true},
		{core.Buy, "95", "95", true},
		{core.Buy, "96", "95", false},
		{core.Sell, "106", "105", true},
		{core.Sell, "105", "105", true},
		{core.Sell, "104", "105", false},
	}
	for _, tc := range tests {
		got := crossed(tc.side, decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.stop))
		require.Equal(t, tc.want, got, "%s price=%s stop=%s", tc.side, tc.price, tc.stop)
	}
}

func TestMonitorStartStop(t *testing.T) {
	gw := toshiGateway()
	e := New(gw)
	seedActive(e, "oid-1", "TOSHIUSDT")

	prices := &scriptedPrices{ticks: []string{"90"}}
	m := NewMonitor(e, prices, 5*time.Millisecond)
	m.Track("oid-1", "TOSHIUSDT", core.Buy, decimal.RequireFromString("95"))

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.cancelCalls == 1
	}, time.Second, 5*time.Millisecond)
	m.Stop()
}
