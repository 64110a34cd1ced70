package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bybit-trader/internal/core"
	"bybit-trader/internal/engine"
)

func TestActiveOrdersRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.LoadActiveOrders()
	require.NoError(t, err)
	require.False(t, ok, "fresh dir has no snapshot")

	orders := []core.Order{{
		ID:     "oid-1",
		LinkID: "link-1",
		Symbol: "TOSHIUSDT",
		Side:   core.Buy,
		Type:   core.Limit,
		Qty:    decimal.RequireFromString("123"),
		Price:  decimal.RequireFromString("2.0001"),
		Status: core.StatusNew,
	}}
	require.NoError(t, s.SaveActiveOrders(orders))

	loaded, ok, err := s.LoadActiveOrders()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, loaded, 1)
	require.Equal(t, "oid-1", loaded[0].ID)
	require.True(t, loaded[0].Qty.Equal(orders[0].Qty))
}

func TestSaveActiveOrdersNilBecomesEmptyList(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveActiveOrders(nil))
	loaded, ok, err := s.LoadActiveOrders()
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, loaded)
	require.Empty(t, loaded)
}

func TestStopPairsRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	pairs := []engine.StopPair{{
		OrderID:   "oid-1",
		Symbol:    "TOSHIUSDT",
		Side:      core.Buy,
		StopPrice: decimal.RequireFromString("95"),
		State:     engine.PairActive,
		UpdatedAt: time.Now().UTC(),
	}}
	require.NoError(t, s.SaveStopPairs(pairs))

	loaded, ok, err := s.LoadStopPairs()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, loaded, 1)
	require.Equal(t, engine.PairActive, loaded[0].State)
	require.True(t, loaded[0].StopPrice.Equal(pairs[0].StopPrice))
}

func TestRuntimeStatusRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveRuntimeStatus(RuntimeStatus{
		Mode:   "live",
		Symbol: "TOSHIUSDT",
		PID:    os.Getpid(),
		State:  "running",
	}))
	status, ok, err := s.LoadRuntimeStatus()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "running", status.State)
	require.False(t, status.UpdatedAt.IsZero())
}

func TestLoadActiveOrdersCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "active_orders.json"), []byte("{not json"), 0o644))
	_, _, err = s.LoadActiveOrders()
	require.Error(t, err)
}
