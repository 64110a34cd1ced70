package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBalanceTotal(t *testing.T) {
	b := Balance{
		Asset:  "USDT",
		Free:   decimal.RequireFromString("70"),
		Locked: decimal.RequireFromString("30"),
	}
	require.True(t, b.Total().Equal(decimal.RequireFromString("100")))
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{StatusNew, StatusPartiallyFilled, true},
		{StatusNew, StatusFilled, true},
		{StatusNew, StatusCanceled, true},
		{StatusNew, StatusRejected, true},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusCanceled, true},
		{StatusPartiallyFilled, StatusNew, false},
		{StatusPartiallyFilled, StatusRejected, false},
		{StatusFilled, StatusCanceled, false},
		{StatusCanceled, StatusNew, false},
		{StatusRejected, StatusFilled, false},
		{StatusFilled, StatusFilled, true},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.False(t, StatusNew.IsTerminal())
	require.False(t, StatusPartiallyFilled.IsTerminal())
	require.True(t, StatusFilled.IsTerminal())
	require.True(t, StatusCanceled.IsTerminal())
	require.True(t, StatusRejected.IsTerminal())
}
