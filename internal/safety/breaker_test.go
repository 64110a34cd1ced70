package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bybit-trader/internal/core"
)

type flakyGateway struct {
	placeErr   error
	cancelErr  error
	placeCalls int
}

func (g *flakyGateway) Name() string { return "flaky" }

func (g *flakyGateway) GetSymbolRule(context.Context, string) (core.SymbolRule, error) {
	return core.SymbolRule{}, nil
}

func (g *flakyGateway) Balances(context.Context) (map[string]core.Balance, error) {
	return nil, nil
}

func (g *flakyGateway) TickerPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (g *flakyGateway) PlaceOrder(_ context.Context, order core.Order) (core.Order, error) {
	g.placeCalls++
	return order, g.placeErr
}

func (g *flakyGateway) CancelOrder(context.Context, string, string) error {
	return g.cancelErr
}

func (g *flakyGateway) QueryOrder(context.Context, string, string) (core.Order, error) {
	return core.Order{}, nil
}

func TestBreakerTripsAfterConsecutiveTransientFailures(t *testing.T) {
	gw := &flakyGateway{placeErr: core.ErrNetwork}
	guarded := NewGuarded(gw, NewBreaker(true, 3, 3, time.Minute))

	for i := 0; i < 3; i++ {
		_, err := guarded.PlaceOrder(context.Background(), core.Order{})
		require.True(t, errors.Is(err, core.ErrNetwork))
	}

	_, err := guarded.PlaceOrder(context.Background(), core.Order{})
	require.True(t, errors.Is(err, ErrCircuitOpen), "err = %v", err)
	require.Equal(t, 3, gw.placeCalls, "open circuit must not reach the gateway")
}

func TestBreakerIgnoresCallerErrors(t *testing.T) {
	gw := &flakyGateway{placeErr: core.ErrInsufficientBalance}
	guarded := NewGuarded(gw, NewBreaker(true, 2, 2, time.Minute))

	for i := 0; i < 5; i++ {
		_, err := guarded.PlaceOrder(context.Background(), core.Order{})
		require.True(t, errors.Is(err, core.ErrInsufficientBalance))
	}
	require.Equal(t, 5, gw.placeCalls)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	gw := &flakyGateway{placeErr: core.ErrNetwork}
	guarded := NewGuarded(gw, NewBreaker(true, 3, 3, time.Minute))

	_, _ = guarded.PlaceOrder(context.Background(), core.Order{})
	_, _ = guarded.PlaceOrder(context.Background(), core.Order{})
	gw.placeErr = nil
	_, err := guarded.PlaceOrder(context.Background(), core.Order{})
	require.NoError(t, err)

	gw.placeErr = core.ErrNetwork
	_, _ = guarded.PlaceOrder(context.Background(), core.Order{})
	_, _ = guarded.PlaceOrder(context.Background(), core.Order{})
	_, err = guarded.PlaceOrder(context.Background(), core.Order{})
	require.True(t, errors.Is(err, core.ErrNetwork), "count must restart after a success")
}

func TestBreakerHalfOpenProbeRecovers(t *testing.T) {
	gw := &flakyGateway{placeErr: core.ErrNetwork}
	b := NewBreaker(true, 1, 1, time.Millisecond)
	guarded := NewGuarded(gw, b)

	_, _ = guarded.PlaceOrder(context.Background(), core.Order{})
	_, err := guarded.PlaceOrder(context.Background(), core.Order{})
	require.True(t, errors.Is(err, ErrCircuitOpen))

	time.Sleep(5 * time.Millisecond)
	gw.placeErr = nil
	_, err = guarded.PlaceOrder(context.Background(), core.Order{})
	require.NoError(t, err)

	_, err = guarded.PlaceOrder(context.Background(), core.Order{})
	require.NoError(t, err, "circuit must stay closed after a good probe")
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	gw := &flakyGateway{placeErr: core.ErrNetwork}
	b := NewBreaker(true, 1, 1, time.Millisecond)
	guarded := NewGuarded(gw, b)

	_, _ = guarded.PlaceOrder(context.Background(), core.Order{})
	time.Sleep(5 * time.Millisecond)

	_, err := guarded.PlaceOrder(context.Background(), core.Order{})
	require.True(t, errors.Is(err, core.ErrNetwork))
	_, err = guarded.PlaceOrder(context.Background(), core.Order{})
	require.True(t, errors.Is(err, ErrCircuitOpen), "failed probe must reopen immediately")
}

func TestBreakerDisabledPassesEverything(t *testing.T) {
	gw := &flakyGateway{placeErr: core.ErrNetwork}
	guarded := NewGuarded(gw, NewBreaker(false, 1, 1, time.Minute))

	for i := 0; i < 4; i++ {
		_, err := guarded.PlaceOrder(context.Background(), core.Order{})
		require.True(t, errors.Is(err, core.ErrNetwork))
	}
	require.Equal(t, 4, gw.placeCalls)
}

func TestBreakerCircuitsAreIndependent(t *testing.T) {
	gw := &flakyGateway{placeErr: core.ErrNetwork}
	guarded := NewGuarded(gw, NewBreaker(true, 1, 1, time.Minute))

	_, _ = guarded.PlaceOrder(context.Background(), core.Order{})
	_, err := guarded.PlaceOrder(context.Background(), core.Order{})
	require.True(t, errors.Is(err, ErrCircuitOpen))

	require.NoError(t, guarded.CancelOrder(context.Background(), "TOSHIUSDT", "oid-1"),
		"cancel path must stay usable while place is open")
}
