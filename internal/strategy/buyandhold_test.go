package strategy

import (
	"testing"
	"time"

	"github.com/jwtly10/barsim/internal/backtest"
	"github.com/jwtly10/barsim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatSeries(symbol string, price float64, n int) *types.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{Timestamp: start.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, AdjClose: price / 2}
	}
	return types.NewSeries(symbol, types.Base, bars)
}

func newEngine(t *testing.T, cfg backtest.Config) *backtest.Engine {
	t.Helper()
	ds := types.Dataset{}
	ds.Put(flatSeries("QQQ", 100, 3))
	ds.Put(flatSeries("TQQQ", 50, 3))
	e, err := backtest.NewEngine(ds, cfg)
	require.NoError(t, err)
	return e
}

func TestBuyAndHold_WholeUnitsEqualWeight(t *testing.T) {
	e := newEngine(t, backtest.Config{InitialCash: 1000})

	results, err := e.Run(NewBuyAndHold(nil, types.Close, 0))
	require.NoError(t, err)

	snap := e.Snapshot()
	assert.Equal(t, 0.0, snap.Cash)
	assert.Equal(t, 5.0, snap.Positions["QQQ"])
	assert.Equal(t, 10.0, snap.Positions["TQQQ"])
	assert.Len(t, results.Fills, 2, "buys only on the first bar")
	assert.Equal(t, 1000.0, results.FinalValue)
}

func TestBuyAndHold_FractionalWithFees(t *testing.T) {
	e := newEngine(t, backtest.Config{InitialCash: 1000, BuyFeeRate: 0.01})

	results, err := e.Run(NewBuyAndHold(nil, types.Close, DefaultPrecision))
	require.NoError(t, err)

	snap := e.Snapshot()
	assert.GreaterOrEqual(t, snap.Cash, 0.0)
	assert.Less(t, snap.Cash, 0.01)
	assert.InDelta(t, 500.0/101, snap.Positions["QQQ"], 1e-7)
	assert.Greater(t, snap.Positions["TQQQ"], 9.9)
	assert.InDelta(t, 1000.0/101, snap.FeesPaid, 1e-5)
	assert.Len(t, results.Fills, 2)
}

func TestBuyAndHold_SubsetAndAdjustedField(t *testing.T) {
	e := newEngine(t, backtest.Config{InitialCash: 100})

	_, err := e.Run(NewBuyAndHold([]string{"QQQ"}, types.AdjClose, 0))
	require.NoError(t, err)

	snap := e.Snapshot()
	assert.Equal(t, 2.0, snap.Positions["QQQ"])
	assert.NotContains(t, snap.Positions, "TQQQ")
}

func TestBuyAndHold_TooLittleCashBuysNothing(t *testing.T) {
	e := newEngine(t, backtest.Config{InitialCash: 10})

	results, err := e.Run(NewBuyAndHold(nil, types.Close, 0))
	require.NoError(t, err)

	assert.Empty(t, results.Fills)
	assert.Equal(t, 10.0, e.Snapshot().Cash)
}

func TestBuyAndHold_UnknownSymbolFails(t *testing.T) {
	e := newEngine(t, backtest.Config{InitialCash: 100})

	_, err := e.Run(NewBuyAndHold([]string{"SPY"}, types.Close, 0))

	assert.ErrorIs(t, err, backtest.ErrUnknownSymbol)
}

func TestAffordableQuantity(t *testing.T) {
	e := newEngine(t, backtest.Config{BuyFeeRate: 0.25})
	b := NewBase(nil, "", 2)

	qty, err := b.AffordableQuantity(e, "QQQ", 1000)
	require.NoError(t, err)
	assert.Equal(t, 8.0, qty)

	qty, err = b.AffordableQuantity(e, "TQQQ", 100)
	require.NoError(t, err)
	assert.Equal(t, 1.6, qty)

	qty, err = b.AffordableQuantity(e, "QQQ", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, qty)
}
