package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwtly10/barsim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	from = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
)

type countingSource struct {
	bars  []types.Bar
	err   error
	calls int
}

func (s *countingSource) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]types.Bar(nil), s.bars...), nil
}

func sampleBars() []types.Bar {
	return []types.Bar{
		{Timestamp: from, Open: 1, High: 2, Low: 0.5, Close: 1.5, AdjOpen: 0.5, AdjHigh: 1, AdjLow: 0.25, AdjClose: 0.75, Volume: 100},
		{Timestamp: from.Add(24 * time.Hour), Open: 1.5, High: 3, Low: 1, Close: 2.5, AdjOpen: 0.75, AdjHigh: 1.5, AdjLow: 0.5, AdjClose: 1.25, Volume: 250},
	}
}

func TestCache_MissThenHit(t *testing.T) {
	src := &countingSource{bars: sampleBars()}
	c := New(src, t.TempDir(), time.Hour, false)

	first, err := c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)
	assert.FileExists(t, c.Path("QQQ", from, to))

	second, err := c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls, "second fetch served from disk")
	assert.Equal(t, sampleBars(), first)
	assert.Equal(t, sampleBars(), second)
}

func TestCache_PathLayout(t *testing.T) {
	c := New(&countingSource{}, "/data", 0, false)

	assert.Equal(t, filepath.Join("/data", "BTC-USDT_20240101T000000_to_20240103T000000.parquet"), c.Path("BTC/USDT", from, to))
	assert.Equal(t, DefaultMaxAge, c.MaxAge)
}

func TestCache_StaleFileRefetched(t *testing.T) {
	src := &countingSource{bars: sampleBars()}
	c := New(src, t.TempDir(), time.Hour, false)

	_, err := c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(c.Path("QQQ", from, to), old, old))

	_, err = c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	// Rewritten, so fresh again
	_, err = c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCache_InjectedClockAgesFile(t *testing.T) {
	src := &countingSource{bars: sampleBars()}
	c := New(src, t.TempDir(), time.Hour, false)

	_, err := c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
}

func TestCache_ForceAlwaysRefreshes(t *testing.T) {
	src := &countingSource{bars: sampleBars()}
	c := New(src, t.TempDir(), time.Hour, true)

	for i := 0; i < 3; i++ {
		_, err := c.FetchBars(context.Background(), "QQQ", from, to)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, src.calls)
}

func TestCache_EmptyResultNotCached(t *testing.T) {
	src := &countingSource{}
	c := New(src, t.TempDir(), time.Hour, false)

	bars, err := c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)

	assert.Empty(t, bars)
	assert.NoFileExists(t, c.Path("QQQ", from, to))
}

func TestCache_UpstreamErrorPropagates(t *testing.T) {
	boom := errors.New("upstream down")
	c := New(&countingSource{err: boom}, t.TempDir(), time.Hour, false)

	_, err := c.FetchBars(context.Background(), "QQQ", from, to)

	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, c.Path("QQQ", from, to))
}

func TestCache_CorruptFileRefetched(t *testing.T) {
	src := &countingSource{bars: sampleBars()}
	c := New(src, t.TempDir(), time.Hour, false)
	require.NoError(t, os.WriteFile(c.Path("QQQ", from, to), []byte("not parquet"), 0o644))

	bars, err := c.FetchBars(context.Background(), "QQQ", from, to)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, sampleBars(), bars)
}

func TestCache_DeleteOnlyTouchesSymbol(t *testing.T) {
	src := &countingSource{bars: sampleBars()}
	c := New(src, t.TempDir(), time.Hour, false)
	ctx := context.Background()

	for _, symbol := range []string{"GBP", "GBP_USD"} {
		_, err := c.FetchBars(ctx, symbol, from, to)
		require.NoError(t, err)
		_, err = c.FetchBars(ctx, symbol, from, to.Add(24*time.Hour))
		require.NoError(t, err)
	}

	require.NoError(t, c.Delete("GBP"))

	assert.NoFileExists(t, c.Path("GBP", from, to))
	assert.NoFileExists(t, c.Path("GBP", from, to.Add(24*time.Hour)))
	assert.FileExists(t, c.Path("GBP_USD", from, to))
	assert.FileExists(t, c.Path("GBP_USD", from, to.Add(24*time.Hour)))
}

func TestCache_DeleteMissingDir(t *testing.T) {
	c := New(&countingSource{}, filepath.Join(t.TempDir(), "nope"), time.Hour, false)

	assert.NoError(t, c.Delete("QQQ"))
}
