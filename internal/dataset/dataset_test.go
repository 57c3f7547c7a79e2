package dataset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jwtly10/barsim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func bars(days ...int) []types.Bar {
	out := make([]types.Bar, len(days))
	for i, d := range days {
		p := float64(d)
		out[i] = types.Bar{Timestamp: day(d), Open: p, High: p, Low: p, Close: p, AdjClose: p, Volume: 1}
	}
	return out
}

type fakeSource struct {
	mu       sync.Mutex
	data     map[string][]types.Bar
	errs     map[string]error
	calls    []string
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (f *fakeSource) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.inFlight++
	f.maxSeen = max(f.maxSeen, f.inFlight)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return append([]types.Bar(nil), f.data[symbol]...), nil
}

func TestBuild_AggregatesAndAligns(t *testing.T) {
	src := &fakeSource{data: map[string][]types.Bar{
		"QQQ":  bars(1, 2, 3, 4, 5),
		"TQQQ": bars(2, 3, 4, 5, 6),
	}}
	b := &Builder{Source: src, Resolutions: []types.Resolution{types.Base, 2}}

	ds, err := b.Build(context.Background(), []string{"QQQ", "TQQQ"}, day(1), day(6))
	require.NoError(t, err)

	// 2-bar windows end on days 2-5 and 3-6, the common days are 3, 4, 5
	for _, symbol := range []string{"QQQ", "TQQQ"} {
		for _, r := range []types.Resolution{types.Base, 2} {
			s := ds.Get(symbol, r)
			require.NotNil(t, s, "%s %s", symbol, r)
			require.Equal(t, 3, s.Len(), "%s %s", symbol, r)
			assert.Equal(t, day(3), s.Bars[0].Timestamp)
			assert.Equal(t, day(5), s.Bars[2].Timestamp)
		}
	}

	agg := ds.Get("QQQ", 2)
	assert.Equal(t, 2.0, agg.Bars[0].Open)
	assert.Equal(t, 3.0, agg.Bars[0].Close)
	assert.Equal(t, 2.0, agg.Bars[0].Volume)
}

func TestBuild_EmptySymbols(t *testing.T) {
	src := &fakeSource{}
	b := &Builder{Source: src}

	ds, err := b.Build(context.Background(), nil, day(1), day(2))

	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.Empty(t, src.calls)
}

func TestBuild_SortsSourceBars(t *testing.T) {
	src := &fakeSource{data: map[string][]types.Bar{"QQQ": bars(3, 1, 2)}}
	b := &Builder{Source: src}

	ds, err := b.Build(context.Background(), []string{"QQQ"}, day(1), day(3))
	require.NoError(t, err)

	base := ds.Get("QQQ", types.Base)
	require.Equal(t, 3, base.Len())
	assert.Equal(t, []time.Time{day(1), day(2), day(3)}, []time.Time{base.Bars[0].Timestamp, base.Bars[1].Timestamp, base.Bars[2].Timestamp})
}

func TestBuild_SourceErrorNamesSymbol(t *testing.T) {
	boom := errors.New("rate limited")
	src := &fakeSource{
		data: map[string][]types.Bar{"QQQ": bars(1, 2)},
		errs: map[string]error{"TQQQ": boom},
	}
	b := &Builder{Source: src}

	_, err := b.Build(context.Background(), []string{"QQQ", "TQQQ"}, day(1), day(2))

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "TQQQ")
}

func TestBuild_RejectsZeroResolution(t *testing.T) {
	b := &Builder{Source: &fakeSource{}, Resolutions: []types.Resolution{0}}

	_, err := b.Build(context.Background(), []string{"QQQ"}, day(1), day(2))

	assert.Error(t, err)
}

func TestBuild_LimitsConcurrentFetches(t *testing.T) {
	src := &fakeSource{data: map[string][]types.Bar{}, delay: 20 * time.Millisecond}
	symbols := []string{"A", "B", "C", "D", "E", "F"}
	for _, s := range symbols {
		src.data[s] = bars(1, 2)
	}
	b := &Builder{Source: src, Workers: 2}

	ds, err := b.Build(context.Background(), symbols, day(1), day(2))
	require.NoError(t, err)

	assert.Len(t, ds, len(symbols))
	assert.Len(t, src.calls, len(symbols))
	assert.LessOrEqual(t, src.maxSeen, 2)
}
