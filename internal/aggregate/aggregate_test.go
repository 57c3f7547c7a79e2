package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/jwtly10/barsim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func minuteBars(closes ...float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			AdjOpen:   (c - 0.5) / 2,
			AdjHigh:   (c + 1) / 2,
			AdjLow:    (c - 1) / 2,
			AdjClose:  c / 2,
			Volume:    float64(100 * (i + 1)),
		}
	}
	return bars
}

func TestAggregate_WindowOfOneIsIdentity(t *testing.T) {
	in := types.NewSeries("QQQ", types.Base, minuteBars(10, 11, 9, 12))

	out := Aggregate(in, 1)

	assert.Equal(t, in.Bars, out.Bars)
	assert.Equal(t, types.Base, out.Resolution)
	assert.Equal(t, "QQQ", out.Symbol)

	// Must be a copy, not the same backing array
	out.Bars[0].Close = 999
	assert.Equal(t, 10.0, in.Bars[0].Close)
}

func TestAggregate_TwoBarWindows(t *testing.T) {
	bars := minuteBars(10, 11, 9, 12)

	out := Bars(bars, 2)

	require.Len(t, out, 3)

	// Window over bars 0-1
	assert.Equal(t, bars[1].Timestamp, out[0].Timestamp)
	assert.Equal(t, bars[0].Open, out[0].Open)
	assert.Equal(t, 12.0, out[0].High) // max(11, 12)
	assert.Equal(t, 9.0, out[0].Low)   // min(9, 10)
	assert.Equal(t, 11.0, out[0].Close)
	assert.Equal(t, bars[0].Volume+bars[1].Volume, out[0].Volume)

	// Window over bars 1-2: close 9
	assert.Equal(t, bars[1].Open, out[1].Open)
	assert.Equal(t, 9.0, out[1].Close)
	assert.Equal(t, 8.0, out[1].Low)

	// Window over bars 2-3: opens at bar 2, closes at 12
	assert.Equal(t, bars[3].Timestamp, out[2].Timestamp)
	assert.Equal(t, bars[2].Open, out[2].Open)
	assert.Equal(t, 13.0, out[2].High)
	assert.Equal(t, 8.0, out[2].Low)
	assert.Equal(t, 12.0, out[2].Close)
	assert.Equal(t, bars[2].Volume+bars[3].Volume, out[2].Volume)
}

func TestAggregate_AdjustedFields(t *testing.T) {
	bars := minuteBars(10, 14, 8)

	out := Bars(bars, 3)

	require.Len(t, out, 1)
	assert.Equal(t, bars[0].AdjOpen, out[0].AdjOpen)
	assert.Equal(t, 7.5, out[0].AdjHigh) // (14+1)/2
	assert.Equal(t, 3.5, out[0].AdjLow)  // (8-1)/2
	assert.Equal(t, bars[2].AdjClose, out[0].AdjClose)
}

func TestAggregate_OutputLength(t *testing.T) {
	bars := minuteBars(1, 2, 3, 4, 5, 6, 7)

	for window := 1; window <= 10; window++ {
		expected := len(bars) - window + 1
		if expected < 0 {
			expected = 0
		}
		assert.Len(t, Bars(bars, window), expected, "window %d", window)
	}
}

func TestAggregate_EmptyAndShortInput(t *testing.T) {
	assert.Empty(t, Bars(nil, 3))
	assert.Empty(t, Bars([]types.Bar{}, 1))
	assert.Empty(t, Bars(minuteBars(1, 2), 3))

	out := Aggregate(types.NewSeries("QQQ", types.Base, nil), 5)
	assert.Equal(t, types.Resolution(5), out.Resolution)
	assert.Equal(t, 0, out.Len())
}

func TestAggregate_ResolutionCountsCoveredBaseBars(t *testing.T) {
	base := types.NewSeries("QQQ", types.Base, minuteBars(1, 2, 3, 4, 5, 6))
	twos := Aggregate(base, 2)
	again := Aggregate(twos, 2)

	assert.Equal(t, types.Resolution(2), twos.Resolution)
	// Two overlapping 2-bar windows span 3 base bars
	assert.Equal(t, types.Resolution(3), again.Resolution)
}

func TestAggregate_VolumeIsWindowSum(t *testing.T) {
	bars := minuteBars(1, 2, 3, 4)
	for i, v := range []float64{1e16, 1, 1, 1} {
		bars[i].Volume = v
	}

	out := Bars(bars, 2)

	require.Len(t, out, 3)
	assert.Equal(t, 2.0, out[1].Volume, "a huge bar leaving the window leaves nothing behind")
	assert.Equal(t, 2.0, out[2].Volume)
}

func TestAggregate_InvalidWindowPanics(t *testing.T) {
	assert.Panics(t, func() { Bars(minuteBars(1, 2), 0) })
	assert.Panics(t, func() { Bars(minuteBars(1, 2), -3) })
}

// The deque implementation must match a naive scan over every window.
func TestAggregate_MatchesNaiveScan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	bars := make([]types.Bar, 200)
	for i := range bars {
		c := 100 + rng.Float64()*20
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c + rng.Float64() - 0.5,
			High:      c + rng.Float64()*3,
			Low:       c - rng.Float64()*3,
			Close:     c,
			AdjOpen:   c,
			AdjHigh:   c + rng.Float64()*3,
			AdjLow:    c - rng.Float64()*3,
			AdjClose:  c,
			Volume:    float64(rng.Intn(1000)) * 0.1,
		}
	}

	for _, window := range []int{2, 3, 7, 30, 200} {
		out := Bars(bars, window)
		require.Len(t, out, len(bars)-window+1)

		for j, got := range out {
			chunk := bars[j : j+window]
			want := chunk[0]
			want.Timestamp = chunk[window-1].Timestamp
			want.Close = chunk[window-1].Close
			want.AdjClose = chunk[window-1].AdjClose
			want.Volume = 0
			for _, b := range chunk {
				if b.High > want.High {
					want.High = b.High
				}
				if b.AdjHigh > want.AdjHigh {
					want.AdjHigh = b.AdjHigh
				}
				if b.Low < want.Low {
					want.Low = b.Low
				}
				if b.AdjLow < want.AdjLow {
					want.AdjLow = b.AdjLow
				}
				want.Volume += b.Volume
			}
			assert.Equal(t, want, got, "window %d, output %d", window, j)
		}
	}
}
