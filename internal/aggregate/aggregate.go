package aggregate

import (
	"fmt"

	"github.com/jwtly10/barsim/internal/logging"
	"github.com/jwtly10/barsim/internal/types"
)

var aggLog = logging.New("aggregate")

// Aggregate builds the series of trailing windows of `window` consecutive bars.
// The resulting series has one bar for every input bar from index window-1
// onward, stamped with that input bar's timestamp. Windows slide one bar at a
// time, so its resolution is the number of base bars a window covers:
// series.Resolution+window-1, which is window for a base series.
//
// window must be >= 1. A window of 1 returns a copy of the input.
func Aggregate(series *types.Series, window int) *types.Series {
	out := types.NewSeries(series.Symbol, series.Resolution+types.Resolution(window-1), Bars(series.Bars, window))
	aggLog.Debug("Aggregated series", "symbol", series.Symbol, "window", window, "in", len(series.Bars), "out", len(out.Bars))
	return out
}

// Bars does the windowing over a raw bar slice. See Aggregate.
func Bars(in []types.Bar, window int) []types.Bar {
	if window < 1 {
		panic(fmt.Sprintf("aggregate: window must be >= 1, got %d", window))
	}

	n := len(in)
	if n < window {
		return []types.Bar{}
	}

	if window == 1 {
		out := make([]types.Bar, n)
		copy(out, in)
		return out
	}

	high := newExtremum(func(i int) float64 { return in[i].High }, greater)
	adjHigh := newExtremum(func(i int) float64 { return in[i].AdjHigh }, greater)
	low := newExtremum(func(i int) float64 { return in[i].Low }, less)
	adjLow := newExtremum(func(i int) float64 { return in[i].AdjLow }, less)

	out := make([]types.Bar, 0, n-window+1)

	for i := 0; i < n; i++ {
		high.push(i)
		adjHigh.push(i)
		low.push(i)
		adjLow.push(i)

		first := i - window + 1
		if first < 0 {
			continue
		}

		high.evict(first)
		adjHigh.evict(first)
		low.evict(first)
		adjLow.evict(first)

		// Summed per window, a running total would carry rounding from
		// bars long gone.
		volume := 0.0
		for k := first; k <= i; k++ {
			volume += in[k].Volume
		}

		out = append(out, types.Bar{
			Timestamp: in[i].Timestamp,
			Open:      in[first].Open,
			High:      high.value(),
			Low:       low.value(),
			Close:     in[i].Close,
			AdjOpen:   in[first].AdjOpen,
			AdjHigh:   adjHigh.value(),
			AdjLow:    adjLow.value(),
			AdjClose:  in[i].AdjClose,
			Volume:    volume,
		})
	}

	return out
}

func greater(a, b float64) bool { return a > b }
func less(a, b float64) bool    { return a < b }

// extremum is a monotonic deque of indices whose front always holds the
// window's max (or min, depending on beats).
type extremum struct {
	at    func(i int) float64
	beats func(a, b float64) bool
	idx   []int
	head  int
}

func newExtremum(at func(i int) float64, beats func(a, b float64) bool) *extremum {
	return &extremum{at: at, beats: beats}
}

func (e *extremum) push(i int) {
	v := e.at(i)
	for len(e.idx) > e.head && !e.beats(e.at(e.idx[len(e.idx)-1]), v) {
		e.idx = e.idx[:len(e.idx)-1]
	}
	e.idx = append(e.idx, i)
}

// evict drops indices that fell out of a window starting at first.
func (e *extremum) evict(first int) {
	for e.idx[e.head] < first {
		e.head++
	}
}

func (e *extremum) value() float64 {
	return e.at(e.idx[e.head])
}
