package align

import (
	"sort"

	"github.com/jwtly10/barsim/internal/logging"
	"github.com/jwtly10/barsim/internal/types"
)

var alignLog = logging.New("align")

// Align trims every series in place to the timestamps present in all of them.
// Relative order inside each series is preserved. Zero or one series is left
// untouched; an empty intersection empties every series.
func Align(series []*types.Series) {
	if len(series) < 2 {
		return
	}

	common := make(map[int64]int, series[0].Len())
	for _, s := range series {
		seen := make(map[int64]struct{}, len(s.Bars))
		for _, b := range s.Bars {
			key := b.Timestamp.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			common[key]++
		}
	}

	want := len(series)
	for _, s := range series {
		kept := s.Bars[:0]
		for _, b := range s.Bars {
			if common[b.Timestamp.UnixNano()] == want {
				kept = append(kept, b)
			}
		}
		alignLog.Debug("Trimmed series", "symbol", s.Symbol, "resolution", s.Resolution, "before", len(s.Bars), "after", len(kept))
		s.Bars = kept
	}
}

// AlignDataset aligns every series of every symbol against each other.
func AlignDataset(ds types.Dataset) {
	Align(Flatten(ds))
}

// Flatten lists the dataset's series ordered by symbol then resolution.
func Flatten(ds types.Dataset) []*types.Series {
	symbols := make([]string, 0, len(ds))
	for symbol := range ds {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var all []*types.Series
	for _, symbol := range symbols {
		resolutions := make([]types.Resolution, 0, len(ds[symbol]))
		for r := range ds[symbol] {
			resolutions = append(resolutions, r)
		}
		sort.Slice(resolutions, func(i, j int) bool { return resolutions[i] < resolutions[j] })

		for _, r := range resolutions {
			all = append(all, ds[symbol][r])
		}
	}
	return all
}
