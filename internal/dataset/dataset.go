package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jwtly10/barsim/internal/aggregate"
	"github.com/jwtly10/barsim/internal/align"
	"github.com/jwtly10/barsim/internal/types"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 4

// BarSource returns the base bars of symbol with timestamps in [from, to],
// oldest first.
type BarSource interface {
	FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error)
}

// Builder turns a source of base bars into an aligned multi-resolution dataset.
type Builder struct {
	Source BarSource
	// Resolutions to derive from the base series. The base resolution is
	// always included.
	Resolutions []types.Resolution
	Workers     int
}

// Build fetches every symbol concurrently, aggregates each one to the
// configured resolutions and aligns the result on common timestamps.
func (b *Builder) Build(ctx context.Context, symbols []string, from, to time.Time) (types.Dataset, error) {
	ds := types.Dataset{}
	if len(symbols) == 0 {
		return ds, nil
	}

	for _, r := range b.Resolutions {
		if r < types.Base {
			return nil, fmt.Errorf("invalid resolution %d", int(r))
		}
	}

	workers := b.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	fetched := make([][]types.Bar, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			bars, err := b.Source.FetchBars(gctx, symbol, from, to)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", symbol, err)
			}
			slices.SortStableFunc(bars, func(x, y types.Bar) int {
				return x.Timestamp.Compare(y.Timestamp)
			})
			fetched[i] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, symbol := range symbols {
		base := types.NewSeries(symbol, types.Base, fetched[i])
		ds.Put(base)
		for _, r := range b.Resolutions {
			if r == types.Base {
				continue
			}
			ds.Put(aggregate.Aggregate(base, int(r)))
		}
		slog.Debug("Built series", "symbol", symbol, "bars", base.Len(), "resolutions", len(ds[symbol]))
	}

	align.AlignDataset(ds)

	slog.Info("Built dataset", "symbols", len(symbols), "from", from, "to", to, "aligned_bars", alignedLen(ds, symbols[0]))
	return ds, nil
}

func alignedLen(ds types.Dataset, symbol string) int {
	return ds.Get(symbol, types.Base).Len()
}
