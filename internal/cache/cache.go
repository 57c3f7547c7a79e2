package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jwtly10/barsim/internal/dataset"
	"github.com/jwtly10/barsim/internal/logging"
	"github.com/jwtly10/barsim/internal/types"
	"github.com/parquet-go/parquet-go"
)

const (
	DefaultMaxAge = 24 * time.Hour

	ext        = ".parquet"
	timeLayout = "20060102T150405"
)

var cacheLog = logging.New("cache")

// barRow is the on-disk layout of a cached bar.
type barRow struct {
	Timestamp int64   `parquet:"t"` // Unix nanoseconds
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	AdjOpen   float64 `parquet:"adj_o"`
	AdjHigh   float64 `parquet:"adj_h"`
	AdjLow    float64 `parquet:"adj_l"`
	AdjClose  float64 `parquet:"adj_c"`
	Volume    float64 `parquet:"v"`
}

// Cache keeps one parquet file per symbol and range in front of a slower source.
type Cache struct {
	Source dataset.BarSource
	Dir    string
	// MaxAge is how long a file is served before upstream is asked again.
	MaxAge time.Duration
	// Force always refreshes from upstream.
	Force bool

	now func() time.Time
}

func New(source dataset.BarSource, dir string, maxAge time.Duration, force bool) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		Source: source,
		Dir:    dir,
		MaxAge: maxAge,
		Force:  force,
		now:    time.Now,
	}
}

// Path is the file holding symbol's bars for [from, to].
func (c *Cache) Path(symbol string, from, to time.Time) string {
	name := fmt.Sprintf("%s_%s_to_%s%s", fileSymbol(symbol), from.UTC().Format(timeLayout), to.UTC().Format(timeLayout), ext)
	return filepath.Join(c.Dir, name)
}

func fileSymbol(symbol string) string {
	return strings.NewReplacer("/", "-", string(os.PathSeparator), "-").Replace(symbol)
}

func (c *Cache) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	path := c.Path(symbol, from, to)

	if c.fresh(path) {
		bars, err := readBars(path)
		if err == nil {
			cacheLog.Debug("Cache hit", "symbol", symbol, "path", path, "bars", len(bars))
			return bars, nil
		}
		slog.Warn("Ignoring unreadable cache file", "path", path, "error", err)
	}

	bars, err := c.Source.FetchBars(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		slog.Warn("Upstream returned no bars, not caching", "symbol", symbol, "from", from, "to", to)
		return bars, nil
	}

	if err := c.writeBars(path, bars); err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", symbol, err)
	}
	slog.Info("Cached bars", "symbol", symbol, "path", path, "bars", len(bars))
	return bars, nil
}

func (c *Cache) fresh(path string) bool {
	if c.Force {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	age := now().Sub(info.ModTime())
	cacheLog.Debug("Cache file found", "path", path, "age", age, "max_age", c.MaxAge)
	return age < c.MaxAge
}

// Delete removes every cached range of symbol.
func (c *Cache) Delete(symbol string) error {
	entries, err := os.ReadDir(c.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	want := fileSymbol(symbol)
	for _, entry := range entries {
		if entry.IsDir() || symbolOf(entry.Name()) != want {
			continue
		}
		if err := os.Remove(filepath.Join(c.Dir, entry.Name())); err != nil {
			return err
		}
		slog.Info("Deleted cache file", "symbol", symbol, "file", entry.Name())
	}
	return nil
}

// symbolOf recovers the symbol from a cache file name, or "" if name is not one.
func symbolOf(name string) string {
	stem, ok := strings.CutSuffix(name, ext)
	if !ok {
		return ""
	}
	i := strings.LastIndex(stem, "_to_")
	if i < 0 {
		return ""
	}
	j := strings.LastIndex(stem[:i], "_")
	if j < 0 {
		return ""
	}
	return stem[:j]
}

func (c *Cache) writeBars(path string, bars []types.Bar) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}

	rows := make([]barRow, len(bars))
	for i, b := range bars {
		rows[i] = barRow{
			Timestamp: b.Timestamp.UnixNano(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			AdjOpen:   b.AdjOpen,
			AdjHigh:   b.AdjHigh,
			AdjLow:    b.AdjLow,
			AdjClose:  b.AdjClose,
			Volume:    b.Volume,
		}
	}

	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readBars(path string) ([]types.Bar, error) {
	rows, err := parquet.ReadFile[barRow](path)
	if err != nil {
		return nil, err
	}

	bars := make([]types.Bar, len(rows))
	for i, r := range rows {
		bars[i] = types.Bar{
			Timestamp: time.Unix(0, r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			AdjOpen:   r.AdjOpen,
			AdjHigh:   r.AdjHigh,
			AdjLow:    r.AdjLow,
			AdjClose:  r.AdjClose,
			Volume:    r.Volume,
		}
	}
	return bars, nil
}
