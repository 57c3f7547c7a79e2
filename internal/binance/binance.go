package binance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jwtly10/barsim/internal/types"
	"golang.org/x/time/rate"
)

// MaxKlinesPerRequest is the futures klines endpoint limit.
const MaxKlinesPerRequest = 1500

// Source serves futures klines of one interval ("1m", "1h", "1d", ...) as bars.
type Source struct {
	client      *futures.Client
	rateLimiter *rate.Limiter
	interval    string

	BatchSize  int
	MaxRetries int
	Backoff    time.Duration
}

func NewSource(apiKey, secretKey, interval string) *Source {
	futuresClient := futures.NewClient(apiKey, secretKey)
	futuresClient.HTTPClient = &http.Client{
		Timeout: time.Second * 10,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Source{
		client: futuresClient,
		// 10 requests per second with burst of 20
		rateLimiter: rate.NewLimiter(rate.Limit(10), 20),
		interval:    interval,
		BatchSize:   MaxKlinesPerRequest,
		MaxRetries:  3,
		Backoff:     100 * time.Millisecond,
	}
}

// FetchBars pages through every kline of symbol opening in [from, to].
func (s *Source) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	slog.Info("Initiating batched Binance fetch", "symbol", symbol, "interval", s.interval, "from", from, "to", to)

	batchSize := s.BatchSize
	if batchSize <= 0 || batchSize > MaxKlinesPerRequest {
		batchSize = MaxKlinesPerRequest
	}

	start := from.UnixMilli()
	end := to.UnixMilli()
	bars := []types.Bar{}

	for start <= end {
		klines, err := s.getKlines(ctx, symbol, start, end, batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch klines for %s from %d: %w", symbol, start, err)
		}

		for _, k := range klines {
			bar, err := klineToBar(k)
			if err != nil {
				return nil, fmt.Errorf("failed to convert kline for %s: %w", symbol, err)
			}
			bars = append(bars, bar)
		}

		slog.Debug("Found klines in latest fetch", "symbol", symbol, "count", len(klines))
		if len(klines) < batchSize {
			break
		}
		start = klines[len(klines)-1].OpenTime + 1
	}

	types.EnrichAdjusted(bars)
	slog.Info("Completed fetching all binance bars", "symbol", symbol, "totalBars", len(bars))
	return bars, nil
}

func (s *Source) getKlines(ctx context.Context, symbol string, start, end int64, limit int) ([]*futures.Kline, error) {
	var klines []*futures.Kline
	var err error

	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if err = s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		klines, err = s.client.NewKlinesService().
			Symbol(symbol).
			Interval(s.interval).
			StartTime(start).
			EndTime(end).
			Limit(limit).
			Do(ctx)
		if err == nil {
			return klines, nil
		}

		if attempt == s.MaxRetries {
			break
		}

		waitTime := time.Duration(math.Pow(2, float64(attempt))) * s.Backoff
		slog.Warn("Kline request failed, retrying", "symbol", symbol, "attempt", attempt+1, "wait", waitTime, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return nil, err
}

func klineToBar(k *futures.Kline) (types.Bar, error) {
	parse := func(name, v string) (float64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse kline %s %q: %w", name, v, err)
		}
		return f, nil
	}

	var bar types.Bar
	var err error
	bar.Timestamp = time.UnixMilli(k.OpenTime).UTC()
	if bar.Open, err = parse("open", k.Open); err != nil {
		return bar, err
	}
	if bar.High, err = parse("high", k.High); err != nil {
		return bar, err
	}
	if bar.Low, err = parse("low", k.Low); err != nil {
		return bar, err
	}
	if bar.Close, err = parse("close", k.Close); err != nil {
		return bar, err
	}
	if bar.Volume, err = parse("volume", k.Volume); err != nil {
		return bar, err
	}
	return bar, nil
}
