package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jwtly10/barsim/internal/types"
)

const (
	DefaultBaseUrl       = "https://api-fxpractice.oanda.com"
	MaxCandlesPerRequest = 4000 // Limit is 5000 but we maintain a buffer

	// Oanda granularities
	M1  CandlestickGranularity = "M1"
	M5  CandlestickGranularity = "M5"
	M15 CandlestickGranularity = "M15"
	M30 CandlestickGranularity = "M30"
	H1  CandlestickGranularity = "H1"
	H6  CandlestickGranularity = "H6"
	D   CandlestickGranularity = "D"
	W   CandlestickGranularity = "W"
	M   CandlestickGranularity = "M"

	// Oanda Instruments
	GBPUSD InstrumentName = "GBP_USD"
	NAS100 InstrumentName = "NAS100_USD"
)

var granularityToDuration = map[CandlestickGranularity]time.Duration{
	M1:  1 * time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  1 * time.Hour,
	H6:  6 * time.Hour,
	D:   24 * time.Hour,
	W:   7 * 24 * time.Hour,
	M:   30 * 24 * time.Hour, // Approx
}

func (g CandlestickGranularity) ToDuration() (time.Duration, error) {
	duration, ok := granularityToDuration[g]
	if !ok {
		return 0, fmt.Errorf("invalid granularity: %s", g)
	}
	return duration, nil
}

func (g CandlestickGranularity) String() string {
	return string(g)
}

func NewOandaService(accountId, apiKey, apiUrl string) *OandaService {
	if apiUrl == "" {
		apiUrl = DefaultBaseUrl
	}

	return &OandaService{
		AccountId: accountId,
		ApiKey:    apiKey,
		ApiUrl:    apiUrl,
		Client:    http.DefaultClient,
		BatchSize: MaxCandlesPerRequest,
		now:       time.Now,
	}
}

// Source is a bar source of one granularity backed by the Oanda candles endpoint.
type Source struct {
	service     *OandaService
	granularity CandlestickGranularity
}

func (s *OandaService) Source(granularity CandlestickGranularity) *Source {
	return &Source{service: s, granularity: granularity}
}

// FetchBars returns the mid candles of instrument symbol in [from, to], with
// adjusted prices equal to raw ones.
func (src *Source) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	bars, err := src.service.FetchCandles(ctx, CandleRequest{
		Instrument:   InstrumentName(symbol),
		Granularity:  src.granularity,
		From:         from,
		To:           to,
		IncludeFirst: true,
	})
	if err != nil {
		return nil, err
	}
	types.EnrichAdjusted(bars)
	return bars, nil
}

// FetchCandles will iteratively fetch all complete candles between 2 dates.
//
// Note: We are not limiting the number of candles returned here,
// so there is scope for memory issues if not used carefully.
func (s *OandaService) FetchCandles(ctx context.Context, req CandleRequest) ([]types.Bar, error) {
	slog.Info("Initiating batched Oanda fetch", "instrument", req.Instrument, "from", req.From, "to", req.To, "period", req.Granularity.String())
	period, err := req.Granularity.ToDuration()
	if err != nil {
		return nil, err
	}

	if now := s.now(); req.To.After(now) {
		req.To = now
		slog.Warn("Adjusted 'To' time to current time as it was in the future", "newTo", req.To)
	}

	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = MaxCandlesPerRequest
	}

	allBars := []types.Bar{}
	currentFrom := req.From
	includeFirst := req.IncludeFirst

	for currentFrom.Before(req.To) {
		batchTo := currentFrom.Add(period * time.Duration(batchSize))
		if batchTo.After(req.To) {
			batchTo = req.To
		}

		newReq := CandleRequest{
			Instrument:   req.Instrument,
			Granularity:  req.Granularity,
			From:         currentFrom,
			To:           batchTo,
			IncludeFirst: includeFirst,
		}

		batch, err := s.fetchHistoricCandles(ctx, newReq)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch candles between %s and %s: %w", currentFrom, batchTo, err)
		}

		slog.Info("Found bars in latest fetch", "count", len(batch.Candles), "from", currentFrom, "to", batchTo)

		convertedBars, err := s.candlesToBars(batch.Candles)
		if err != nil {
			return nil, fmt.Errorf("failed to convert candles to bars: %w", err)
		}

		allBars = append(allBars, convertedBars...)

		// Move to next batch. Later requests exclude the candle at From,
		// which is the last one already taken.
		includeFirst = false
		if len(convertedBars) == 0 {
			currentFrom = batchTo
			continue
		}
		last := convertedBars[len(convertedBars)-1].Timestamp
		if !last.After(currentFrom) {
			currentFrom = batchTo
			continue
		}
		currentFrom = last
	}

	slog.Info("Completed fetching all oanda bars", "totalBars", len(allBars))
	return allBars, nil
}

func (s *OandaService) candlesToBars(candles []Candlestick) ([]types.Bar, error) {
	bars := make([]types.Bar, 0, len(candles))
	for _, candle := range candles {
		if !candle.Complete {
			slog.Debug("Skipping incomplete candle", "time", candle.Time)
			continue
		}

		timestamp, err := time.Parse(time.RFC3339, candle.Time)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle time %s: %w", candle.Time, err)
		}

		o, err := strconv.ParseFloat(string(candle.Mid.O), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle open price %s: %w", candle.Mid.O, err)
		}
		h, err := strconv.ParseFloat(string(candle.Mid.H), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle high price %s: %w", candle.Mid.H, err)
		}
		l, err := strconv.ParseFloat(string(candle.Mid.L), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle low price %s: %w", candle.Mid.L, err)
		}
		c, err := strconv.ParseFloat(string(candle.Mid.C), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle close price %s: %w", candle.Mid.C, err)
		}

		bars = append(bars, types.Bar{
			Timestamp: timestamp,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    float64(candle.Volume),
		})
	}
	return bars, nil
}

func (s *OandaService) fetchHistoricCandles(ctx context.Context, req CandleRequest) (*CandlestickResponse, error) {
	endpoint := s.ApiUrl + "/v3/accounts/" + s.AccountId + "/instruments/" + string(req.Instrument) + "/candles"

	params := url.Values{}
	if req.Granularity != "" {
		params.Add("granularity", string(req.Granularity))
	}
	if req.Count != 0 {
		params.Add("count", strconv.Itoa(req.Count))
	}

	params.Add("price", "M")
	params.Add("from", strconv.FormatInt(req.From.Unix(), 10))
	params.Add("to", strconv.FormatInt(req.To.Unix(), 10))
	params.Add("includeFirst", strconv.FormatBool(req.IncludeFirst))

	fullURL := endpoint + "?" + params.Encode()

	slog.Debug("Fetching historic candles", "instrument", req.Instrument, "url", fullURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Authorization", "Bearer "+s.ApiKey)
	httpReq.Header.Set("Accept-Datetime-Format", "RFC3339")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("Failed to read error response body",
				"statusCode", resp.StatusCode,
				"error", err)
			return nil, fmt.Errorf("failed to fetch candles: status code %d, could not read error body: %w", resp.StatusCode, err)
		}

		rawRespBody := string(bodyBytes)
		slog.Error("Failed to fetch candles: API returned an error status",
			"statusCode", resp.StatusCode,
			"rawResponse", rawRespBody)

		return nil, fmt.Errorf("failed to fetch candles: status code %d, API Response: %s", resp.StatusCode, rawRespBody)
	}

	var candleResp CandlestickResponse
	if err := json.NewDecoder(resp.Body).Decode(&candleResp); err != nil {
		return nil, fmt.Errorf("failed to decode candle response: %w", err)
	}

	return &candleResp, nil
}
