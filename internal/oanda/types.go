package oanda

import (
	"net/http"
	"time"
)

// https://developer.oanda.com/rest-live-v20/pricing-ep/

type Candlestick struct {
	Time     string          `json:"time"`
	Bid      CandleStickData `json:"bid"`
	Ask      CandleStickData `json:"ask"`
	Mid      CandleStickData `json:"mid"`
	Volume   int             `json:"volume"`
	Complete bool            `json:"complete"`
}

type CandleStickData struct {
	O PriceValue `json:"o"`
	H PriceValue `json:"h"`
	L PriceValue `json:"l"`
	C PriceValue `json:"c"`
}

type PriceValue string
type InstrumentName string

type CandlestickGranularity string

type CandlestickResponse struct {
	Candles     []Candlestick          `json:"candles"`
	Instrument  InstrumentName         `json:"instrument"`
	Granularity CandlestickGranularity `json:"granularity"`
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type OandaService struct {
	AccountId string
	ApiKey    string
	ApiUrl    string

	Client HTTPClient
	// BatchSize caps the candles asked for per request.
	BatchSize int

	now func() time.Time
}

type CandleRequest struct {
	Instrument  InstrumentName         `json:"instrument"`
	Granularity CandlestickGranularity `json:"granularity,omitempty"` // Default S5
	Count       int                    `json:"count,omitempty"`       // Default 500, max 5000
	From        time.Time              `json:"from"`                  // RFC 3339
	To          time.Time              `json:"to"`                    // RFC 3339
	// IncludeFirst keeps the candle starting exactly at From.
	IncludeFirst bool `json:"includeFirst"`
}
