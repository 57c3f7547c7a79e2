package types

import (
	"fmt"
	"time"
)

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"

	// Base is the resolution of the bars a source returns. Every other
	// resolution is a whole multiple of it.
	Base Resolution = 1
)

const (
	Open     PriceField = "open"
	High     PriceField = "high"
	Low      PriceField = "low"
	Close    PriceField = "close"
	AdjOpen  PriceField = "adj_open"
	AdjHigh  PriceField = "adj_high"
	AdjLow   PriceField = "adj_low"
	AdjClose PriceField = "adj_close"
)

type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	AdjOpen   float64
	AdjHigh   float64
	AdjLow    float64
	AdjClose  float64
	Volume    float64
}

type Side string

// PriceField selects which price of a bar a trade or valuation uses.
type PriceField string

// Resolution is the number of base bars folded into one bar.
type Resolution int

func (r Resolution) String() string {
	return fmt.Sprintf("x%d", int(r))
}

// Price returns the requested field of the bar.
func (b Bar) Price(field PriceField) (float64, bool) {
	switch field {
	case Open:
		return b.Open, true
	case High:
		return b.High, true
	case Low:
		return b.Low, true
	case Close:
		return b.Close, true
	case AdjOpen:
		return b.AdjOpen, true
	case AdjHigh:
		return b.AdjHigh, true
	case AdjLow:
		return b.AdjLow, true
	case AdjClose:
		return b.AdjClose, true
	}
	return 0, false
}

// Series is the ordered bar sequence of one (symbol, resolution) pair.
type Series struct {
	Symbol     string
	Resolution Resolution
	Bars       []Bar
}

func NewSeries(symbol string, resolution Resolution, bars []Bar) *Series {
	return &Series{
		Symbol:     symbol,
		Resolution: resolution,
		Bars:       bars,
	}
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Dataset maps symbol -> resolution -> series.
type Dataset map[string]map[Resolution]*Series

// Put stores the series under its own symbol and resolution.
func (d Dataset) Put(s *Series) {
	byRes, ok := d[s.Symbol]
	if !ok {
		byRes = make(map[Resolution]*Series)
		d[s.Symbol] = byRes
	}
	byRes[s.Resolution] = s
}

// Get returns the series for symbol and resolution, or nil.
func (d Dataset) Get(symbol string, resolution Resolution) *Series {
	byRes, ok := d[symbol]
	if !ok {
		return nil
	}
	return byRes[resolution]
}

// EnrichAdjusted fills in adjusted prices for bars from vendors that only
// report an adjusted close (or nothing at all). A zero AdjClose is taken to
// mean "unadjusted" and copied from Close; open/high/low are then scaled by
// AdjClose/Close.
func EnrichAdjusted(bars []Bar) {
	for i := range bars {
		b := &bars[i]
		if b.AdjClose == 0 {
			b.AdjClose = b.Close
		}
		if b.Close == 0 {
			b.AdjOpen, b.AdjHigh, b.AdjLow = b.Open, b.High, b.Low
			continue
		}
		ratio := b.AdjClose / b.Close
		b.AdjOpen = b.Open * ratio
		b.AdjHigh = b.High * ratio
		b.AdjLow = b.Low * ratio
	}
}
