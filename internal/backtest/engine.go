package backtest

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jwtly10/barsim/internal/account"
	"github.com/jwtly10/barsim/internal/logging"
	"github.com/jwtly10/barsim/internal/rounding"
	"github.com/jwtly10/barsim/internal/types"
	"github.com/shopspring/decimal"
)

var simLog = logging.New("sim")

type Config struct {
	BuyFeeRate  float64
	SellFeeRate float64

	// Rounding is applied to every price the engine reads from the dataset,
	// for trades and for valuations alike.
	Rounding rounding.Policy

	// ValuationField prices holdings for history snapshots. Defaults to close.
	ValuationField types.PriceField

	InitialCash float64
}

// Engine replays an aligned dataset one base bar at a time and books trades
// against the ledger it owns.
//
// The engine is not safe for concurrent use.
type Engine struct {
	data    types.Dataset
	symbols []string
	length  int
	index   int

	config Config
	ledger *account.Ledger

	deposits decimal.Decimal
	history  []HistoryEntry
	fills    []Fill
}

// HistoryEntry is the ledger as it stood right after a step.
type HistoryEntry struct {
	Index     int
	Timestamp time.Time
	Snapshot  account.Snapshot
	Valuation float64
}

type History struct {
	Entries  []HistoryEntry
	FeesPaid float64
}

type Fill struct {
	Index     int
	Timestamp time.Time
	Symbol    string
	Side      types.Side
	Quantity  float64
	Price     float64
	Fee       float64
}

// State is the answer to a windowed lookback query.
type State struct {
	Index     int
	Timestamp time.Time
	// Bars holds, per symbol and resolution, the requested bars oldest first.
	Bars   map[string]map[types.Resolution][]types.Bar
	Ledger account.Snapshot
}

// NewEngine validates that ds is aligned, every symbol carries a base series
// and every series has the same non-zero length, then positions the engine at
// index 0 with an empty ledger (plus cfg.InitialCash).
func NewEngine(ds types.Dataset, cfg Config) (*Engine, error) {
	if !validRate(cfg.BuyFeeRate) || !validRate(cfg.SellFeeRate) {
		return nil, ErrInvalidFeeRate
	}
	if cfg.ValuationField == "" {
		cfg.ValuationField = types.Close
	}
	if _, ok := (types.Bar{}).Price(cfg.ValuationField); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPriceField, cfg.ValuationField)
	}

	symbols, length, err := validate(ds)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		data:     ds,
		symbols:  symbols,
		length:   length,
		config:   cfg,
		ledger:   account.NewLedger(),
		deposits: decimal.Zero,
		history:  []HistoryEntry{},
		fills:    []Fill{},
	}
	if cfg.InitialCash != 0 {
		if err := e.AddCash(cfg.InitialCash); err != nil {
			return nil, fmt.Errorf("initial cash: %w", err)
		}
	}

	slog.Debug("Created simulation engine", "symbols", len(symbols), "bars", length, "buy_fee", cfg.BuyFeeRate, "sell_fee", cfg.SellFeeRate, "rounding", cfg.Rounding.String())
	return e, nil
}

func validate(ds types.Dataset) ([]string, int, error) {
	if len(ds) == 0 {
		return nil, 0, ErrEmptyDataset
	}

	symbols := make([]string, 0, len(ds))
	for symbol := range ds {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	reference := ds.Get(symbols[0], types.Base)
	if reference == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrMissingBase, symbols[0])
	}
	length := reference.Len()
	if length == 0 {
		return nil, 0, ErrEmptyDataset
	}

	for _, symbol := range symbols {
		base := ds.Get(symbol, types.Base)
		if base == nil {
			return nil, 0, fmt.Errorf("%w: %s", ErrMissingBase, symbol)
		}
		for r, s := range ds[symbol] {
			if s.Len() != length {
				return nil, 0, fmt.Errorf("%w: %s %s has %d bars, expected %d", ErrLengthMismatch, symbol, r, s.Len(), length)
			}
			for i := range s.Bars {
				if !s.Bars[i].Timestamp.Equal(reference.Bars[i].Timestamp) {
					return nil, 0, fmt.Errorf("%w: %s %s at index %d", ErrMisaligned, symbol, r, i)
				}
			}
		}
	}

	return symbols, length, nil
}

func validRate(rate float64) bool {
	return rate >= 0 && !math.IsInf(rate, 1)
}

func validQuantity(qty float64) bool {
	return qty > 0 && !math.IsInf(qty, 1)
}

// Symbols lists the dataset's symbols in sorted order.
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.symbols...)
}

// Len is the number of base bars, N.
func (e *Engine) Len() int {
	return e.length
}

// Config returns the engine's settings with defaults filled in.
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) Index() int {
	return e.index
}

// Done reports whether the engine sits on the last bar.
func (e *Engine) Done() bool {
	return e.index == e.length-1
}

// Timestamp of the current base bar.
func (e *Engine) Timestamp() time.Time {
	return e.timestampAt(e.index)
}

func (e *Engine) timestampAt(i int) time.Time {
	return e.data.Get(e.symbols[0], types.Base).Bars[i].Timestamp
}

// Step advances one base bar and records the ledger. It returns false, and
// records nothing, when already on the last bar.
func (e *Engine) Step() bool {
	if e.Done() {
		return false
	}

	e.index++
	entry := HistoryEntry{
		Index:     e.index,
		Timestamp: e.Timestamp(),
		Snapshot:  e.ledger.Snapshot(),
		Valuation: e.valuation(),
	}
	e.history = append(e.history, entry)

	simLog.Debug("Stepped", "index", e.index, "timestamp", entry.Timestamp, "valuation", entry.Valuation, "cash", entry.Snapshot.Cash)
	return true
}

// SetCurrentIndex jumps to bar i without recording history. Out of range
// indexes return false and leave the engine where it was.
func (e *Engine) SetCurrentIndex(i int) bool {
	if i < 0 || i >= e.length {
		return false
	}
	e.index = i
	simLog.Debug("Jumped", "index", i)
	return true
}

// Price returns field of symbol's base bar at the current index after rounding.
func (e *Engine) Price(symbol string, field types.PriceField) (float64, error) {
	return e.priceAt(symbol, field, e.index)
}

func (e *Engine) priceAt(symbol string, field types.PriceField, i int) (float64, error) {
	base := e.data.Get(symbol, types.Base)
	if base == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	p, ok := base.Bars[i].Price(field)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPriceField, field)
	}
	return e.config.Rounding.Apply(p), nil
}

func (e *Engine) valuation() float64 {
	return e.ledger.Valuation(func(symbol string) float64 {
		p, err := e.priceAt(symbol, e.config.ValuationField, e.index)
		if err != nil {
			// Only symbols of the dataset can be held.
			panic(err)
		}
		return p
	})
}

// Valuation marks the ledger at the current bar.
func (e *Engine) Valuation() float64 {
	return e.valuation()
}

// AddCash deposits (or, when negative, withdraws) cash. NaN and infinite
// amounts are refused with ErrInvalidAmount.
func (e *Engine) AddCash(amount float64) error {
	if !e.ledger.AddCash(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	e.deposits = e.deposits.Add(decimal.NewFromFloat(amount))
	return nil
}

// Snapshot returns a copy of the ledger as it stands now.
func (e *Engine) Snapshot() account.Snapshot {
	return e.ledger.Snapshot()
}

// Buy purchases qty of symbol at the current bar's field price plus the buy
// fee. It fails with ErrInsufficientFunds, leaving the ledger untouched, when
// cash does not cover price*qty*(1+buyFeeRate).
func (e *Engine) Buy(symbol string, qty float64, field types.PriceField) error {
	if !validQuantity(qty) {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, qty)
	}
	price, err := e.Price(symbol, field)
	if err != nil {
		return err
	}

	q := decimal.NewFromFloat(qty)
	notional := decimal.NewFromFloat(price).Mul(q)
	fee := notional.Mul(decimal.NewFromFloat(e.config.BuyFeeRate))
	cost := notional.Add(fee)

	if e.ledger.CashDecimal().LessThan(cost) {
		simLog.Debug("Buy rejected", "symbol", symbol, "qty", qty, "price", price, "cost", cost.String(), "cash", e.ledger.Cash())
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost.String(), e.ledger.CashDecimal().String())
	}

	e.ledger.Settle(symbol, q, cost.Neg(), fee)
	e.record(symbol, types.BUY, qty, price, fee)
	return nil
}

// Sell disposes of qty of symbol at the current bar's field price less the
// sell fee. It fails with ErrInsufficientPosition when less than qty is held.
func (e *Engine) Sell(symbol string, qty float64, field types.PriceField) error {
	if !validQuantity(qty) {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, qty)
	}
	price, err := e.Price(symbol, field)
	if err != nil {
		return err
	}

	q := decimal.NewFromFloat(qty)
	notional := decimal.NewFromFloat(price).Mul(q)
	fee := notional.Mul(decimal.NewFromFloat(e.config.SellFeeRate))

	if !e.ledger.Settle(symbol, q.Neg(), notional.Sub(fee), fee) {
		simLog.Debug("Sell rejected", "symbol", symbol, "qty", qty, "held", e.ledger.Position(symbol))
		return fmt.Errorf("%w: selling %v %s, holding %v", ErrInsufficientPosition, qty, symbol, e.ledger.Position(symbol))
	}

	e.record(symbol, types.SELL, qty, price, fee)
	return nil
}

func (e *Engine) record(symbol string, side types.Side, qty, price float64, fee decimal.Decimal) {
	fill := Fill{
		Index:     e.index,
		Timestamp: e.Timestamp(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     price,
		Fee:       fee.InexactFloat64(),
	}
	e.fills = append(e.fills, fill)
	slog.Debug("Filled order", "side", side, "symbol", symbol, "qty", qty, "price", price, "fee", fill.Fee, "index", e.index, "timestamp", fill.Timestamp)
}

// State returns, for each symbol and each resolution r in window, the
// window[r] most recent resolution-r bars ending at the current index, spaced r
// base bars apart. That needs index >= r*(count-1) for every entry; if any
// entry lacks history the whole query fails with ErrInsufficientHistory.
//
// An empty symbols list means every symbol.
func (e *Engine) State(symbols []string, window map[types.Resolution]int) (*State, error) {
	for r, count := range window {
		if r < 1 || count < 1 {
			return nil, fmt.Errorf("%w: %s -> %d", ErrInvalidWindow, r, count)
		}
		if e.index < int(r)*(count-1) {
			return nil, fmt.Errorf("%w: %s x %d needs index %d, at %d", ErrInsufficientHistory, r, count, int(r)*(count-1), e.index)
		}
	}

	if len(symbols) == 0 {
		symbols = e.symbols
	}

	state := &State{
		Index:     e.index,
		Timestamp: e.Timestamp(),
		Bars:      make(map[string]map[types.Resolution][]types.Bar, len(symbols)),
		Ledger:    e.ledger.Snapshot(),
	}

	for _, symbol := range symbols {
		byRes, ok := e.data[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}

		out := make(map[types.Resolution][]types.Bar, len(window))
		for r, count := range window {
			series, ok := byRes[r]
			if !ok {
				return nil, fmt.Errorf("%w: %s %s", ErrUnknownResolution, symbol, r)
			}

			bars := make([]types.Bar, count)
			for k := 0; k < count; k++ {
				bars[k] = series.Bars[e.index-(count-1-k)*int(r)]
			}
			out[r] = bars
		}
		state.Bars[symbol] = out
	}

	return state, nil
}

// History returns every entry recorded by Step along with the fees paid so far.
func (e *Engine) History() History {
	entries := make([]HistoryEntry, len(e.history))
	for i, h := range e.history {
		h.Snapshot = h.Snapshot.Clone()
		entries[i] = h
	}
	return History{
		Entries:  entries,
		FeesPaid: e.ledger.FeesPaid(),
	}
}

// Fills returns the executed trades in execution order.
func (e *Engine) Fills() []Fill {
	return append([]Fill(nil), e.fills...)
}

// Driver decides what to trade on each bar of a Run.
type Driver interface {
	OnBar(e *Engine) error
}

// Run calls d.OnBar on the current bar and every following bar up to and
// including the last, then returns the results.
func (e *Engine) Run(d Driver) (*Results, error) {
	slog.Debug("Starting replay", "from_index", e.index, "total_bars", e.length, "cash", e.ledger.Cash())

	for {
		simLog.Debug("Processing bar", "index", e.index, "timestamp", e.Timestamp())
		if err := d.OnBar(e); err != nil {
			return nil, fmt.Errorf("driver failed at index %d: %w", e.index, err)
		}
		if !e.Step() {
			break
		}
	}

	return e.Results(), nil
}

// Results bundles what the engine has recorded so far.
func (e *Engine) Results() *Results {
	return &Results{
		Deposits:   e.deposits.InexactFloat64(),
		FinalValue: e.valuation(),
		History:    e.History(),
		Fills:      e.Fills(),
	}
}
