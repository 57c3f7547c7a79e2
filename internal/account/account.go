package account

import (
	"maps"
	"math"
	"sort"

	"github.com/jwtly10/barsim/internal/logging"
	"github.com/shopspring/decimal"
)

var ledgerLog = logging.New("ledger")

// Ledger is the cash and position book of one simulation.
//
// Amounts are kept as exact decimals so that repeated fee arithmetic does not
// drift; the API takes and returns float64. Held quantities can never go
// negative. Cash is not guarded here, callers that need a funds check (the
// backtest engine) do it themselves before mutating.
type Ledger struct {
	cash      decimal.Decimal
	feesPaid  decimal.Decimal
	positions map[string]decimal.Decimal
}

// Snapshot is a point-in-time copy of a Ledger. It shares nothing with the
// ledger it was taken from.
type Snapshot struct {
	Cash      float64
	FeesPaid  float64
	Positions map[string]float64
}

func NewLedger() *Ledger {
	return &Ledger{
		cash:      decimal.Zero,
		feesPaid:  decimal.Zero,
		positions: make(map[string]decimal.Decimal),
	}
}

// AddCash adds amount to cash. Negative amounts withdraw. It returns false and
// leaves cash untouched when amount is NaN or infinite.
func (l *Ledger) AddCash(amount float64) bool {
	if !finite(amount) {
		ledgerLog.Debug("Rejected cash change", "delta", amount)
		return false
	}
	l.addCash(decimal.NewFromFloat(amount))
	return true
}

func (l *Ledger) addCash(amount decimal.Decimal) {
	l.cash = l.cash.Add(amount)
	ledgerLog.Debug("Cash updated", "delta", amount.String(), "cash", l.cash.String())
}

// AddPosition changes the held quantity of symbol by delta. It returns false
// and leaves the ledger untouched if the holding would become negative or
// delta is not finite. A holding that returns to exactly zero is removed.
func (l *Ledger) AddPosition(symbol string, delta float64) bool {
	if !finite(delta) {
		ledgerLog.Debug("Rejected position change", "symbol", symbol, "delta", delta)
		return false
	}
	return l.addPosition(symbol, decimal.NewFromFloat(delta))
}

func (l *Ledger) addPosition(symbol string, delta decimal.Decimal) bool {
	next := l.positions[symbol].Add(delta)
	if next.IsNegative() {
		ledgerLog.Debug("Rejected position change", "symbol", symbol, "delta", delta.String(), "held", l.positions[symbol].String())
		return false
	}

	if next.IsZero() {
		delete(l.positions, symbol)
	} else {
		l.positions[symbol] = next
	}
	ledgerLog.Debug("Position updated", "symbol", symbol, "delta", delta.String(), "held", next.String())
	return true
}

// AddFee records amount as paid fees. It does not touch cash. NaN and infinite
// amounts are ignored and reported with false.
func (l *Ledger) AddFee(amount float64) bool {
	if !finite(amount) {
		return false
	}
	l.feesPaid = l.feesPaid.Add(decimal.NewFromFloat(amount))
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Settle books one trade: the holding of symbol moves by qtyDelta, cash by
// cashDelta and fee is added to the fees paid. Either all three apply or, when
// the holding would go negative, none do.
func (l *Ledger) Settle(symbol string, qtyDelta, cashDelta, fee decimal.Decimal) bool {
	if !l.addPosition(symbol, qtyDelta) {
		return false
	}
	l.addCash(cashDelta)
	l.feesPaid = l.feesPaid.Add(fee)
	return true
}

// CashDecimal is the exact cash balance.
func (l *Ledger) CashDecimal() decimal.Decimal {
	return l.cash
}

// PositionDecimal is the exact holding of symbol.
func (l *Ledger) PositionDecimal(symbol string) decimal.Decimal {
	return l.positions[symbol]
}

func (l *Ledger) Cash() float64 {
	return l.cash.InexactFloat64()
}

func (l *Ledger) FeesPaid() float64 {
	return l.feesPaid.InexactFloat64()
}

// Position returns the held quantity of symbol, zero if none.
func (l *Ledger) Position(symbol string) float64 {
	return l.positions[symbol].InexactFloat64()
}

// Symbols lists held symbols in sorted order.
func (l *Ledger) Symbols() []string {
	symbols := make([]string, 0, len(l.positions))
	for s := range l.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Valuation is cash plus every holding marked at price(symbol).
func (l *Ledger) Valuation(price func(symbol string) float64) float64 {
	total := l.cash
	for symbol, qty := range l.positions {
		total = total.Add(qty.Mul(decimal.NewFromFloat(price(symbol))))
	}
	return total.InexactFloat64()
}

func (l *Ledger) Snapshot() Snapshot {
	positions := make(map[string]float64, len(l.positions))
	for symbol, qty := range l.positions {
		positions[symbol] = qty.InexactFloat64()
	}
	return Snapshot{
		Cash:      l.Cash(),
		FeesPaid:  l.FeesPaid(),
		Positions: positions,
	}
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	s.Positions = maps.Clone(s.Positions)
	if s.Positions == nil {
		s.Positions = map[string]float64{}
	}
	return s
}

// Valuation marks the snapshot's holdings at price(symbol).
func (s Snapshot) Valuation(price func(symbol string) float64) float64 {
	total := decimal.NewFromFloat(s.Cash)
	for symbol, qty := range s.Positions {
		total = total.Add(decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price(symbol))))
	}
	return total.InexactFloat64()
}
