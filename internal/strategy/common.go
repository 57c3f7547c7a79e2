package strategy

import (
	"log/slog"

	"github.com/jwtly10/barsim/internal/backtest"
	"github.com/jwtly10/barsim/internal/types"
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimal places bought quantities are truncated to.
const DefaultPrecision = 8

type Base struct {
	symbols []string
	field   types.PriceField
	// precision of traded quantities, 0 for whole units
	precision int32
}

func NewBase(symbols []string, field types.PriceField, precision int32) Base {
	if field == "" {
		field = types.Close
	}
	if precision < 0 {
		precision = 0
	}
	return Base{
		symbols:   symbols,
		field:     field,
		precision: precision,
	}
}

// Symbols the strategy trades, or every symbol of the engine when none were given.
func (b Base) Symbols(e *backtest.Engine) []string {
	if len(b.symbols) == 0 {
		return e.Symbols()
	}
	return b.symbols
}

// AffordableQuantity is the largest quantity of symbol, truncated to the
// strategy's precision, whose cost including the buy fee fits in budget.
func (b Base) AffordableQuantity(e *backtest.Engine, symbol string, budget float64) (float64, error) {
	price, err := e.Price(symbol, b.field)
	if err != nil {
		return 0, err
	}
	if price <= 0 || budget <= 0 {
		return 0, nil
	}

	unitCost := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(e.Config().BuyFeeRate)))
	qty := decimal.NewFromFloat(budget).Div(unitCost).Truncate(b.precision)

	slog.Debug("Calculated affordable quantity", "symbol", symbol, "budget", budget, "price", price, "qty", qty.String())
	return qty.InexactFloat64(), nil
}
