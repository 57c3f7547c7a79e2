package strategy

import (
	"errors"
	"log/slog"

	"github.com/jwtly10/barsim/internal/backtest"
	"github.com/jwtly10/barsim/internal/types"
)

// BuyAndHold spends the cash on the first bar equally across its symbols and
// holds to the end.
type BuyAndHold struct {
	Base
	bought bool
}

func NewBuyAndHold(symbols []string, field types.PriceField, precision int32) *BuyAndHold {
	return &BuyAndHold{Base: NewBase(symbols, field, precision)}
}

func (s *BuyAndHold) OnBar(e *backtest.Engine) error {
	if s.bought {
		return nil
	}
	s.bought = true

	symbols := s.Symbols(e)
	for i, symbol := range symbols {
		// Split what is left so rounding never starves the last symbol.
		budget := e.Snapshot().Cash / float64(len(symbols)-i)
		qty, err := s.AffordableQuantity(e, symbol, budget)
		if err != nil {
			return err
		}
		if qty <= 0 {
			slog.Warn("Budget too small to buy", "symbol", symbol, "budget", budget)
			continue
		}

		err = e.Buy(symbol, qty, s.field)
		if errors.Is(err, backtest.ErrInsufficientFunds) {
			slog.Warn("Skipping buy", "symbol", symbol, "qty", qty, "error", err)
			continue
		}
		if err != nil {
			return err
		}
	}

	slog.Info("Opened buy and hold positions", "index", e.Index(), "timestamp", e.Timestamp(), "positions", e.Snapshot().Positions)
	return nil
}
