package backtest

import (
	"fmt"

	"github.com/jwtly10/barsim/internal/types"
)

type Statistics struct {
	// Activity
	Steps int
	Buys  int
	Sells int

	// Value
	Deposits           float64
	FinalValue         float64
	TotalReturn        float64
	TotalReturnPercent float64
	FeesPaid           float64

	// Risk
	PeakValue          float64
	MaxDrawdown        float64
	MaxDrawdownPercent float64
}

func (r *Results) Calculate() *Statistics {
	// Return cached if already calculated
	if r.stats != nil {
		return r.stats
	}

	stats := &Statistics{
		Steps:      len(r.History.Entries),
		Deposits:   r.Deposits,
		FinalValue: r.FinalValue,
		FeesPaid:   r.History.FeesPaid,
		PeakValue:  r.Deposits,
	}

	for _, fill := range r.Fills {
		switch fill.Side {
		case types.BUY:
			stats.Buys++
		case types.SELL:
			stats.Sells++
		}
	}

	stats.TotalReturn = r.FinalValue - r.Deposits
	if r.Deposits != 0 {
		stats.TotalReturnPercent = stats.TotalReturn / r.Deposits * 100
	}

	for _, entry := range r.History.Entries {
		if entry.Valuation > stats.PeakValue {
			stats.PeakValue = entry.Valuation
		}
		if dd := stats.PeakValue - entry.Valuation; dd > stats.MaxDrawdown {
			stats.MaxDrawdown = dd
			if stats.PeakValue > 0 {
				stats.MaxDrawdownPercent = dd / stats.PeakValue * 100
			}
		}
	}

	r.stats = stats
	return stats
}

func (s *Statistics) Print() {
	fmt.Println("\n=== Replay Results ===")
	fmt.Printf("Steps:            %d\n", s.Steps)
	fmt.Printf("Buys / Sells:     %d / %d\n\n", s.Buys, s.Sells)

	fmt.Printf("Deposits:         %.2f\n", s.Deposits)
	fmt.Printf("Final Value:      %.2f\n", s.FinalValue)
	fmt.Printf("Total Return:     %.2f (%.2f%%)\n", s.TotalReturn, s.TotalReturnPercent)
	fmt.Printf("Fees Paid:        %.2f\n\n", s.FeesPaid)

	fmt.Printf("Peak Value:       %.2f\n", s.PeakValue)
	fmt.Printf("Max Drawdown:     %.2f (%.2f%%)\n", s.MaxDrawdown, s.MaxDrawdownPercent)
}

func (r *Results) PrintFills() {
	r.PrintFillsBetween(0, len(r.Fills))
}

// PrintFillsBetween prints fills[from:to], clamped to the available range.
func (r *Results) PrintFillsBetween(from, to int) {
	from = max(from, 0)
	to = min(to, len(r.Fills))

	fmt.Println("\n=== Fill List ===")
	for i := from; i < to; i++ {
		fill := r.Fills[i]
		fmt.Printf("#%d | %s | %s | Qty: %.4f | Price: %.5f | Fee: %.2f | %s\n",
			i+1,
			fill.Side,
			fill.Symbol,
			fill.Quantity,
			fill.Price,
			fill.Fee,
			fill.Timestamp.Format("2006-01-02 15:04"),
		)
	}
}
