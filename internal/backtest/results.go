package backtest

type Results struct {
	// Deposits is the net cash added to the ledger, the baseline for returns.
	Deposits   float64
	FinalValue float64
	History    History
	Fills      []Fill

	stats *Statistics
}
