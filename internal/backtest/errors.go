package backtest

import "errors"

// Expected negative outcomes. The engine state is unchanged whenever one is returned.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInsufficientHistory  = errors.New("insufficient history for lookback window")
	ErrInvalidQuantity      = errors.New("quantity must be positive and finite")
	ErrInvalidAmount        = errors.New("cash amount must be finite")
	ErrInvalidWindow        = errors.New("window resolution and count must be positive")
	ErrUnknownSymbol        = errors.New("unknown symbol")
	ErrUnknownResolution    = errors.New("unknown resolution")
	ErrUnknownPriceField    = errors.New("unknown price field")
)

// Construction errors.
var (
	ErrEmptyDataset   = errors.New("dataset has no bars")
	ErrMissingBase    = errors.New("symbol has no base resolution series")
	ErrLengthMismatch = errors.New("series lengths differ, dataset is not aligned")
	ErrMisaligned     = errors.New("series timestamps differ from the reference base series")
	ErrInvalidFeeRate = errors.New("fee rate must be finite and not negative")
)
