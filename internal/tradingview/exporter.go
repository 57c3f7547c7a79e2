package tradingview

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jwtly10/barsim/internal/backtest"
	"github.com/jwtly10/barsim/internal/types"
)

func allowDump() bool {
	// Get OS Env for dump DEBUG_DUMP=1 etc
	debugDump := os.Getenv("DEBUG_DUMP")
	if debugDump == "1" {
		slog.Info("DEBUG_DUMP=1, dumping to stderr")
		return true
	}

	return false
}

func DumpPineScript(fills []backtest.Fill) {
	if !allowDump() {
		return
	}

	pineCode := generateFillPinescript(fills)
	fmt.Fprintln(os.Stderr, pineCode)
}

// generateFillPinescript renders one Pine Script marker per fill, buys below
// the bar and sells above it, labelled with symbol, quantity, price and fee.
func generateFillPinescript(fills []backtest.Fill) string {
	var sb strings.Builder

	sb.WriteString("// ============================================\n")
	sb.WriteString("// FILL VALIDATION MARKERS\n")
	sb.WriteString("// ============================================\n\n")

	for i, fill := range fills {
		n := i + 1
		timestamp := formatPineTimestamp(fill.Timestamp)
		text := fmt.Sprintf("#%d %s %s\\nQty: %g\\nPrice: %.5f\\nFee: %.5f",
			n, fill.Side, fill.Symbol, fill.Quantity, fill.Price, fill.Fee)

		location, color, style := "location.bottom", "color.blue", "shape.labelup"
		if fill.Side == types.SELL {
			location, color, style = "location.top", "color.orange", "shape.labeldown"
		}

		sb.WriteString(fmt.Sprintf("f%d = time == %s\n", n, timestamp))
		sb.WriteString(fmt.Sprintf("plotshape(f%d, title=\"#%d %s %s\", location=%s, color=%s, style=%s, size=size.small, text=\"%s\", textcolor=color.white)\n\n",
			n, n, fill.Side, fill.Symbol, location, color, style, text))
	}

	return sb.String()
}

func formatPineTimestamp(t time.Time) string {
	utc := t.UTC()
	return fmt.Sprintf("timestamp(\"UTC\", %d, %d, %d, %d, %d)",
		utc.Year(), int(utc.Month()), utc.Day(), utc.Hour(), utc.Minute())
}
