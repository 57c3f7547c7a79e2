package rounding

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	ModeNone   Mode = "none"
	ModeWhole  Mode = "whole"
	ModePlaces Mode = "places"
)

type Mode string

// Policy decides how simulated prices are rounded before they hit the ledger.
// The zero value does not round.
type Policy struct {
	Mode   Mode
	Places int32
}

var None = Policy{Mode: ModeNone}

var Whole = Policy{Mode: ModeWhole}

func Places(n int32) Policy {
	return Policy{Mode: ModePlaces, Places: n}
}

// Parse accepts "none", "whole" or a decimal place count such as "4".
func Parse(s string) (Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return None, nil
	case "whole", "0":
		return Whole, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Policy{}, fmt.Errorf("invalid price rounding %q (use: none, whole, or a number of decimal places)", s)
	}
	return Places(int32(n)), nil
}

// Apply rounds price half away from zero according to the policy.
func (p Policy) Apply(price float64) float64 {
	switch p.Mode {
	case ModeWhole:
		return decimal.NewFromFloat(price).Round(0).InexactFloat64()
	case ModePlaces:
		return decimal.NewFromFloat(price).Round(p.Places).InexactFloat64()
	default:
		return price
	}
}

func (p Policy) String() string {
	switch p.Mode {
	case ModeWhole:
		return "whole"
	case ModePlaces:
		return strconv.Itoa(int(p.Places))
	default:
		return "none"
	}
}
