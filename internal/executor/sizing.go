package executor

import (
	"fmt"
	"math"
)

// SizingConfig holds the configured position-size ladder.
type SizingConfig struct {
	BaseUSD     float64
	Multipliers map[string]float64 // venue -> multiplier over base
	Overrides   map[string]float64 // venue -> absolute USD
}

// resolveSizeUSD picks the notional for an entry. Priority: explicit size on
// the intent, absolute venue override, venue multiplier times base, base.
func resolveSizeUSD(cfg SizingConfig, venue string, explicit float64) float64 {
	if explicit > 0 {
		return explicit
	}
	if usd, ok := cfg.Overrides[venue]; ok && usd > 0 {
		return usd
	}
	if mult, ok := cfg.Multipliers[venue]; ok && mult > 0 {
		return cfg.BaseUSD * mult
	}
	return cfg.BaseUSD
}

// computeQty converts USD notional at leverage into a base quantity rounded
// to the venue's precision for the symbol.
func computeQty(sizeUSD, leverage, price float64, precision int) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %v", price)
	}
	if leverage <= 0 {
		leverage = 1
	}
	qty := sizeUSD * leverage / price
	factor := math.Pow10(precision)
	qty = math.Floor(qty*factor) / factor
	if qty <= 0 {
		return 0, fmt.Errorf("size %.2f USD at price %v rounds to zero quantity", sizeUSD, price)
	}
	return qty, nil
}

// protectivePrices derives stop-loss and take-profit trigger prices.
// Percent values are percent of margin: the price delta is entry times
// pct/100 divided by leverage. Absolute values win over percents. A zero
// return means the level is not set.
func protectivePrices(entry, leverage float64, long bool, slPct, tpPct, slAbs, tpAbs float64) (stop, target float64) {
	if leverage <= 0 {
		leverage = 1
	}
	dir := 1.0
	if !long {
		dir = -1.0
	}
	if slAbs > 0 {
		stop = slAbs
	} else if slPct > 0 {
		stop = entry - dir*entry*(slPct/100)/leverage
	}
	if tpAbs > 0 {
		target = tpAbs
	} else if tpPct > 0 {
		target = entry + dir*entry*(tpPct/100)/leverage
	}
	return stop, target
}
