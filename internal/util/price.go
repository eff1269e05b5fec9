// Package util provides small helpers shared across the backtester.
package util

import "math"

// OptionTick is the minimum premium increment for index options on NSE.
const OptionTick = 0.05

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// A non-positive tick returns x unchanged.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	// Trim representation noise (e.g. 470*0.05) so the result prints cleanly.
	return math.Round(math.Round(x/tick)*tick*1e8) / 1e8
}

// RoundPremium rounds an option premium to OptionTick, never below one tick.
func RoundPremium(x float64) float64 {
	return math.Max(OptionTick, RoundToTick(x, OptionTick))
}
