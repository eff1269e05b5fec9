package strategy

import "math"

// ATMStrike returns the listed strike nearest to the underlying price.
// A remainder of at least half an interval rounds up, anything less rounds down.
func ATMStrike(underlying float64, class InstrumentClass) int {
	step := float64(class.StrikeInterval())
	remainder := math.Mod(underlying, step)
	if remainder >= step/2 {
		return int(underlying - remainder + step)
	}
	return int(underlying - remainder)
}
