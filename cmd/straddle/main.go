// Command straddle backtests an intraday short-straddle strategy on index
// options and serves the stored results.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
