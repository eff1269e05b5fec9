// Package provider defines the market data boundary of the backtester and
// the implementations and wrappers that sit behind it.
package provider

import (
	"context"
	"time"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// DateLayout is the calendar date format used for trading dates and expiries.
const DateLayout = "2006-01-02"

// OptionBarsRequest identifies one option leg's bars for one trading day.
type OptionBarsRequest struct {
	Symbol   string
	Date     string
	Expiry   string
	Right    models.Right
	Strike   int
	Interval string
}

// MarketDataProvider supplies historical prices.
//
// Implementations return an error wrapping models.ErrDataGap when the data
// does not exist and models.ErrProviderUnavailable when it could not be
// retrieved. Only the latter is worth retrying.
type MarketDataProvider interface {
	// UnderlyingPrice returns the close of the first underlying bar at or after at.
	UnderlyingPrice(ctx context.Context, symbol string, at time.Time) (float64, error)
	// OptionBars returns the leg's bars for the whole trading day, ordered by time.
	OptionBars(ctx context.Context, req OptionBarsRequest) ([]models.PriceBar, error)
}
