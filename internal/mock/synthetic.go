// Package mock provides a deterministic synthetic market for demos and tests.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
	"github.com/eddiefleurent/scranton_straddle/internal/util"
)

const (
	sessionOpen  = 9*time.Hour + 15*time.Minute
	sessionClose = 15*time.Hour + 30*time.Minute
	minutesPerYr = 252 * 375
)

var basePrices = map[string]float64{
	"NIFTY":      23500,
	"BANKNIFTY":  50000,
	"FINNIFTY":   23000,
	"MIDCPNIFTY": 12000,
}

// SyntheticProvider generates minute bars from a seeded random walk. The
// same symbol and date always produce the same bars, so backtests over it
// are reproducible.
type SyntheticProvider struct {
	loc       *time.Location
	annualVol float64
	missing   map[string]bool
}

// Option configures a SyntheticProvider.
type Option func(*SyntheticProvider)

// WithAnnualVol sets the underlying's annualized volatility (default 0.14).
func WithAnnualVol(v float64) Option {
	return func(s *SyntheticProvider) {
		if v > 0 {
			s.annualVol = v
		}
	}
}

// WithMissingDates makes the listed dates return data gaps, like holidays.
func WithMissingDates(dates ...string) Option {
	return func(s *SyntheticProvider) {
		for _, d := range dates {
			s.missing[d] = true
		}
	}
}

// NewSyntheticProvider returns a provider whose session runs 09:15-15:30 in loc.
func NewSyntheticProvider(loc *time.Location, opts ...Option) *SyntheticProvider {
	if loc == nil {
		loc = time.UTC
	}
	s := &SyntheticProvider{loc: loc, annualVol: 0.14, missing: make(map[string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UnderlyingBars returns the whole session's underlying bars for date.
func (s *SyntheticProvider) UnderlyingBars(symbol, date string) ([]models.PriceBar, error) {
	if s.missing[date] {
		return nil, fmt.Errorf("%w: %s has no session on %s", models.ErrDataGap, symbol, date)
	}
	day, err := time.ParseInLocation(provider.DateLayout, date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad date %q", models.ErrDataGap, date)
	}
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return nil, fmt.Errorf("%w: %s is a weekend", models.ErrDataGap, date)
	}

	rng := rand.New(rand.NewSource(seed(symbol, date))) // #nosec G404 -- reproducible test data
	base, ok := basePrices[strings.ToUpper(symbol)]
	if !ok {
		base = 10000
	}
	// Open gaps up to about 1% either side; the day drifts up to 0.8%.
	price := base * (1 + (rng.Float64()-0.5)*0.02)
	drift := (rng.Float64() - 0.5) * 0.016 / 375
	sigma := s.annualVol / math.Sqrt(minutesPerYr)

	n := int((sessionClose-sessionOpen)/time.Minute) + 1
	bars := make([]models.PriceBar, n)
	start := day.Add(sessionOpen)
	for i := range bars {
		if i > 0 {
			price *= math.Exp(drift + sigma*rng.NormFloat64())
		}
		bars[i] = models.PriceBar{Timestamp: start.Add(time.Duration(i) * time.Minute), Close: util.RoundToTick(price, util.OptionTick)}
	}
	return bars, nil
}

// UnderlyingPrice implements provider.MarketDataProvider.
func (s *SyntheticProvider) UnderlyingPrice(ctx context.Context, symbol string, at time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bars, err := s.UnderlyingBars(symbol, at.In(s.loc).Format(provider.DateLayout))
	if err != nil {
		return 0, err
	}
	i := models.FirstAtOrAfter(bars, at)
	if i < 0 {
		return 0, fmt.Errorf("%w: no %s bar at or after %s", models.ErrDataGap, symbol, at.Format(time.DateTime))
	}
	return bars[i].Close, nil
}

// OptionBars implements provider.MarketDataProvider. Premiums follow the
// underlying path with an intrinsic part plus a normal-shaped time value
// that decays toward expiry.
func (s *SyntheticProvider) OptionBars(ctx context.Context, req provider.OptionBarsRequest) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Right.Valid() {
		return nil, fmt.Errorf("invalid option right %q", req.Right)
	}
	expiry, err := time.ParseInLocation(provider.DateLayout, req.Expiry, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry %q", models.ErrDataGap, req.Expiry)
	}
	expiry = expiry.Add(sessionClose)

	under, err := s.UnderlyingBars(req.Symbol, req.Date)
	if err != nil {
		return nil, err
	}
	if !under[0].Timestamp.Before(expiry) {
		return nil, fmt.Errorf("%w: %s expired on %s", models.ErrDataGap, req.Expiry, req.Date)
	}

	bars := make([]models.PriceBar, len(under))
	for i, u := range under {
		bars[i] = models.PriceBar{
			Timestamp: u.Timestamp,
			Close:     s.premium(req.Right, u.Close, float64(req.Strike), expiry.Sub(u.Timestamp)),
		}
	}
	return bars, nil
}

func (s *SyntheticProvider) premium(right models.Right, spot, strike float64, toExpiry time.Duration) float64 {
	years := math.Max(toExpiry.Hours()/24/365, 1.0/minutesPerYr)
	stdMove := s.annualVol * spot * math.Sqrt(years)

	intrinsic := math.Max(spot-strike, 0)
	if right == models.RightPut {
		intrinsic = math.Max(strike-spot, 0)
	}
	// 0.4 * sigma * S * sqrt(T) at the money, falling off with moneyness.
	z := (spot - strike) / stdMove
	timeValue := 0.4 * stdMove * math.Exp(-z*z/2)
	return util.RoundPremium(intrinsic + timeValue)
}

func seed(symbol, date string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToUpper(symbol) + "|" + date))
	return int64(h.Sum64() & math.MaxInt64)
}

var _ provider.MarketDataProvider = (*SyntheticProvider)(nil)
