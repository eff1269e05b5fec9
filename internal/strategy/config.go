// Package strategy implements the short-straddle entry, exit and P&L rules.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// InstrumentClass is the index whose options are traded.
type InstrumentClass string

const (
	Nifty      InstrumentClass = "NIFTY"
	BankNifty  InstrumentClass = "BANKNIFTY"
	FinNifty   InstrumentClass = "FINNIFTY"
	MidcpNifty InstrumentClass = "MIDCPNIFTY"
)

// defaultStrikeInterval is used for classes without a listed interval
const defaultStrikeInterval = 50

var strikeIntervals = map[InstrumentClass]int{
	Nifty:      50,
	BankNifty:  100,
	FinNifty:   50,
	MidcpNifty: 25,
}

// StrikeInterval returns the listed strike spacing for the class.
func (c InstrumentClass) StrikeInterval() int {
	if v, ok := strikeIntervals[InstrumentClass(strings.ToUpper(string(c)))]; ok {
		return v
	}
	return defaultStrikeInterval
}

// ExitMode selects how stop-loss and take-profit are measured.
type ExitMode int

const (
	// ModeCombined measures thresholds on the summed premium of both legs
	ModeCombined ExitMode = iota
	// ModePerLeg measures thresholds on each leg against its own entry
	ModePerLeg
)

func (m ExitMode) String() string {
	if m == ModePerLeg {
		return "per_leg"
	}
	return "combined"
}

// Clock is a time of day expressed as an offset from midnight.
type Clock time.Duration

// ParseClock accepts "15:04:05" or "15:04".
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (want HH:MM[:SS])", s)
}

// MustClock is ParseClock for literals; it panics on bad input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// On returns the clock time on the calendar day of date, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, date.Location()).Add(time.Duration(c))
}

func (c Clock) String() string {
	d := time.Duration(c)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Config is the immutable parameter set for one backtest run. Callers
// that need a variation build a new value with WithOverrides.
type Config struct {
	Symbol           string
	Index            InstrumentClass
	EntryTime        Clock
	ExitTime         Clock
	LotSize          int
	LotMultiplier    int
	StopLossPct      float64
	TakeProfitPct    *float64 // nil disables take-profit
	Mode             ExitMode
	MaxReentries     int
	ReentryDelay     time.Duration
	MaxDailyLoss     float64
	CommissionPerLot float64
	SlippagePoints   float64
	Interval         string
}

// DefaultConfig mirrors the stock NIFTY straddle parameters.
func DefaultConfig() Config {
	return Config{
		Symbol:           "NIFTY",
		Index:            Nifty,
		EntryTime:        MustClock("09:20:00"),
		ExitTime:         MustClock("15:20:00"),
		LotSize:          75,
		LotMultiplier:    1,
		StopLossPct:      25,
		Mode:             ModePerLeg,
		MaxReentries:     10,
		ReentryDelay:     5 * time.Minute,
		MaxDailyLoss:     10000,
		CommissionPerLot: 20,
		SlippagePoints:   0.3,
		Interval:         "1minute",
	}
}

// Quantity is the number of units per leg: lot size times lot multiplier.
func (c Config) Quantity() float64 {
	return float64(c.LotSize) * float64(c.LotMultiplier)
}

// TakeProfit returns the take-profit threshold and whether one is set.
func (c Config) TakeProfit() (float64, bool) {
	if c.TakeProfitPct == nil {
		return 0, false
	}
	return *c.TakeProfitPct, true
}

// Clone returns a deep copy so the receiver can never be mutated through it.
func (c Config) Clone() Config {
	out := c
	if c.TakeProfitPct != nil {
		tp := *c.TakeProfitPct
		out.TakeProfitPct = &tp
	}
	return out
}

// Overrides are the parameters a sweep may vary. Nil fields keep the base value.
type Overrides struct {
	StopLossPct   *float64
	TakeProfitPct *float64
	NoTakeProfit  bool // disables take-profit; wins over TakeProfitPct
	MaxReentries  *int
	ReentryDelay  *time.Duration
	MaxDailyLoss  *float64
}

// WithOverrides returns a fresh Config with the non-nil overrides applied.
func (c Config) WithOverrides(o Overrides) Config {
	out := c.Clone()
	if o.StopLossPct != nil {
		out.StopLossPct = *o.StopLossPct
	}
	if o.TakeProfitPct != nil {
		tp := *o.TakeProfitPct
		out.TakeProfitPct = &tp
	}
	if o.NoTakeProfit {
		out.TakeProfitPct = nil
	}
	if o.MaxReentries != nil {
		out.MaxReentries = *o.MaxReentries
	}
	if o.ReentryDelay != nil {
		out.ReentryDelay = *o.ReentryDelay
	}
	if o.MaxDailyLoss != nil {
		out.MaxDailyLoss = *o.MaxDailyLoss
	}
	return out
}

// Validate checks the parameters before any simulation runs.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", models.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Symbol) == "" {
		return invalid("symbol is required")
	}
	if c.LotSize <= 0 {
		return invalid("lot_size must be > 0 (got %d)", c.LotSize)
	}
	if c.LotMultiplier <= 0 {
		return invalid("lot_multiplier must be > 0 (got %d)", c.LotMultiplier)
	}
	if c.StopLossPct <= 0 {
		return invalid("stop_loss_pct must be > 0 (got %.2f)", c.StopLossPct)
	}
	if tp, ok := c.TakeProfit(); ok && tp <= 0 {
		return invalid("target_profit_pct must be > 0 when set (got %.2f)", tp)
	}
	if c.EntryTime >= c.ExitTime {
		return invalid("entry_time (%s) must be before exit_time (%s)", c.EntryTime, c.ExitTime)
	}
	if c.ExitTime >= Clock(24*time.Hour) {
		return invalid("exit_time must be within the trading day")
	}
	if c.MaxReentries < 0 {
		return invalid("max_reentries must be >= 0 (got %d)", c.MaxReentries)
	}
	if c.ReentryDelay < 0 {
		return invalid("reentry_delay_minutes must be >= 0")
	}
	if c.MaxDailyLoss <= 0 {
		return invalid("max_loss_per_day must be > 0 (got %.2f)", c.MaxDailyLoss)
	}
	if c.CommissionPerLot < 0 {
		return invalid("commission_per_lot must be >= 0 (got %.2f)", c.CommissionPerLot)
	}
	if c.SlippagePoints < 0 {
		return invalid("slippage_points must be >= 0 (got %.2f)", c.SlippagePoints)
	}
	return nil
}
