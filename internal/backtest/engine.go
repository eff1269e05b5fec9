package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_straddle/internal/metrics"
	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
	"github.com/eddiefleurent/scranton_straddle/internal/util"
)

// Session is one trading date and the expiry whose options are traded on it.
type Session struct {
	Date   string `json:"date" yaml:"date"`
	Expiry string `json:"expiry" yaml:"expiry"`
}

// Result is the output of one backtest run.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Config     strategy.Config
	Trades     []models.Trade
	MinutePnL  map[models.MinuteKey][]models.MinutePnLRow
	Outcomes   []models.DayOutcome
}

// Intraday returns the minute P&L series of one attempt.
func (r *Result) Intraday(date string, reentry int) ([]models.MinutePnLRow, bool) {
	rows, ok := r.MinutePnL[models.MinuteKey{Date: date, Reentry: reentry}]
	return rows, ok
}

// Metrics recomputes the aggregate statistics from the trade log.
func (r *Result) Metrics() metrics.PerformanceMetrics {
	return metrics.Compute(r.Trades)
}

// Daily returns the per-date summary of the trade log.
func (r *Result) Daily() []metrics.DailyPnL {
	return metrics.DailySummary(r.Trades)
}

// SkippedDates lists dates where nothing was attempted.
func (r *Result) SkippedDates() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Skipped {
			out = append(out, o.Date)
		}
	}
	return out
}

// Engine runs the strategy across a schedule of sessions.
type Engine struct {
	cfg      strategy.Config
	provider provider.MarketDataProvider
	loc      *time.Location
	workers  int
	logger   logrus.FieldLogger
	clock    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers simulates up to n dates concurrently. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithLocation sets the exchange time zone session dates are read in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine validates cfg and returns an engine bound to p. An invalid
// config fails here, before any simulation.
func NewEngine(cfg strategy.Config, p provider.MarketDataProvider, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("market data provider is required")
	}
	e := &Engine{
		cfg:      cfg.Clone(),
		provider: p,
		loc:      time.UTC,
		workers:  1,
		logger:   logrus.StandardLogger(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns a copy of the engine's strategy config.
func (e *Engine) Config() strategy.Config {
	return e.cfg.Clone()
}

type dayResult struct {
	outcome models.DayOutcome
	results []strategy.SimulationResult
}

// Run simulates every session. A date's data problems are recorded in its
// outcome and never abort the run; only an unparsable schedule or context
// cancellation returns an error.
func (e *Engine) Run(ctx context.Context, sessions []Session) (*Result, error) {
	dates := make([]time.Time, len(sessions))
	// Results are keyed by date, so one date can carry only one session.
	seen := make(map[string]int, len(sessions))
	for i, s := range sessions {
		d, err := time.ParseInLocation(provider.DateLayout, s.Date, e.loc)
		if err != nil {
			return nil, fmt.Errorf("%w: session %d date %q: %v", models.ErrConfigInvalid, i, s.Date, err)
		}
		if prev, ok := seen[s.Date]; ok {
			return nil, fmt.Errorf("%w: session %d date %s is already scheduled by session %d",
				models.ErrConfigInvalid, i, s.Date, prev)
		}
		seen[s.Date] = i
		if _, err := time.Parse(provider.DateLayout, s.Expiry); err != nil {
			return nil, fmt.Errorf("%w: session %d expiry %q: %v", models.ErrConfigInvalid, i, s.Expiry, err)
		}
		dates[i] = d
	}

	res := &Result{
		RunID:     uuid.New().String(),
		StartedAt: e.clock(),
		Config:    e.cfg.Clone(),
		MinutePnL: make(map[models.MinuteKey][]models.MinutePnLRow),
	}
	log := e.logger.WithField("run_id", res.RunID)
	log.WithFields(logrus.Fields{
		"sessions": len(sessions),
		"workers":  e.workers,
		"symbol":   e.cfg.Symbol,
		"mode":     e.cfg.Mode.String(),
	}).Info("backtest started")

	// Each worker owns one slot; slots are merged in schedule order.
	days := make([]dayResult, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range sessions {
		i := i
		g.Go(func() error {
			day, err := e.runDay(gctx, sessions[i], dates[i], log)
			if err != nil {
				return err
			}
			days[i] = day
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("backtest canceled: %w", err)
	}

	for _, day := range days {
		for _, sim := range day.results {
			tr := sim.Trade
			tr.ID = util.NewTradeID(tr.EntryTime)
			res.Trades = append(res.Trades, tr)
			res.MinutePnL[tr.Key()] = sim.Minutes
		}
		res.Outcomes = append(res.Outcomes, day.outcome)
	}
	res.FinishedAt = e.clock()

	m := res.Metrics()
	log.WithFields(logrus.Fields{
		"trades":    m.TotalTrades,
		"days":      m.TradingDays,
		"skipped":   len(res.SkippedDates()),
		"total_pnl": m.TotalPnL,
		"elapsed":   res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
	}).Info("backtest finished")
	return res, nil
}

// runDay returns an error only when ctx is canceled.
func (e *Engine) runDay(ctx context.Context, s Session, date time.Time, log logrus.FieldLogger) (dayResult, error) {
	log = log.WithFields(logrus.Fields{"date": s.Date, "expiry": s.Expiry})
	entryAt := e.cfg.EntryTime.On(date)

	underlying, err := e.provider.UnderlyingPrice(ctx, e.cfg.Symbol, entryAt)
	if err != nil {
		if canceled(ctx, err) {
			return dayResult{}, err
		}
		log.WithError(err).Warn("no underlying price at entry, skipping date")
		return dayResult{outcome: models.DayOutcome{
			Date:    s.Date,
			Expiry:  s.Expiry,
			Skipped: true,
			Cause:   models.CauseDataGap,
			Error:   err.Error(),
		}}, nil
	}

	ctrl := NewReentryController(e.cfg, s.Date, s.Expiry, entryAt, underlying, log)
	refetch := func(ctx context.Context, at time.Time) (float64, error) {
		return e.provider.UnderlyingPrice(ctx, e.cfg.Symbol, at)
	}
	if err := ctrl.Run(ctx, e.attempt(s), refetch); err != nil {
		return dayResult{}, err
	}
	return dayResult{outcome: ctrl.Outcome(), results: ctrl.Results()}, nil
}

// attempt selects the ATM strike, fetches both legs and simulates.
func (e *Engine) attempt(s Session) AttemptFunc {
	return func(ctx context.Context, entry strategy.Entry) (*strategy.SimulationResult, error) {
		entry.Strike = strategy.ATMStrike(entry.Underlying, e.cfg.Index)

		var legs models.LegPair
		for _, right := range []models.Right{models.RightCall, models.RightPut} {
			bars, err := e.provider.OptionBars(ctx, provider.OptionBarsRequest{
				Symbol:   e.cfg.Symbol,
				Date:     s.Date,
				Expiry:   s.Expiry,
				Right:    right,
				Strike:   entry.Strike,
				Interval: e.cfg.Interval,
			})
			if err != nil {
				return nil, fmt.Errorf("%s %d bars: %w", right, entry.Strike, err)
			}
			if right == models.RightCall {
				legs.Call = bars
			} else {
				legs.Put = bars
			}
		}
		return strategy.Simulate(e.cfg, entry, legs)
	}
}
