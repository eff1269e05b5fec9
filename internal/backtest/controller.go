// Package backtest drives the straddle strategy across trading dates: the
// per-date re-entry state machine, the multi-date engine and parameter sweeps.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

// AttemptFunc runs one entry attempt. The entry carries the date, expiry,
// re-entry index, entry time and underlying price; the strike is left for
// the attempt to select.
type AttemptFunc func(ctx context.Context, entry strategy.Entry) (*strategy.SimulationResult, error)

// UnderlyingFetcher returns the underlying price at or after at.
type UnderlyingFetcher func(ctx context.Context, at time.Time) (float64, error)

// ReentryController runs one date's attempts until the day stops: after a
// stop-loss it re-enters at a fresh ATM strike, bounded by the re-entry
// limit and the daily loss cap.
type ReentryController struct {
	cfg     strategy.Config
	date    string
	expiry  string
	sm      *models.DayStateMachine
	ledger  *DailyLedger
	results []strategy.SimulationResult
	err     error
	logger  logrus.FieldLogger
}

// NewReentryController starts the day Active at entryTime with the day's
// opening underlying price.
func NewReentryController(cfg strategy.Config, date, expiry string, entryTime time.Time,
	underlying float64, logger logrus.FieldLogger) *ReentryController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReentryController{
		cfg:    cfg,
		date:   date,
		expiry: expiry,
		sm:     models.NewDayStateMachine(entryTime, underlying, cfg.MaxReentries),
		ledger: NewDailyLedger(date),
		logger: logger.WithFields(logrus.Fields{"date": date, "expiry": expiry}),
	}
}

// Run drives the day to DayStopped. The only error returned is context
// cancellation; every other failure stops the day with a recorded cause.
func (c *ReentryController) Run(ctx context.Context, attempt AttemptFunc, refetch UnderlyingFetcher) error {
	for c.sm.State() == models.DayActive {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.ledger.LossCapReached(c.cfg.MaxDailyLoss) {
			c.stop(models.CauseMaxLossReached, nil)
			break
		}

		entry := strategy.Entry{
			Date:       c.date,
			Expiry:     c.expiry,
			Reentry:    c.sm.ReentryCount(),
			Time:       c.sm.EntryTime(),
			Underlying: c.sm.Underlying(),
		}
		res, err := attempt(ctx, entry)
		if err != nil {
			if canceled(ctx, err) {
				return err
			}
			c.stop(stopCauseFor(err), err)
			break
		}
		c.record(res)

		if res.Trade.Exit.Reason != models.ExitStopLoss {
			c.stop(models.CauseNormalExit, nil)
			break
		}
		switch {
		case !c.sm.CanReenter():
			c.stop(models.CauseReentryLimitReached, nil)
		case c.ledger.LossCapReached(c.cfg.MaxDailyLoss):
			c.stop(models.CauseMaxLossReached, nil)
		default:
			if err := c.reenter(ctx, res.Trade.Exit.Timestamp, refetch); err != nil {
				return err
			}
		}
	}
	return nil
}

// reenter is the StopLoss -> Active transition: refetch the underlying at
// the exit timestamp and move the pending entry past the re-entry delay.
func (c *ReentryController) reenter(ctx context.Context, exitAt time.Time, refetch UnderlyingFetcher) error {
	next := exitAt.Add(c.cfg.ReentryDelay)
	// An entry at the exit time would open and close on the same bar.
	if cutoff := c.cfg.ExitTime.On(exitAt); !next.Before(cutoff) {
		c.stop(models.CauseDataGap, fmt.Errorf("%w: re-entry at %s is at or past exit time %s",
			models.ErrDataGap, next.Format("15:04:05"), cutoff.Format("15:04:05")))
		return nil
	}

	price, err := refetch(ctx, exitAt)
	if err != nil {
		if canceled(ctx, err) {
			return err
		}
		c.stop(models.CauseDataGap, fmt.Errorf("refetch underlying at %s: %w", exitAt.Format("15:04:05"), err))
		return nil
	}
	if err := c.sm.Reenter(next, price); err != nil {
		c.stop(models.CauseSimulationError, err)
		return nil
	}
	c.logger.WithFields(logrus.Fields{
		"reentry":    c.sm.ReentryCount(),
		"entry_time": next.Format("15:04:05"),
		"underlying": price,
	}).Debug("re-entering after stop-loss")
	return nil
}

func (c *ReentryController) record(res *strategy.SimulationResult) {
	c.results = append(c.results, *res)
	c.ledger.Record(res.Trade)
	c.logger.WithFields(logrus.Fields{
		"reentry":  res.Trade.Reentry,
		"strike":   res.Trade.Strike,
		"reason":   res.Trade.Exit.Reason,
		"net_pnl":  res.Trade.NetPnL,
		"day_pnl":  c.ledger.NetPnL(),
		"exit_at":  res.Trade.Exit.Timestamp.Format("15:04:05"),
		"entry_at": res.Trade.EntryTime.Format("15:04:05"),
	}).Debug("trade recorded")
}

func (c *ReentryController) stop(cause models.DayStopCause, err error) {
	if serr := c.sm.Stop(cause); serr != nil {
		// Only reachable through a programming error; keep the first cause.
		c.logger.WithError(serr).Error("day already stopped")
		return
	}
	c.err = err
	entry := c.logger.WithFields(logrus.Fields{
		"cause":   cause,
		"trades":  c.ledger.Trades(),
		"day_pnl": c.ledger.NetPnL(),
	})
	if err != nil {
		entry.WithError(err).Warn("day stopped")
		return
	}
	entry.Info("day stopped")
}

// Results returns the simulation results recorded so far, in attempt order.
func (c *ReentryController) Results() []strategy.SimulationResult {
	return c.results
}

// Ledger returns the day's ledger.
func (c *ReentryController) Ledger() *DailyLedger {
	return c.ledger
}

// State returns the day's current state.
func (c *ReentryController) State() models.DayState {
	return c.sm.State()
}

// Outcome summarizes the day for reporting.
func (c *ReentryController) Outcome() models.DayOutcome {
	out := models.DayOutcome{
		Date:      c.date,
		Expiry:    c.expiry,
		Cause:     c.sm.Cause(),
		Trades:    c.ledger.Trades(),
		Reentries: c.sm.ReentryCount(),
		NetPnL:    c.ledger.NetPnL(),
	}
	if c.err != nil {
		out.Error = c.err.Error()
	}
	return out
}

// stopCauseFor maps an attempt failure to the day's stop cause. Missing or
// unreachable data is a data gap; anything else failed the simulation.
func stopCauseFor(err error) models.DayStopCause {
	switch {
	case errors.Is(err, models.ErrDataGap), errors.Is(err, models.ErrProviderUnavailable):
		return models.CauseDataGap
	default:
		return models.CauseSimulationError
	}
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
