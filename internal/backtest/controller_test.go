package backtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

var day = time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	return strategy.MustClock(hhmm).On(day)
}

// scriptedAttempts returns one canned outcome per call and records entries.
type scriptedAttempts struct {
	entries []strategy.Entry
	reasons []models.ExitReason
	netPnL  float64
	errAt   int // 1-based attempt that fails; 0 never
	err     error
	holding time.Duration
}

func (s *scriptedAttempts) attempt(_ context.Context, e strategy.Entry) (*strategy.SimulationResult, error) {
	s.entries = append(s.entries, e)
	n := len(s.entries)
	if s.errAt == n {
		return nil, s.err
	}
	reason := s.reasons[len(s.reasons)-1]
	if n <= len(s.reasons) {
		reason = s.reasons[n-1]
	}
	hold := s.holding
	if hold == 0 {
		hold = 10 * time.Minute
	}
	exitAt := e.Time.Add(hold)
	return &strategy.SimulationResult{
		Trade: models.Trade{
			Date:      e.Date,
			Reentry:   e.Reentry,
			EntryTime: e.Time,
			NetPnL:    s.netPnL,
			Exit:      models.ExitEvent{Reason: reason, Timestamp: exitAt},
		},
		Minutes: []models.MinutePnLRow{{Timestamp: exitAt}},
	}, nil
}

type refetchCounter struct {
	calls []time.Time
	err   error
}

func (r *refetchCounter) fetch(_ context.Context, t time.Time) (float64, error) {
	r.calls = append(r.calls, t)
	if r.err != nil {
		return 0, r.err
	}
	return 23500 + float64(len(r.calls))*10, nil
}

func newController(t *testing.T, mutate func(*strategy.Config)) *ReentryController {
	t.Helper()
	cfg := strategy.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())
	logger, _ := test.NewNullLogger()
	return NewReentryController(cfg, "2025-02-03", "2025-02-06", at("09:20"), 23480, logger)
}

func TestReentryController_LimitBoundsTrades(t *testing.T) {
	ctrl := newController(t, func(c *strategy.Config) { c.MaxReentries = 2 })
	script := &scriptedAttempts{reasons: []models.ExitReason{models.ExitStopLoss}, netPnL: -100}
	refetch := &refetchCounter{}

	require.NoError(t, ctrl.Run(context.Background(), script.attempt, refetch.fetch))

	require.Len(t, ctrl.Results(), 3, "initial entry plus two re-entries")
	assert.Equal(t, models.DayStopped, ctrl.State())
	out := ctrl.Outcome()
	assert.Equal(t, models.CauseReentryLimitReached, out.Cause)
	assert.Equal(t, 3, out.Trades)
	assert.Equal(t, 2, out.Reentries)
	assert.Equal(t, -300.0, out.NetPnL)
	assert.Empty(t, out.Error)

	// exit 09:30 + 5m delay, then exit 09:45 + 5m delay
	assert.Equal(t, []time.Time{at("09:20"), at("09:35"), at("09:50")},
		[]time.Time{script.entries[0].Time, script.entries[1].Time, script.entries[2].Time})
	assert.Equal(t, []time.Time{at("09:30"), at("09:45")}, refetch.calls, "underlying refetched at each stop-loss exit")
	assert.Equal(t, 23480.0, script.entries[0].Underlying)
	assert.Equal(t, 23510.0, script.entries[1].Underlying)
	assert.Equal(t, 2, script.entries[2].Reentry)
}

func TestReentryController_DailyLossCap(t *testing.T) {
	ctrl := newController(t, func(c *strategy.Config) { c.MaxDailyLoss = 5000 })
	script := &scriptedAttempts{reasons: []models.ExitReason{models.ExitStopLoss}, netPnL: -2600}
	refetch := &refetchCounter{}

	require.NoError(t, ctrl.Run(context.Background(), script.attempt, refetch.fetch))

	assert.Len(t, script.entries, 2, "no third attempt once the day is at -5200")
	out := ctrl.Outcome()
	assert.Equal(t, models.CauseMaxLossReached, out.Cause)
	assert.Equal(t, -5200.0, out.NetPnL)
	assert.Len(t, refetch.calls, 1, "no refetch once the cap is hit")
}

func TestReentryController_NormalExit(t *testing.T) {
	for _, reason := range []models.ExitReason{models.ExitTakeProfit, models.ExitEndOfWindow} {
		t.Run(string(reason), func(t *testing.T) {
			ctrl := newController(t, nil)
			script := &scriptedAttempts{reasons: []models.ExitReason{reason}, netPnL: 500}
			refetch := &refetchCounter{}

			require.NoError(t, ctrl.Run(context.Background(), script.attempt, refetch.fetch))
			assert.Len(t, ctrl.Results(), 1)
			assert.Equal(t, models.CauseNormalExit, ctrl.Outcome().Cause)
			assert.Empty(t, refetch.calls)
		})
	}
}

func TestReentryController_ZeroReentries(t *testing.T) {
	ctrl := newController(t, func(c *strategy.Config) { c.MaxReentries = 0 })
	script := &scriptedAttempts{reasons: []models.ExitReason{models.ExitStopLoss}, netPnL: -10}

	require.NoError(t, ctrl.Run(context.Background(), script.attempt, (&refetchCounter{}).fetch))
	assert.Len(t, ctrl.Results(), 1)
	assert.Equal(t, models.CauseReentryLimitReached, ctrl.Outcome().Cause)
}

func TestReentryController_AttemptErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		cause models.DayStopCause
	}{
		{"data gap", fmt.Errorf("put bars: %w", models.ErrDataGap), models.CauseDataGap},
		{"provider unavailable", fmt.Errorf("call bars: %w", models.ErrProviderUnavailable), models.CauseDataGap},
		{"non-positive premium", fmt.Errorf("%w: entry premium must be positive", models.ErrConfigInvalid), models.CauseSimulationError},
		{"unexpected", errors.New("boom"), models.CauseSimulationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newController(t, nil)
			script := &scriptedAttempts{
				reasons: []models.ExitReason{models.ExitStopLoss},
				netPnL:  -100,
				errAt:   2,
				err:     tt.err,
			}
			require.NoError(t, ctrl.Run(context.Background(), script.attempt, (&refetchCounter{}).fetch))

			out := ctrl.Outcome()
			assert.Equal(t, tt.cause, out.Cause)
			assert.Equal(t, 1, out.Trades, "the first trade stays recorded")
			assert.Equal(t, 1, out.Reentries)
			assert.Contains(t, out.Error, tt.err.Error())
		})
	}
}

func TestReentryController_RefetchFailure(t *testing.T) {
	ctrl := newController(t, nil)
	script := &scriptedAttempts{reasons: []models.ExitReason{models.ExitStopLoss}, netPnL: -100}
	refetch := &refetchCounter{err: fmt.Errorf("%w: no bar", models.ErrDataGap)}

	require.NoError(t, ctrl.Run(context.Background(), script.attempt, refetch.fetch))
	assert.Len(t, script.entries, 1)
	out := ctrl.Outcome()
	assert.Equal(t, models.CauseDataGap, out.Cause)
	assert.Equal(t, 0, out.Reentries)
	assert.Contains(t, out.Error, "refetch underlying at 09:30:00")
}

func TestReentryController_ReentryCutoff(t *testing.T) {
	// Entries start at 09:20; exit time is 15:20 and the delay is 5 minutes.
	tests := []struct {
		name    string
		holding time.Duration
		stopped bool
	}{
		{"past exit time", 5*time.Hour + 58*time.Minute, true}, // re-entry 15:23
		{"at exit time", 5*time.Hour + 55*time.Minute, true},   // re-entry 15:20
		{"before exit time", 5*time.Hour + 54*time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newController(t, func(c *strategy.Config) { c.MaxReentries = 1 })
			script := &scriptedAttempts{
				reasons: []models.ExitReason{models.ExitStopLoss},
				netPnL:  -100,
				holding: tt.holding,
			}
			refetch := &refetchCounter{}

			require.NoError(t, ctrl.Run(context.Background(), script.attempt, refetch.fetch))
			if tt.stopped {
				assert.Len(t, script.entries, 1)
				assert.Empty(t, refetch.calls)
				assert.Equal(t, models.CauseDataGap, ctrl.Outcome().Cause)
				assert.Contains(t, ctrl.Outcome().Error, "at or past exit time")
				return
			}
			require.Len(t, script.entries, 2)
			assert.Len(t, refetch.calls, 1)
			assert.Equal(t, "15:19", script.entries[1].Time.Format("15:04"))
		})
	}
}

func TestReentryController_Canceled(t *testing.T) {
	ctrl := newController(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	attempt := func(ctx context.Context, _ strategy.Entry) (*strategy.SimulationResult, error) {
		cancel()
		return nil, ctx.Err()
	}

	err := ctrl.Run(ctx, attempt, (&refetchCounter{}).fetch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.DayActive, ctrl.State(), "cancellation is not a day outcome")
}

func TestDailyLedger(t *testing.T) {
	l := NewDailyLedger("2025-02-03")
	assert.False(t, l.LossCapReached(5000))
	l.Record(models.Trade{NetPnL: -3000})
	l.Record(models.Trade{NetPnL: -2000})
	assert.Equal(t, "2025-02-03", l.Date())
	assert.Equal(t, 2, l.Trades())
	assert.Equal(t, -5000.0, l.NetPnL())
	assert.True(t, l.LossCapReached(5000), "cap is inclusive")
}
