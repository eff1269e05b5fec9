package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

// MockProvider is a testify mock of provider.MarketDataProvider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) UnderlyingPrice(ctx context.Context, symbol string, at time.Time) (float64, error) {
	args := m.Called(ctx, symbol, at)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockProvider) OptionBars(ctx context.Context, req provider.OptionBarsRequest) ([]models.PriceBar, error) {
	args := m.Called(ctx, req)
	bars, _ := args.Get(0).([]models.PriceBar)
	return bars, args.Error(1)
}

// sessionBars builds 09:15-15:30 minute bars whose close is price(t).
func sessionBars(date string, price func(time.Time) float64) []models.PriceBar {
	d, _ := time.Parse(provider.DateLayout, date)
	start := strategy.MustClock("09:15").On(d)
	end := strategy.MustClock("15:30").On(d)
	var bars []models.PriceBar
	for ts := start; !ts.After(end); ts = ts.Add(time.Minute) {
		bars = append(bars, models.PriceBar{Timestamp: ts, Close: price(ts)})
	}
	return bars
}

func flat(v float64) func(time.Time) float64 {
	return func(time.Time) float64 { return v }
}

func leg(date, expiry string, right models.Right, strike int) provider.OptionBarsRequest {
	return provider.OptionBarsRequest{
		Symbol: "NIFTY", Date: date, Expiry: expiry, Right: right, Strike: strike, Interval: "1minute",
	}
}

// threeDayFixture: a quiet day, a day with no data, and a day with one
// stop-loss followed by a re-entry at a higher strike.
func threeDayFixture() (*provider.MemoryProvider, []Session) {
	p := provider.NewMemoryProvider()
	sessions := []Session{
		{Date: "2025-02-03", Expiry: "2025-02-06"},
		{Date: "2025-02-04", Expiry: "2025-02-06"},
		{Date: "2025-02-05", Expiry: "2025-02-06"},
	}

	// Day 1: 23480 -> strike 23500, both legs flat.
	p.SetUnderlying("NIFTY", "2025-02-03", sessionBars("2025-02-03", flat(23480)))
	p.SetOptionBars(leg("2025-02-03", "2025-02-06", models.RightCall, 23500), sessionBars("2025-02-03", flat(100)))
	p.SetOptionBars(leg("2025-02-03", "2025-02-06", models.RightPut, 23500), sessionBars("2025-02-03", flat(100)))

	// Day 2: nothing.

	// Day 3: call spikes 30% at 09:25, underlying moves to 23530 -> strike 23550.
	d3 := "2025-02-05"
	spike := strategy.MustClock("09:25")
	p.SetUnderlying("NIFTY", d3, sessionBars(d3, func(ts time.Time) float64 {
		if ts.Before(spike.On(ts)) {
			return 23490
		}
		return 23530
	}))
	p.SetOptionBars(leg(d3, "2025-02-06", models.RightCall, 23500), sessionBars(d3, func(ts time.Time) float64 {
		if ts.Before(spike.On(ts)) {
			return 100
		}
		return 130
	}))
	p.SetOptionBars(leg(d3, "2025-02-06", models.RightPut, 23500), sessionBars(d3, flat(90)))
	p.SetOptionBars(leg(d3, "2025-02-06", models.RightCall, 23550), sessionBars(d3, flat(110)))
	p.SetOptionBars(leg(d3, "2025-02-06", models.RightPut, 23550), sessionBars(d3, flat(95)))
	return p, sessions
}

func newTestEngine(t *testing.T, p provider.MarketDataProvider, opts ...Option) *Engine {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e, err := NewEngine(strategy.DefaultConfig(), p, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestEngine_Run(t *testing.T) {
	p, sessions := threeDayFixture()
	res, err := newTestEngine(t, p).Run(context.Background(), sessions)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, models.CauseNormalExit, res.Outcomes[0].Cause)
	assert.True(t, res.Outcomes[1].Skipped, "missing date is skipped, not fatal")
	assert.Equal(t, models.CauseDataGap, res.Outcomes[1].Cause)
	assert.NotEmpty(t, res.Outcomes[1].Error)
	assert.Equal(t, models.CauseNormalExit, res.Outcomes[2].Cause)
	assert.Equal(t, 1, res.Outcomes[2].Reentries)
	assert.Equal(t, []string{"2025-02-04"}, res.SkippedDates())

	require.Len(t, res.Trades, 3)
	first := res.Trades[0]
	assert.Equal(t, 23500, first.Strike)
	assert.Equal(t, models.ExitEndOfWindow, first.Exit.Reason)
	// four slipped fills of 0.3 on 75 units, plus 20 commission per leg
	assert.InDelta(t, -130.0, first.NetPnL, 1e-9)

	sl := res.Trades[1]
	assert.Equal(t, "2025-02-05", sl.Date)
	assert.Equal(t, models.ExitStopLoss, sl.Exit.Reason)
	assert.Equal(t, strategy.MustClock("09:25").On(sl.EntryTime), sl.Exit.Timestamp)
	assert.InDelta(t, -30.0, sl.GrossPnL, 1e-9)

	re := res.Trades[2]
	assert.Equal(t, 1, re.Reentry)
	assert.Equal(t, 23530.0, re.UnderlyingPrice)
	assert.Equal(t, 23550, re.Strike, "re-entry uses the refetched underlying")
	assert.Equal(t, strategy.MustClock("09:30").On(re.EntryTime), re.EntryTime)
	assert.Equal(t, 110.0, re.CallEntry)

	for _, tr := range res.Trades {
		assert.Len(t, tr.ID, 26)
	}
	assert.NotEqual(t, res.Trades[0].ID, res.Trades[1].ID)
	assert.NotEmpty(t, res.RunID)

	rows, ok := res.Intraday("2025-02-05", 0)
	require.True(t, ok)
	assert.Len(t, rows, 6, "09:20 through the 09:25 stop-loss")
	_, ok = res.Intraday("2025-02-04", 0)
	assert.False(t, ok)

	m := res.Metrics()
	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.TradingDays)
}

func TestEngine_ParallelMatchesSequential(t *testing.T) {
	p, sessions := threeDayFixture()
	seq, err := newTestEngine(t, p).Run(context.Background(), sessions)
	require.NoError(t, err)
	par, err := newTestEngine(t, p, WithWorkers(4)).Run(context.Background(), sessions)
	require.NoError(t, err)

	require.Len(t, par.Trades, len(seq.Trades))
	for i := range seq.Trades {
		a, b := seq.Trades[i], par.Trades[i]
		a.ID, b.ID = "", ""
		assert.Equal(t, a, b)
	}
	assert.Equal(t, seq.Outcomes, par.Outcomes)
	assert.Equal(t, seq.MinutePnL, par.MinutePnL)
}

func TestEngine_InvalidConfigFailsFast(t *testing.T) {
	cfg := strategy.DefaultConfig()
	cfg.LotSize = -75
	p := &MockProvider{}

	_, err := NewEngine(cfg, p)
	require.ErrorIs(t, err, models.ErrConfigInvalid)
	p.AssertNotCalled(t, "UnderlyingPrice", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_InvalidSessionDate(t *testing.T) {
	p := &MockProvider{}
	_, err := newTestEngine(t, p).Run(context.Background(), []Session{{Date: "03/02/2025", Expiry: "2025-02-06"}})
	assert.ErrorIs(t, err, models.ErrConfigInvalid)
	p.AssertExpectations(t)
}

func TestEngine_DuplicateSessionDate(t *testing.T) {
	p := &MockProvider{}
	_, err := newTestEngine(t, p).Run(context.Background(), []Session{
		{Date: "2025-02-03", Expiry: "2025-02-06"},
		{Date: "2025-02-03", Expiry: "2025-02-13"},
	})
	require.ErrorIs(t, err, models.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "session 1 date 2025-02-03 is already scheduled by session 0")
	p.AssertExpectations(t)
}

func TestEngine_ProviderUnavailableSkipsDate(t *testing.T) {
	p := &MockProvider{}
	p.On("UnderlyingPrice", mock.Anything, "NIFTY", mock.Anything).
		Return(0.0, models.ErrProviderUnavailable).Twice()

	res, err := newTestEngine(t, p).Run(context.Background(), []Session{
		{Date: "2025-02-03", Expiry: "2025-02-06"},
		{Date: "2025-02-04", Expiry: "2025-02-06"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, []string{"2025-02-03", "2025-02-04"}, res.SkippedDates())
	p.AssertExpectations(t)
	p.AssertNotCalled(t, "OptionBars", mock.Anything, mock.Anything)
}

func TestEngine_MissingLegStopsDay(t *testing.T) {
	p := &MockProvider{}
	p.On("UnderlyingPrice", mock.Anything, "NIFTY", mock.Anything).Return(24980.0, nil).Once()
	p.On("OptionBars", mock.Anything, mock.MatchedBy(func(r provider.OptionBarsRequest) bool {
		return r.Right == models.RightCall && r.Strike == 25000
	})).Return(sessionBars("2025-02-03", flat(120)), nil).Once()
	p.On("OptionBars", mock.Anything, mock.MatchedBy(func(r provider.OptionBarsRequest) bool {
		return r.Right == models.RightPut
	})).Return(nil, models.ErrDataGap).Once()

	res, err := newTestEngine(t, p).Run(context.Background(), []Session{{Date: "2025-02-03", Expiry: "2025-02-06"}})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	out := res.Outcomes[0]
	assert.False(t, out.Skipped)
	assert.Equal(t, models.CauseDataGap, out.Cause)
	assert.Contains(t, out.Error, "put 25000 bars")
	p.AssertExpectations(t)
}

func TestEngine_ProviderTimeoutStopsDayAsDataGap(t *testing.T) {
	p := &MockProvider{}
	p.On("UnderlyingPrice", mock.Anything, "NIFTY", mock.Anything).Return(24980.0, nil).Once()
	p.On("OptionBars", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	logger, _ := test.NewNullLogger()
	slow := provider.NewRetryingProvider(p, logger, provider.RetryConfig{
		MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Timeout: 20 * time.Millisecond,
	})

	res, err := newTestEngine(t, slow).Run(context.Background(), []Session{{Date: "2025-02-03", Expiry: "2025-02-06"}})
	require.NoError(t, err, "a slow source must not abort the run")
	require.Len(t, res.Outcomes, 1)
	out := res.Outcomes[0]
	assert.Equal(t, models.CauseDataGap, out.Cause)
	assert.Contains(t, out.Error, "call 25000 bars")
	assert.Contains(t, out.Error, "timed out")
	assert.Empty(t, res.Trades)
	p.AssertExpectations(t)
}

func TestEngine_Canceled(t *testing.T) {
	p, sessions := threeDayFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(t, p).Run(ctx, sessions)
	assert.ErrorIs(t, err, context.Canceled)
}
