package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_straddle/internal/metrics"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

// SweepGrid lists candidate values per parameter. An empty list keeps the
// base config's value. A nil take-profit entry means "no take-profit".
type SweepGrid struct {
	StopLossPct   []float64
	TakeProfitPct []*float64
	MaxReentries  []int
	ReentryDelay  []time.Duration
	MaxDailyLoss  []float64
}

// Combinations expands the grid into its Cartesian product, in a fixed
// order with the last parameter varying fastest.
func (g SweepGrid) Combinations() []strategy.Overrides {
	combos := []strategy.Overrides{{}}
	expand := func(n int, apply func(o *strategy.Overrides, i int)) {
		if n == 0 {
			return
		}
		next := make([]strategy.Overrides, 0, len(combos)*n)
		for _, base := range combos {
			for i := 0; i < n; i++ {
				o := base
				apply(&o, i)
				next = append(next, o)
			}
		}
		combos = next
	}

	expand(len(g.StopLossPct), func(o *strategy.Overrides, i int) { o.StopLossPct = &g.StopLossPct[i] })
	expand(len(g.TakeProfitPct), func(o *strategy.Overrides, i int) {
		if g.TakeProfitPct[i] == nil {
			o.NoTakeProfit = true
			return
		}
		o.TakeProfitPct = g.TakeProfitPct[i]
	})
	expand(len(g.MaxReentries), func(o *strategy.Overrides, i int) { o.MaxReentries = &g.MaxReentries[i] })
	expand(len(g.ReentryDelay), func(o *strategy.Overrides, i int) { o.ReentryDelay = &g.ReentryDelay[i] })
	expand(len(g.MaxDailyLoss), func(o *strategy.Overrides, i int) { o.MaxDailyLoss = &g.MaxDailyLoss[i] })
	return combos
}

// SweepResult is one parameter combination's outcome.
type SweepResult struct {
	Config  strategy.Config
	RunID   string
	Metrics metrics.PerformanceMetrics
	Skipped int // dates with no attempt
}

// Sweeper runs the same schedule under many parameter sets. Each
// combination gets its own immutable config and trade log.
type Sweeper struct {
	base     strategy.Config
	provider provider.MarketDataProvider
	loc      *time.Location
	workers  int
	logger   logrus.FieldLogger
}

// NewSweeper returns a sweeper that runs up to workers combinations at once.
func NewSweeper(base strategy.Config, p provider.MarketDataProvider, loc *time.Location,
	workers int, logger logrus.FieldLogger) *Sweeper {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{base: base.Clone(), provider: p, loc: loc, workers: workers, logger: logger}
}

// Run evaluates every combination of grid and returns the results ordered
// by total P&L, best first. All combinations are validated before any runs.
func (s *Sweeper) Run(ctx context.Context, grid SweepGrid, sessions []Session) ([]SweepResult, error) {
	combos := grid.Combinations()
	engines := make([]*Engine, len(combos))
	for i, o := range combos {
		cfg := s.base.WithOverrides(o)
		// Combinations are sequential inside; parallelism is across them.
		e, err := NewEngine(cfg, s.provider,
			WithLocation(s.loc),
			WithWorkers(1),
			WithLogger(quiet(s.logger)),
		)
		if err != nil {
			return nil, fmt.Errorf("combination %d: %w", i+1, err)
		}
		engines[i] = e
	}

	s.logger.WithFields(logrus.Fields{
		"combinations": len(combos),
		"sessions":     len(sessions),
		"workers":      s.workers,
	}).Info("parameter sweep started")

	results := make([]SweepResult, len(engines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, e := range engines {
		i, e := i, e
		g.Go(func() error {
			res, err := e.Run(gctx, sessions)
			if err != nil {
				return err
			}
			results[i] = SweepResult{
				Config:  res.Config,
				RunID:   res.RunID,
				Metrics: res.Metrics(),
				Skipped: len(res.SkippedDates()),
			}
			s.logger.WithFields(logrus.Fields{
				"combination":  i + 1,
				"stop_loss":    res.Config.StopLossPct,
				"reentries":    res.Config.MaxReentries,
				"total_pnl":    results[i].Metrics.TotalPnL,
				"sharpe_ratio": results[i].Metrics.SharpeRatio,
			}).Debug("combination finished")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Metrics.TotalPnL > results[j].Metrics.TotalPnL
	})
	return results, nil
}

// quiet keeps per-combination engine logs at warn and above when the
// sweep logger would otherwise flood with per-date lines.
func quiet(logger logrus.FieldLogger) logrus.FieldLogger {
	l, ok := logger.(*logrus.Logger)
	if !ok || l.GetLevel() > logrus.InfoLevel {
		return logger
	}
	q := logrus.New()
	q.SetOutput(l.Out)
	q.SetFormatter(l.Formatter)
	q.SetLevel(logrus.WarnLevel)
	return q
}
