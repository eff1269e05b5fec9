// Package storage persists backtest runs and exports them to CSV.
package storage

import (
	"context"
	"time"

	"github.com/eddiefleurent/scranton_straddle/internal/backtest"
	"github.com/eddiefleurent/scranton_straddle/internal/metrics"
	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

// Interface defines the contract for backtest run persistence.
//
// Implementations must be safe for concurrent use: the dashboard reads
// while the CLI may be writing a new run.
type Interface interface {
	// SaveRun stores a run with its trades, day outcomes and minute series.
	SaveRun(ctx context.Context, res *backtest.Result) error

	// Run queries, newest first for ListRuns
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	GetRun(ctx context.Context, runID string) (*RunSummary, error)
	GetTrades(ctx context.Context, runID string) ([]models.Trade, error)
	GetOutcomes(ctx context.Context, runID string) ([]models.DayOutcome, error)
	GetIntraday(ctx context.Context, runID string, key models.MinuteKey) ([]models.MinutePnLRow, error)

	Close() error
}

// RunSummary is a stored run without its trade-level detail.
type RunSummary struct {
	ID         string                     `json:"id"`
	Symbol     string                     `json:"symbol"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Sessions   int                        `json:"sessions"`
	Skipped    int                        `json:"skipped"`
	Config     ConfigSnapshot             `json:"config"`
	Metrics    metrics.PerformanceMetrics `json:"metrics"`
}

// ConfigSnapshot is the serialized form of a strategy config, keyed like
// the YAML config file.
type ConfigSnapshot struct {
	Symbol              string   `json:"symbol"`
	Index               string   `json:"index"`
	EntryTime           string   `json:"entry_time"`
	ExitTime            string   `json:"exit_time"`
	LotSize             int      `json:"lot_size"`
	LotMultiplier       int      `json:"lot_multiplier"`
	StopLossPct         float64  `json:"stop_loss_pct"`
	TargetProfitPct     *float64 `json:"target_profit_pct"`
	PerLeg              bool     `json:"per_leg"`
	MaxReentries        int      `json:"max_reentries"`
	ReentryDelayMinutes float64  `json:"reentry_delay_minutes"`
	MaxLossPerDay       float64  `json:"max_loss_per_day"`
	CommissionPerLot    float64  `json:"commission_per_lot"`
	SlippagePoints      float64  `json:"slippage_points"`
}

// SnapshotOf captures cfg for storage.
func SnapshotOf(cfg strategy.Config) ConfigSnapshot {
	c := cfg.Clone()
	return ConfigSnapshot{
		Symbol:              c.Symbol,
		Index:               string(c.Index),
		EntryTime:           c.EntryTime.String(),
		ExitTime:            c.ExitTime.String(),
		LotSize:             c.LotSize,
		LotMultiplier:       c.LotMultiplier,
		StopLossPct:         c.StopLossPct,
		TargetProfitPct:     c.TakeProfitPct,
		PerLeg:              c.Mode == strategy.ModePerLeg,
		MaxReentries:        c.MaxReentries,
		ReentryDelayMinutes: c.ReentryDelay.Minutes(),
		MaxLossPerDay:       c.MaxDailyLoss,
		CommissionPerLot:    c.CommissionPerLot,
		SlippagePoints:      c.SlippagePoints,
	}
}

// summarize builds the stored summary of a run.
func summarize(res *backtest.Result) RunSummary {
	return RunSummary{
		ID:         res.RunID,
		Symbol:     res.Config.Symbol,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Sessions:   len(res.Outcomes),
		Skipped:    len(res.SkippedDates()),
		Config:     SnapshotOf(res.Config),
		Metrics:    res.Metrics(),
	}
}

// NewStorage opens the SQLite journal at path.
func NewStorage(path string) (Interface, error) {
	return NewSQLiteStorage(path)
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
