// Package metrics reduces a backtest's trade log into daily and aggregate
// performance statistics. Everything here is a pure function of its input.
package metrics

import (
	"math"
	"sort"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// DailyPnL is one trading date's roll-up.
type DailyPnL struct {
	Date          string                    `json:"date"`
	NetPnL        float64                   `json:"net_pnl"`
	Trades        int                       `json:"num_trades"`
	WinningTrades int                       `json:"winning_trades"`
	LosingTrades  int                       `json:"losing_trades"`
	ExitReasons   map[models.ExitReason]int `json:"exit_reasons"`
	CumulativePnL float64                   `json:"cumulative_pnl"`
}

// PerformanceMetrics summarizes a trade log. Day-level figures are computed
// from DailySummary; trade-level figures from individual trades.
type PerformanceMetrics struct {
	TotalPnL      float64 `json:"total_pnl"`
	AvgDailyPnL   float64 `json:"avg_daily_pnl"`
	TradingDays   int     `json:"trading_days"`
	WinRate       float64 `json:"win_rate"` // percent of days with positive P&L
	SharpeRatio   float64 `json:"sharpe_ratio"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	MaxWin        float64 `json:"max_win"`
	MaxLoss       float64 `json:"max_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
}

// DailySummary groups trades by date, in ascending date order, and carries
// a running cumulative P&L across dates.
func DailySummary(trades []models.Trade) []DailyPnL {
	byDate := make(map[string]*DailyPnL)
	for i := range trades {
		tr := &trades[i]
		d, ok := byDate[tr.Date]
		if !ok {
			d = &DailyPnL{Date: tr.Date, ExitReasons: make(map[models.ExitReason]int)}
			byDate[tr.Date] = d
		}
		d.NetPnL += tr.NetPnL
		d.Trades++
		switch {
		case tr.NetPnL > 0:
			d.WinningTrades++
		case tr.NetPnL < 0:
			d.LosingTrades++
		}
		d.ExitReasons[tr.Exit.Reason]++
	}

	days := make([]DailyPnL, 0, len(byDate))
	for _, d := range byDate {
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	cum := 0.0
	for i := range days {
		cum += days[i].NetPnL
		days[i].CumulativePnL = cum
	}
	return days
}

// Compute derives PerformanceMetrics from the trade log. An empty log
// yields the zero value.
func Compute(trades []models.Trade) PerformanceMetrics {
	var m PerformanceMetrics
	if len(trades) == 0 {
		return m
	}

	days := DailySummary(trades)
	daily := make([]float64, len(days))
	cumulative := make([]float64, len(days))
	positiveDays := 0
	for i, d := range days {
		daily[i] = d.NetPnL
		cumulative[i] = d.CumulativePnL
		if d.NetPnL > 0 {
			positiveDays++
		}
	}

	m.TradingDays = len(days)
	m.TotalPnL = sum(daily)
	m.AvgDailyPnL = m.TotalPnL / float64(len(daily))
	m.WinRate = float64(positiveDays) / float64(len(days)) * 100
	if sd := sampleStdDev(daily); sd != 0 {
		m.SharpeRatio = m.AvgDailyPnL / sd
	}
	m.MaxDrawdown = MaxDrawdown(cumulative)

	var grossWin, grossLoss float64
	m.TotalTrades = len(trades)
	m.MaxWin = math.Inf(-1)
	m.MaxLoss = math.Inf(1)
	for _, tr := range trades {
		p := tr.NetPnL
		switch {
		case p > 0:
			m.WinningTrades++
			grossWin += p
		case p < 0:
			m.LosingTrades++
			grossLoss += p
		}
		m.MaxWin = math.Max(m.MaxWin, p)
		m.MaxLoss = math.Min(m.MaxLoss, p)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
		m.ProfitFactor = math.Abs(grossWin / grossLoss)
	}
	return m
}

// MaxDrawdown is the largest drop from a running peak of the cumulative
// series. The peak starts at the first observation, not at zero.
func MaxDrawdown(cumulative []float64) float64 {
	if len(cumulative) == 0 {
		return 0
	}
	peak := cumulative[0]
	maxDD := 0.0
	for _, c := range cumulative {
		peak = math.Max(peak, c)
		maxDD = math.Max(maxDD, peak-c)
	}
	return maxDD
}

// CumulativeByDate returns, for each trade in order, the running net P&L of
// its own date up to and including that trade.
func CumulativeByDate(trades []models.Trade) []float64 {
	out := make([]float64, len(trades))
	running := make(map[string]float64)
	for i, tr := range trades {
		running[tr.Date] += tr.NetPnL
		out[i] = running[tr.Date]
	}
	return out
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

// sampleStdDev uses the n-1 denominator; fewer than two points give 0.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := sum(xs) / float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
