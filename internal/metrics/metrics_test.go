package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

func trade(date string, reentry int, net float64, reason models.ExitReason) models.Trade {
	return models.Trade{Date: date, Reentry: reentry, NetPnL: net, Exit: models.ExitEvent{Reason: reason}}
}

func TestCompute_DailySeries(t *testing.T) {
	trades := []models.Trade{
		trade("2025-02-03", 0, 100, models.ExitEndOfWindow),
		trade("2025-02-04", 0, -80, models.ExitStopLoss),
		trade("2025-02-04", 1, 30, models.ExitTakeProfit),
		trade("2025-02-05", 0, 200, models.ExitEndOfWindow),
	}

	m := Compute(trades)
	assert.InDelta(t, 250.0, m.TotalPnL, 1e-9)
	assert.Equal(t, 3, m.TradingDays)
	assert.InDelta(t, 250.0/3, m.AvgDailyPnL, 1e-9)
	assert.InDelta(t, 66.67, m.WinRate, 0.01)
	assert.InDelta(t, 50.0, m.MaxDrawdown, 1e-9, "drop from cumulative 100 to 50")

	// daily [100, -50, 200]: mean 83.33, sample sd 125.83
	assert.InDelta(t, (250.0/3)/125.8305739211792, m.SharpeRatio, 1e-9)

	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 3, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 110.0, m.AvgWin, 1e-9)
	assert.InDelta(t, -80.0, m.AvgLoss, 1e-9)
	assert.Equal(t, 200.0, m.MaxWin)
	assert.Equal(t, -80.0, m.MaxLoss)
	assert.InDelta(t, 330.0/80.0, m.ProfitFactor, 1e-9)
}

func TestCompute_Empty(t *testing.T) {
	assert.Equal(t, PerformanceMetrics{}, Compute(nil))
}

func TestCompute_NoLosersNoVariance(t *testing.T) {
	m := Compute([]models.Trade{
		trade("2025-02-03", 0, 50, models.ExitEndOfWindow),
		trade("2025-02-04", 0, 50, models.ExitEndOfWindow),
	})
	assert.Equal(t, 0.0, m.ProfitFactor, "no losing trades")
	assert.Equal(t, 0.0, m.SharpeRatio, "zero stdev")
	assert.Equal(t, 0.0, m.AvgLoss)
	assert.Equal(t, 100.0, m.WinRate)
}

func TestCompute_SingleDaySharpeIsZero(t *testing.T) {
	m := Compute([]models.Trade{trade("2025-02-03", 0, -40, models.ExitStopLoss)})
	assert.Equal(t, 0.0, m.SharpeRatio)
	assert.Equal(t, 0.0, m.WinRate)
	assert.Equal(t, 0.0, m.MaxDrawdown, "peak starts at the first day")
}

func TestDailySummary(t *testing.T) {
	trades := []models.Trade{
		trade("2025-02-04", 0, -80, models.ExitStopLoss),
		trade("2025-02-03", 0, 100, models.ExitEndOfWindow),
		trade("2025-02-04", 1, -20, models.ExitStopLoss),
		trade("2025-02-04", 2, 0, models.ExitEndOfWindow),
	}
	days := DailySummary(trades)
	require.Len(t, days, 2)

	assert.Equal(t, "2025-02-03", days[0].Date)
	assert.Equal(t, 100.0, days[0].CumulativePnL)

	d := days[1]
	assert.Equal(t, "2025-02-04", d.Date)
	assert.Equal(t, -100.0, d.NetPnL)
	assert.Equal(t, 3, d.Trades)
	assert.Equal(t, 0, d.WinningTrades)
	assert.Equal(t, 2, d.LosingTrades, "break-even is neither")
	assert.Equal(t, map[models.ExitReason]int{models.ExitStopLoss: 2, models.ExitEndOfWindow: 1}, d.ExitReasons)
	assert.Equal(t, 0.0, d.CumulativePnL)
}

func TestDailySummary_RoundTrip(t *testing.T) {
	dates := []string{"2025-01-01", "2025-01-02", "2025-01-03", "2025-01-06"}
	want := make(map[string]float64)
	var trades []models.Trade
	for i := 0; i < 60; i++ {
		date := dates[i%len(dates)]
		net := math.Sin(float64(i))*1234.567 + 0.1*float64(i)
		want[date] += net
		trades = append(trades, trade(date, i/len(dates), net, models.ExitStopLoss))
	}

	days := DailySummary(trades)
	require.Len(t, days, len(dates))
	for _, d := range days {
		assert.InDelta(t, want[d.Date], d.NetPnL, 1e-9, d.Date)
	}
	assert.InDelta(t, Compute(trades).TotalPnL, days[len(days)-1].CumulativePnL, 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown(nil))
	assert.Equal(t, 0.0, MaxDrawdown([]float64{1, 2, 3}))
	assert.Equal(t, 300.0, MaxDrawdown([]float64{100, 400, 100, 350}))
	assert.Equal(t, 50.0, MaxDrawdown([]float64{-100, -150, -120}))
}

func TestCumulativeByDate(t *testing.T) {
	trades := []models.Trade{
		trade("2025-02-03", 0, -100, models.ExitStopLoss),
		trade("2025-02-03", 1, 40, models.ExitEndOfWindow),
		trade("2025-02-04", 0, 10, models.ExitEndOfWindow),
	}
	assert.Equal(t, []float64{-100, -60, 10}, CumulativeByDate(trades))
}
