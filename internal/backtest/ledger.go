package backtest

import "github.com/eddiefleurent/scranton_straddle/internal/models"

// DailyLedger accumulates one date's net P&L across re-entries. It lives
// only while that date is being simulated.
type DailyLedger struct {
	date   string
	netPnL float64
	trades int
}

// NewDailyLedger returns an empty ledger for date.
func NewDailyLedger(date string) *DailyLedger {
	return &DailyLedger{date: date}
}

// Record adds a completed trade's net P&L.
func (l *DailyLedger) Record(tr models.Trade) {
	l.netPnL += tr.NetPnL
	l.trades++
}

// Date returns the trading date the ledger belongs to.
func (l *DailyLedger) Date() string { return l.date }

// NetPnL returns the day's accumulated net P&L.
func (l *DailyLedger) NetPnL() float64 { return l.netPnL }

// Trades returns the number of trades recorded.
func (l *DailyLedger) Trades() int { return l.trades }

// LossCapReached reports whether the day's loss is at or beyond maxDailyLoss.
func (l *DailyLedger) LossCapReached(maxDailyLoss float64) bool {
	return l.netPnL <= -maxDailyLoss
}
