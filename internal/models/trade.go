package models

import (
	"fmt"
	"time"
)

// ExitReason explains why a straddle was bought back.
type ExitReason string

const (
	// ExitStopLoss fires when the premium rose past the stop-loss threshold
	ExitStopLoss ExitReason = "StopLoss"
	// ExitTakeProfit fires when the premium decayed past the take-profit threshold
	ExitTakeProfit ExitReason = "TakeProfit"
	// ExitEndOfWindow means the configured exit time was reached
	ExitEndOfWindow ExitReason = "EndOfWindow"
)

// ExitEvent is the terminal event of one simulated entry.
type ExitEvent struct {
	Reason    ExitReason `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
	CallPrice float64    `json:"call_price"`
	PutPrice  float64    `json:"put_price"`
}

// MinutePnLRow is one joined minute of the straddle.
type MinutePnLRow struct {
	Timestamp     time.Time `json:"timestamp"`
	CallClose     float64   `json:"call_close"`
	PutClose      float64   `json:"put_close"`
	MinutePnL     float64   `json:"minute_pnl"`     // premium points per unit
	CumulativePnL float64   `json:"cumulative_pnl"` // MinutePnL scaled by quantity
}

// Trade is one completed entry attempt. Trades are immutable once recorded.
type Trade struct {
	ID              string    `json:"id"`
	Date            string    `json:"date"`
	Expiry          string    `json:"expiry"`
	Symbol          string    `json:"symbol"`
	Reentry         int       `json:"reentry"`
	UnderlyingPrice float64   `json:"underlying_price"`
	Strike          int       `json:"strike"`
	EntryTime       time.Time `json:"entry_time"`
	CallEntry       float64   `json:"call_entry"`
	PutEntry        float64   `json:"put_entry"`
	CallExit        float64   `json:"call_exit"`
	PutExit         float64   `json:"put_exit"`
	// GrossPnL is the unscaled short-straddle payoff in premium points.
	GrossPnL float64 `json:"gross_pnl"`
	// NetPnL is scaled by quantity and net of slippage and commission.
	NetPnL float64   `json:"net_pnl"`
	Exit   ExitEvent `json:"exit"`
}

// IsWin reports whether the trade made money after costs.
func (t *Trade) IsWin() bool {
	return t.NetPnL > 0
}

// Key returns the identifier of the trade's minute series.
func (t *Trade) Key() MinuteKey {
	return MinuteKey{Date: t.Date, Reentry: t.Reentry}
}

// MinuteKey identifies a MinutePnL series by date and re-entry index.
type MinuteKey struct {
	Date    string
	Reentry int
}

// String renders the key the way exports label intraday series.
func (k MinuteKey) String() string {
	return fmt.Sprintf("%s_reentry_%d", k.Date, k.Reentry)
}
