package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// Entry describes one attempt to sell the straddle.
type Entry struct {
	Date       string
	Expiry     string
	Reentry    int
	Time       time.Time // no bar before this is used
	Underlying float64
	Strike     int
}

// SimulationResult is everything one entry attempt produces.
type SimulationResult struct {
	Trade   models.Trade
	Minutes []models.MinutePnLRow
}

// Simulate replays the day's call and put bars for a single entry. It is a
// pure transformation: the same inputs always produce the same result and
// the input slices are never modified.
//
// The window runs from entry.Time to the configured exit time on the same
// calendar day. Minutes present on only one leg are dropped.
func Simulate(cfg Config, entry Entry, legs models.LegPair) (*SimulationResult, error) {
	calls := sortedBars(legs.Call)
	puts := sortedBars(legs.Put)

	ci := models.FirstAtOrAfter(calls, entry.Time)
	pi := models.FirstAtOrAfter(puts, entry.Time)
	if ci < 0 || pi < 0 {
		return nil, fmt.Errorf("%w: no call/put bar at or after %s",
			models.ErrDataGap, entry.Time.Format(time.DateTime))
	}
	callEntry := calls[ci].Close
	putEntry := puts[pi].Close

	evaluator, err := NewExitEvaluator(cfg, callEntry, putEntry)
	if err != nil {
		return nil, err
	}

	exitAt := cfg.ExitTime.On(entry.Time)
	rows := joinLegs(
		models.Window(calls, entry.Time, exitAt),
		models.Window(puts, entry.Time, exitAt),
	)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no overlapping call/put minutes between %s and %s",
			models.ErrDataGap, entry.Time.Format(time.DateTime), exitAt.Format(time.DateTime))
	}

	qty := cfg.Quantity()
	entryTotal := callEntry + putEntry
	reason := models.ExitEndOfWindow
	last := len(rows) - 1
	for i := range rows {
		rows[i].MinutePnL = entryTotal - (rows[i].CallClose + rows[i].PutClose)
		rows[i].CumulativePnL = rows[i].MinutePnL * qty
		if r, fired := evaluator.Evaluate(rows[i].CallClose, rows[i].PutClose); fired {
			reason = r
			last = i
			break
		}
	}
	rows = rows[:last+1]
	terminal := rows[last]

	gross := entryTotal - (terminal.CallClose + terminal.PutClose)
	return &SimulationResult{
		Trade: models.Trade{
			Date:            entry.Date,
			Expiry:          entry.Expiry,
			Symbol:          cfg.Symbol,
			Reentry:         entry.Reentry,
			UnderlyingPrice: entry.Underlying,
			Strike:          entry.Strike,
			EntryTime:       entry.Time,
			CallEntry:       callEntry,
			PutEntry:        putEntry,
			CallExit:        terminal.CallClose,
			PutExit:         terminal.PutClose,
			GrossPnL:        gross,
			NetPnL:          NetPnL(cfg, callEntry, putEntry, terminal.CallClose, terminal.PutClose),
			Exit: models.ExitEvent{
				Reason:    reason,
				Timestamp: terminal.Timestamp,
				CallPrice: terminal.CallClose,
				PutPrice:  terminal.PutClose,
			},
		},
		Minutes: rows,
	}, nil
}

// NetPnL is the currency result of selling both legs at the entry premiums
// and buying them back at the exit premiums. Slippage lowers each sell fill
// and raises each buy fill; commission is charged per lot on both legs.
func NetPnL(cfg Config, callEntry, putEntry, callExit, putExit float64) float64 {
	s := cfg.SlippagePoints
	points := (callEntry - s) + (putEntry - s) - (callExit + s) - (putExit + s)
	commission := cfg.CommissionPerLot * float64(cfg.LotMultiplier) * 2
	return points*cfg.Quantity() - commission
}

// joinLegs inner-joins two sorted windows on exact timestamp equality.
func joinLegs(calls, puts []models.PriceBar) []models.MinutePnLRow {
	rows := make([]models.MinutePnLRow, 0, min(len(calls), len(puts)))
	i, j := 0, 0
	for i < len(calls) && j < len(puts) {
		ct, pt := calls[i].Timestamp, puts[j].Timestamp
		switch {
		case ct.Equal(pt):
			rows = append(rows, models.MinutePnLRow{
				Timestamp: ct,
				CallClose: calls[i].Close,
				PutClose:  puts[j].Close,
			})
			i++
			j++
		case ct.Before(pt):
			i++
		default:
			j++
		}
	}
	return rows
}

// sortedBars returns bars in timestamp order without touching the caller's slice.
func sortedBars(bars []models.PriceBar) []models.PriceBar {
	if sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) }) {
		return bars
	}
	out := make([]models.PriceBar, len(bars))
	copy(out, bars)
	models.SortBars(out)
	return out
}
