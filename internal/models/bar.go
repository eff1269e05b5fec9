// Package models provides the data structures shared by the straddle
// simulator, the day-level re-entry state machine and the exporters.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PriceBar is a single minute close for one instrument.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
}

// Right identifies the option leg.
type Right string

const (
	// RightCall is the call (CE) leg
	RightCall Right = "call"
	// RightPut is the put (PE) leg
	RightPut Right = "put"
)

// Valid returns true if the Right is one of the defined constants
func (r Right) Valid() bool {
	return r == RightCall || r == RightPut
}

// ParseRight accepts call/put as well as the exchange shorthands CE/PE.
func ParseRight(s string) (Right, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "ce", "c":
		return RightCall, nil
	case "put", "pe", "p":
		return RightPut, nil
	default:
		return "", fmt.Errorf("unknown option right %q", s)
	}
}

// LegPair holds the call and put bars for one entry attempt.
type LegPair struct {
	Call []PriceBar
	Put  []PriceBar
}

// SortBars orders bars by timestamp in place.
func SortBars(bars []PriceBar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

// FirstAtOrAfter returns the index of the first bar whose timestamp is not
// before t, or -1. Bars must be sorted.
func FirstAtOrAfter(bars []PriceBar, t time.Time) int {
	i := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(t)
	})
	if i == len(bars) {
		return -1
	}
	return i
}

// Window returns the sub-slice of sorted bars with from <= timestamp <= to.
func Window(bars []PriceBar, from, to time.Time) []PriceBar {
	start := FirstAtOrAfter(bars, from)
	if start < 0 {
		return nil
	}
	end := start
	for end < len(bars) && !bars[end].Timestamp.After(to) {
		end++
	}
	return bars[start:end]
}
