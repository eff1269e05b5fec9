package util

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{name: "basic rounding down", x: 1.2345, tick: 0.01, expected: 1.23},
		{name: "tie rounds away from zero", x: 1.235, tick: 0.01, expected: 1.24},
		{name: "negative basic rounding", x: -1.2345, tick: 0.01, expected: -1.23},
		{name: "option tick", x: 98.27, tick: OptionTick, expected: 98.25},
		{name: "option tick up", x: 98.33, tick: OptionTick, expected: 98.35},
		{name: "exact multiple", x: 23.5, tick: OptionTick, expected: 23.5},
		{name: "zero tick returns input", x: 1.2345, tick: 0, expected: 1.2345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, RoundToTick(tt.x, tt.tick), 1e-10)
		})
	}
}

func TestRoundToTick_NaN(t *testing.T) {
	assert.True(t, math.IsNaN(RoundToTick(math.NaN(), 0.05)))
}

func TestRoundPremium(t *testing.T) {
	assert.Equal(t, OptionTick, RoundPremium(0.01))
	assert.Equal(t, OptionTick, RoundPremium(-3))
	assert.InDelta(t, 112.45, RoundPremium(112.449), 1e-10)
}

func TestNewTradeID_Monotonic(t *testing.T) {
	at := time.Date(2025, 2, 3, 9, 20, 0, 0, time.UTC)
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewTradeID(at)
	}
	assert.True(t, sort.StringsAreSorted(ids), "same-millisecond IDs stay ordered")
	assert.Len(t, ids[0], 26)

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Less(t, ids[99], NewTradeID(at.Add(time.Second)))
}
