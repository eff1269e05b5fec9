package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

func TestSyntheticProvider_Deterministic(t *testing.T) {
	a := NewSyntheticProvider(ist)
	b := NewSyntheticProvider(ist)

	barsA, err := a.UnderlyingBars("NIFTY", "2025-02-03")
	require.NoError(t, err)
	barsB, err := b.UnderlyingBars("NIFTY", "2025-02-03")
	require.NoError(t, err)
	assert.Equal(t, barsA, barsB)
	assert.Len(t, barsA, 376, "09:15 through 15:30")

	other, err := a.UnderlyingBars("NIFTY", "2025-02-04")
	require.NoError(t, err)
	assert.NotEqual(t, barsA[10].Close, other[10].Close)
}

func TestSyntheticProvider_Gaps(t *testing.T) {
	p := NewSyntheticProvider(ist, WithMissingDates("2025-02-26"))
	ctx := context.Background()

	_, err := p.UnderlyingPrice(ctx, "NIFTY", time.Date(2025, 2, 26, 9, 20, 0, 0, ist))
	assert.ErrorIs(t, err, models.ErrDataGap)

	_, err = p.UnderlyingPrice(ctx, "NIFTY", time.Date(2025, 2, 8, 9, 20, 0, 0, ist))
	assert.ErrorIs(t, err, models.ErrDataGap, "saturday")

	_, err = p.UnderlyingPrice(ctx, "NIFTY", time.Date(2025, 2, 3, 15, 45, 0, 0, ist))
	assert.ErrorIs(t, err, models.ErrDataGap, "after the close")

	_, err = p.OptionBars(ctx, provider.OptionBarsRequest{
		Symbol: "NIFTY", Date: "2025-02-07", Expiry: "2025-02-06", Right: models.RightCall, Strike: 23500,
	})
	assert.ErrorIs(t, err, models.ErrDataGap, "expired contract")
}

func TestSyntheticProvider_OptionPremiums(t *testing.T) {
	p := NewSyntheticProvider(ist)
	ctx := context.Background()
	entry := time.Date(2025, 2, 3, 9, 20, 0, 0, ist)

	spot, err := p.UnderlyingPrice(ctx, "NIFTY", entry)
	require.NoError(t, err)
	atm := strategy.ATMStrike(spot, strategy.Nifty)

	req := provider.OptionBarsRequest{Symbol: "NIFTY", Date: "2025-02-03", Expiry: "2025-02-06", Strike: atm}
	req.Right = models.RightCall
	calls, err := p.OptionBars(ctx, req)
	require.NoError(t, err)
	req.Right = models.RightPut
	puts, err := p.OptionBars(ctx, req)
	require.NoError(t, err)
	require.Len(t, calls, len(puts))

	i := models.FirstAtOrAfter(calls, entry)
	require.GreaterOrEqual(t, i, 0)
	assert.Greater(t, calls[i].Close, 0.0)
	// Time value is symmetric around the strike, so parity holds to a tick.
	assert.InDelta(t, spot-float64(atm), calls[i].Close-puts[i].Close, 0.11)

	far := req
	far.Right = models.RightCall
	far.Strike = atm + 1000
	otm, err := p.OptionBars(ctx, far)
	require.NoError(t, err)
	assert.Less(t, otm[i].Close, calls[i].Close)
	for _, b := range otm {
		assert.GreaterOrEqual(t, b.Close, 0.05, "premiums never drop below one tick")
	}
}

func TestSyntheticProvider_WriteDatasetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewSyntheticProvider(ist)
	ctx := context.Background()

	files, err := p.WriteDataset(ctx, dir, "NIFTY", "2025-02-03", "2025-02-06", 2)
	require.NoError(t, err)
	assert.Greater(t, files, 1)

	csvp := provider.NewCSVProvider(dir, ist)
	entry := time.Date(2025, 2, 3, 9, 20, 0, 0, ist)
	want, err := p.UnderlyingPrice(ctx, "NIFTY", entry)
	require.NoError(t, err)
	got, err := csvp.UnderlyingPrice(ctx, "NIFTY", entry)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)

	req := provider.OptionBarsRequest{
		Symbol: "NIFTY", Date: "2025-02-03", Expiry: "2025-02-06",
		Right: models.RightPut, Strike: strategy.ATMStrike(want, strategy.Nifty),
	}
	wantBars, err := p.OptionBars(ctx, req)
	require.NoError(t, err)
	gotBars, err := csvp.OptionBars(ctx, req)
	require.NoError(t, err)
	require.Len(t, gotBars, len(wantBars))
	for i := range wantBars {
		assert.True(t, wantBars[i].Timestamp.Equal(gotBars[i].Timestamp))
		assert.InDelta(t, wantBars[i].Close, gotBars[i].Close, 1e-9)
	}
}
