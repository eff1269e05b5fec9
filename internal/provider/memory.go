package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

type legKey struct {
	symbol, date, expiry string
	right                models.Right
	strike               int
}

// MemoryProvider serves bars held in memory. It is safe for concurrent use.
type MemoryProvider struct {
	mu         sync.RWMutex
	underlying map[string][]models.PriceBar // symbol|date
	options    map[legKey][]models.PriceBar
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		underlying: make(map[string][]models.PriceBar),
		options:    make(map[legKey][]models.PriceBar),
	}
}

// SetUnderlying stores the underlying bars for a trading date.
func (m *MemoryProvider) SetUnderlying(symbol, date string, bars []models.PriceBar) {
	sorted := append([]models.PriceBar(nil), bars...)
	models.SortBars(sorted)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.underlying[symbol+"|"+date] = sorted
}

// SetOptionBars stores one leg's bars.
func (m *MemoryProvider) SetOptionBars(req OptionBarsRequest, bars []models.PriceBar) {
	sorted := append([]models.PriceBar(nil), bars...)
	models.SortBars(sorted)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[keyOf(req)] = sorted
}

// UnderlyingPrice implements MarketDataProvider.
func (m *MemoryProvider) UnderlyingPrice(ctx context.Context, symbol string, at time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	bars := m.underlying[symbol+"|"+at.Format(DateLayout)]
	m.mu.RUnlock()

	i := models.FirstAtOrAfter(bars, at)
	if i < 0 {
		return 0, fmt.Errorf("%w: no %s underlying bar at or after %s",
			models.ErrDataGap, symbol, at.Format(time.DateTime))
	}
	return bars[i].Close, nil
}

// OptionBars implements MarketDataProvider.
func (m *MemoryProvider) OptionBars(ctx context.Context, req OptionBarsRequest) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	bars, ok := m.options[keyOf(req)]
	m.mu.RUnlock()
	if !ok || len(bars) == 0 {
		return nil, fmt.Errorf("%w: no %s %d %s bars on %s (expiry %s)",
			models.ErrDataGap, req.Symbol, req.Strike, req.Right, req.Date, req.Expiry)
	}
	return append([]models.PriceBar(nil), bars...), nil
}

func keyOf(req OptionBarsRequest) legKey {
	return legKey{symbol: req.Symbol, date: req.Date, expiry: req.Expiry, right: req.Right, strike: req.Strike}
}

var _ MarketDataProvider = (*MemoryProvider)(nil)
