package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eddiefleurent/scranton_straddle/internal/backtest"
	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	mu            sync.RWMutex
	saveError     error
	runs          map[string]*backtest.Result
	saveCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{runs: make(map[string]*backtest.Result)}
}

func (m *MockStorage) SaveRun(_ context.Context, res *backtest.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	if _, exists := m.runs[res.RunID]; exists {
		return fmt.Errorf("run %s already stored", res.RunID)
	}
	m.runs[res.RunID] = res
	return nil
}

func (m *MockStorage) ListRuns(_ context.Context, limit int) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunSummary, 0, len(m.runs))
	for _, res := range m.runs {
		out = append(out, summarize(res))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStorage) GetRun(_ context.Context, runID string) (*RunSummary, error) {
	res, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	sum := summarize(res)
	return &sum, nil
}

func (m *MockStorage) GetTrades(_ context.Context, runID string) ([]models.Trade, error) {
	res, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	return append([]models.Trade(nil), res.Trades...), nil
}

func (m *MockStorage) GetOutcomes(_ context.Context, runID string) ([]models.DayOutcome, error) {
	res, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	return append([]models.DayOutcome(nil), res.Outcomes...), nil
}

func (m *MockStorage) GetIntraday(_ context.Context, runID string, key models.MinuteKey) ([]models.MinutePnLRow, error) {
	res, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	return append([]models.MinutePnLRow{}, res.MinutePnL[key]...), nil
}

func (m *MockStorage) Close() error { return nil }

func (m *MockStorage) get(runID string) (*backtest.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return res, nil
}

// Mock control methods for testing
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveCallCount
}
