package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_straddle/internal/backtest"
	"github.com/eddiefleurent/scranton_straddle/internal/metrics"
	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/storage"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

func storedRun(t *testing.T, store storage.Interface, runID string) *backtest.Result {
	t.Helper()
	entry := time.Date(2025, 2, 3, 9, 20, 0, 0, time.UTC)
	trade := models.Trade{
		ID: runID + "-T1", Date: "2025-02-03", Expiry: "2025-02-06", Symbol: "NIFTY",
		UnderlyingPrice: 23480, Strike: 23500, EntryTime: entry,
		CallEntry: 100, PutEntry: 98, CallExit: 80, PutExit: 90, GrossPnL: 28, NetPnL: 1970,
		Exit: models.ExitEvent{Reason: models.ExitEndOfWindow, Timestamp: entry.Add(6 * time.Hour), CallPrice: 80, PutPrice: 90},
	}
	res := &backtest.Result{
		RunID:      runID,
		StartedAt:  entry,
		FinishedAt: entry.Add(time.Second),
		Config:     strategy.DefaultConfig(),
		Trades:     []models.Trade{trade},
		MinutePnL: map[models.MinuteKey][]models.MinutePnLRow{
			trade.Key(): {
				{Timestamp: entry, CallClose: 100, PutClose: 98},
				{Timestamp: entry.Add(time.Minute), CallClose: 99, PutClose: 97, MinutePnL: 2, CumulativePnL: 150},
			},
		},
		Outcomes: []models.DayOutcome{
			{Date: "2025-02-03", Expiry: "2025-02-06", Cause: models.CauseNormalExit, Trades: 1, NetPnL: 1970},
		},
	}
	require.NoError(t, store.SaveRun(context.Background(), res))
	return res
}

func newTestServer(store storage.Interface, token string) *Server {
	logger, _ := test.NewNullLogger()
	return NewServer(Config{Port: 0, AuthToken: token, Version: "test"}, store, logger)
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(storage.NewMockStorage(), "")
	rec := get(t, s.Handler(), "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

type brokenStorage struct {
	*storage.MockStorage
}

func (brokenStorage) ListRuns(context.Context, int) ([]storage.RunSummary, error) {
	return nil, errors.New("database is locked")
}

func TestHealthDegraded(t *testing.T) {
	s := newTestServer(brokenStorage{storage.NewMockStorage()}, "")
	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(t, s.Handler(), "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunEndpoints(t *testing.T) {
	store := storage.NewMockStorage()
	res := storedRun(t, store, "run-1")
	h := newTestServer(store, "").Handler()

	t.Run("list", func(t *testing.T) {
		rec := get(t, h, "/api/runs?limit=10")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var runs []storage.RunSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "run-1", runs[0].ID)
		assert.Equal(t, "NIFTY", runs[0].Symbol)
		assert.InDelta(t, 1970.0, runs[0].Metrics.TotalPnL, 1e-9)
	})

	t.Run("bad limit", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/runs?limit=zero").Code)
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/runs?limit=-1").Code)
	})

	t.Run("run", func(t *testing.T) {
		rec := get(t, h, "/api/runs/run-1")
		require.Equal(t, http.StatusOK, rec.Code)
		var run storage.RunSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.Equal(t, 1, run.Sessions)
	})

	t.Run("trades", func(t *testing.T) {
		rec := get(t, h, "/api/runs/run-1/trades")
		require.Equal(t, http.StatusOK, rec.Code)
		var trades []models.Trade
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
		require.Len(t, trades, 1)
		assert.Equal(t, 23500, trades[0].Strike)
		assert.Equal(t, models.ExitEndOfWindow, trades[0].Exit.Reason)
	})

	t.Run("daily", func(t *testing.T) {
		rec := get(t, h, "/api/runs/run-1/daily")
		require.Equal(t, http.StatusOK, rec.Code)
		var daily []metrics.DailyPnL
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &daily))
		require.Len(t, daily, 1)
		assert.Equal(t, 1, daily[0].WinningTrades)
		assert.InDelta(t, 1970.0, daily[0].CumulativePnL, 1e-9)
	})

	t.Run("outcomes", func(t *testing.T) {
		rec := get(t, h, "/api/runs/run-1/outcomes")
		require.Equal(t, http.StatusOK, rec.Code)
		var outcomes []models.DayOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcomes))
		require.Len(t, outcomes, 1)
		assert.Equal(t, models.CauseNormalExit, outcomes[0].Cause)
	})

	t.Run("intraday", func(t *testing.T) {
		rec := get(t, h, "/api/runs/run-1/intraday/2025-02-03/0")
		require.Equal(t, http.StatusOK, rec.Code)
		var rows []models.MinutePnLRow
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		assert.Equal(t, res.MinutePnL[res.Trades[0].Key()][1].CumulativePnL, rows[1].CumulativePnL)

		assert.Equal(t, http.StatusNotFound, get(t, h, "/api/runs/run-1/intraday/2025-02-03/1").Code)
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/runs/run-1/intraday/2025-02-03/x").Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		for _, path := range []string{
			"/api/runs/nope",
			"/api/runs/nope/trades",
			"/api/runs/nope/daily",
			"/api/runs/nope/outcomes",
			"/api/runs/nope/intraday/2025-02-03/0",
		} {
			assert.Equal(t, http.StatusNotFound, get(t, h, path).Code, path)
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	store := storage.NewMockStorage()
	storedRun(t, store, "run-1")
	h := newTestServer(store, "s3cret").Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code, "health is never gated")
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/runs").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/runs", "X-Auth-Token", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/runs", "X-Auth-Token", "s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/runs?token=s3cret").Code)
}

func TestListRunsEmpty(t *testing.T) {
	rec := get(t, newTestServer(storage.NewMockStorage(), "").Handler(), "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
