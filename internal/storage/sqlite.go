package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_straddle/internal/backtest"
	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// SQLiteStorage is the results journal: one database file holding every run.
type SQLiteStorage struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// NewSQLiteStorage opens (creating if needed) the journal at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStorage{db: db, logger: logrus.StandardLogger()}, nil
}

// SetLogger replaces the default logger.
func (s *SQLiteStorage) SetLogger(logger logrus.FieldLogger) {
	if logger != nil {
		s.logger = logger
	}
}

// SaveRun writes the run atomically.
func (s *SQLiteStorage) SaveRun(ctx context.Context, res *backtest.Result) (err error) {
	sum := summarize(res)
	cfgJSON, err := json.Marshal(sum.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	metricsJSON, err := json.Marshal(sum.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, symbol, started_at, finished_at, sessions, skipped, config_json, metrics_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Symbol, formatTime(sum.StartedAt), formatTime(sum.FinishedAt),
		sum.Sessions, sum.Skipped, string(cfgJSON), string(metricsJSON),
	); err != nil {
		return fmt.Errorf("insert run %s: %w", sum.ID, err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades
		(trade_id, run_id, seq, date, expiry, symbol, reentry, underlying, strike, entry_time,
		 call_entry, put_entry, call_exit, put_exit, gross_pnl, net_pnl, exit_reason, exit_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = tradeStmt.Close() }()
	for i, t := range res.Trades {
		if _, err = tradeStmt.ExecContext(ctx,
			t.ID, sum.ID, i, t.Date, t.Expiry, t.Symbol, t.Reentry, t.UnderlyingPrice, t.Strike,
			formatTime(t.EntryTime), t.CallEntry, t.PutEntry, t.CallExit, t.PutExit,
			t.GrossPnL, t.NetPnL, string(t.Exit.Reason), formatTime(t.Exit.Timestamp),
		); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}

	outcomeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes
		(run_id, seq, date, expiry, skipped, cause, error, trades, reentries, net_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = outcomeStmt.Close() }()
	for i, o := range res.Outcomes {
		if _, err = outcomeStmt.ExecContext(ctx,
			sum.ID, i, o.Date, o.Expiry, o.Skipped, string(o.Cause), o.Error, o.Trades, o.Reentries, o.NetPnL,
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Date, err)
		}
	}

	minuteStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO minute_pnl
		(run_id, date, reentry, ts, call_close, put_close, minute_pnl, cumulative_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = minuteStmt.Close() }()
	rows := 0
	for key, series := range res.MinutePnL {
		for _, r := range series {
			if _, err = minuteStmt.ExecContext(ctx,
				sum.ID, key.Date, key.Reentry, formatTime(r.Timestamp),
				r.CallClose, r.PutClose, r.MinutePnL, r.CumulativePnL,
			); err != nil {
				return fmt.Errorf("insert minute pnl %s: %w", key, err)
			}
			rows++
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", sum.ID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"run_id":      sum.ID,
		"trades":      len(res.Trades),
		"outcomes":    len(res.Outcomes),
		"minute_rows": rows,
	}).Info("run saved to journal")
	return nil
}

// ListRuns returns up to limit runs, most recently started first. A
// non-positive limit returns all runs.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, symbol, started_at, finished_at, sessions, skipped, config_json, metrics_json
		FROM runs
		ORDER BY started_at DESC, run_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RunSummary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

// GetRun returns one run's summary or ErrRunNotFound.
func (s *SQLiteStorage) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, symbol, started_at, finished_at, sessions, skipped, config_json, metrics_json
		FROM runs
		WHERE run_id = ?`, runID)
	sum, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return sum, err
}

// GetTrades returns a run's trades in the order they were recorded.
func (s *SQLiteStorage) GetTrades(ctx context.Context, runID string) ([]models.Trade, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, date, expiry, symbol, reentry, underlying, strike, entry_time,
		       call_entry, put_entry, call_exit, put_exit, gross_pnl, net_pnl, exit_reason, exit_time
		FROM trades
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Trade
	for rows.Next() {
		var (
			t                       models.Trade
			entryAt, exitAt, reason string
		)
		if err := rows.Scan(
			&t.ID, &t.Date, &t.Expiry, &t.Symbol, &t.Reentry, &t.UnderlyingPrice, &t.Strike, &entryAt,
			&t.CallEntry, &t.PutEntry, &t.CallExit, &t.PutExit, &t.GrossPnL, &t.NetPnL, &reason, &exitAt,
		); err != nil {
			return nil, err
		}
		if t.EntryTime, err = parseTime(entryAt); err != nil {
			return nil, err
		}
		if t.Exit.Timestamp, err = parseTime(exitAt); err != nil {
			return nil, err
		}
		t.Exit.Reason = models.ExitReason(reason)
		t.Exit.CallPrice = t.CallExit
		t.Exit.PutPrice = t.PutExit
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetOutcomes returns a run's per-date outcomes in schedule order.
func (s *SQLiteStorage) GetOutcomes(ctx context.Context, runID string) ([]models.DayOutcome, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, expiry, skipped, cause, error, trades, reentries, net_pnl
		FROM outcomes
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.DayOutcome
	for rows.Next() {
		var (
			o     models.DayOutcome
			cause string
		)
		if err := rows.Scan(&o.Date, &o.Expiry, &o.Skipped, &cause, &o.Error, &o.Trades, &o.Reentries, &o.NetPnL); err != nil {
			return nil, err
		}
		o.Cause = models.DayStopCause(cause)
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetIntraday returns one attempt's minute series, or an empty slice when
// the attempt does not exist.
func (s *SQLiteStorage) GetIntraday(ctx context.Context, runID string, key models.MinuteKey) ([]models.MinutePnLRow, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, call_close, put_close, minute_pnl, cumulative_pnl
		FROM minute_pnl
		WHERE run_id = ? AND date = ? AND reentry = ?
		ORDER BY ts`, runID, key.Date, key.Reentry)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []models.MinutePnLRow{}
	for rows.Next() {
		var (
			r  models.MinutePnLRow
			ts string
		)
		if err := rows.Scan(&ts, &r.CallClose, &r.PutClose, &r.MinutePnL, &r.CumulativePnL); err != nil {
			return nil, err
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) requireRun(ctx context.Context, runID string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunSummary, error) {
	var (
		sum                  RunSummary
		started, finished    string
		cfgJSON, metricsJSON string
	)
	if err := row.Scan(&sum.ID, &sum.Symbol, &started, &finished, &sum.Sessions, &sum.Skipped, &cfgJSON, &metricsJSON); err != nil {
		return nil, err
	}
	var err error
	if sum.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if sum.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &sum.Config); err != nil {
		return nil, fmt.Errorf("decode config of run %s: %w", sum.ID, err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &sum.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics of run %s: %w", sum.ID, err)
	}
	return &sum, nil
}

// Times are stored as RFC 3339 text so the exchange offset survives.
func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
