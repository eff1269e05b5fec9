package storage

// Schema is applied on open; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	sessions INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	config_json TEXT NOT NULL,
	metrics_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	date TEXT NOT NULL,
	expiry TEXT NOT NULL,
	symbol TEXT NOT NULL,
	reentry INTEGER NOT NULL,
	underlying REAL NOT NULL,
	strike INTEGER NOT NULL,
	entry_time TEXT NOT NULL,
	call_entry REAL NOT NULL,
	put_entry REAL NOT NULL,
	call_exit REAL NOT NULL,
	put_exit REAL NOT NULL,
	gross_pnl REAL NOT NULL,
	net_pnl REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	exit_time TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	date TEXT NOT NULL,
	expiry TEXT NOT NULL,
	skipped INTEGER NOT NULL,
	cause TEXT NOT NULL,
	error TEXT NOT NULL,
	trades INTEGER NOT NULL,
	reentries INTEGER NOT NULL,
	net_pnl REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS minute_pnl (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	date TEXT NOT NULL,
	reentry INTEGER NOT NULL,
	ts TEXT NOT NULL,
	call_close REAL NOT NULL,
	put_close REAL NOT NULL,
	minute_pnl REAL NOT NULL,
	cumulative_pnl REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_minute_pnl_key ON minute_pnl(run_id, date, reentry, ts);
`
