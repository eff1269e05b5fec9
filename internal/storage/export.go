package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_straddle/internal/backtest"
	"github.com/eddiefleurent/scranton_straddle/internal/metrics"
	"github.com/eddiefleurent/scranton_straddle/internal/models"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
)

const (
	stampLayout    = "20060102_150405"
	csvTimeLayout  = "2006-01-02 15:04:05"
	priceDecimals  = 2
	ratioDecimals  = 4
	exportFileMode = 0o600
)

// Exporter writes run results as CSV files named with a timestamp suffix.
type Exporter struct {
	dir    string
	now    func() time.Time
	logger logrus.FieldLogger
}

// NewExporter returns an exporter writing under dir.
func NewExporter(dir string, logger logrus.FieldLogger) *Exporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exporter{dir: dir, now: time.Now, logger: logger}
}

// ExportedFiles lists what ExportRun wrote.
type ExportedFiles struct {
	Trades   string
	Daily    string
	Metrics  string
	Intraday string
	Summary  string
}

// ExportRun writes trades, daily summary, metrics, combined intraday series
// and a JSON run summary, all sharing one timestamp.
func (e *Exporter) ExportRun(res *backtest.Result) (ExportedFiles, error) {
	stamp := e.now().Format(stampLayout)
	var (
		files ExportedFiles
		err   error
	)
	if files.Trades, err = e.exportTrades(res.Trades, stamp); err != nil {
		return files, err
	}
	if files.Daily, err = e.exportDaily(res.Daily(), stamp); err != nil {
		return files, err
	}
	if files.Metrics, err = e.exportMetrics(res.Metrics(), stamp); err != nil {
		return files, err
	}
	if len(res.MinutePnL) > 0 {
		if files.Intraday, err = e.exportAllIntraday(res.MinutePnL, stamp); err != nil {
			return files, err
		}
	}
	files.Summary = filepath.Join(e.dir, fmt.Sprintf("run_%s_%s.json", res.RunID, stamp))
	if err = writeJSONAtomic(files.Summary, summarize(res)); err != nil {
		return files, err
	}

	e.logger.WithFields(logrus.Fields{
		"run_id": res.RunID,
		"dir":    e.dir,
		"stamp":  stamp,
	}).Info("results exported")
	return files, nil
}

// ExportIntraday writes one attempt's minute series.
func (e *Exporter) ExportIntraday(res *backtest.Result, date string, reentry int) (string, error) {
	rows, ok := res.Intraday(date, reentry)
	if !ok {
		return "", fmt.Errorf("no intraday series for %s", models.MinuteKey{Date: date, Reentry: reentry})
	}
	path := filepath.Join(e.dir, fmt.Sprintf("intraday_pnl_%s_reentry%d_%s.csv", date, reentry, e.now().Format(stampLayout)))
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, minuteRecord(r))
	}
	return path, writeCSVAtomic(path, minuteHeader, records)
}

// ExportSweep writes one row per parameter combination, in the given order.
func (e *Exporter) ExportSweep(results []backtest.SweepResult) (string, error) {
	path := filepath.Join(e.dir, fmt.Sprintf("sweep_results_%s.csv", e.now().Format(stampLayout)))
	header := []string{
		"rank", "stop_loss_pct", "target_profit_pct", "max_reentries", "reentry_delay_minutes",
		"max_loss_per_day", "total_pnl", "sharpe_ratio", "win_rate", "profit_factor",
		"max_drawdown", "total_trades", "skipped_dates", "run_id",
	}
	records := make([][]string, 0, len(results))
	for i, r := range results {
		tp := ""
		if v, ok := r.Config.TakeProfit(); ok {
			tp = fixed(v, priceDecimals)
		}
		records = append(records, []string{
			strconv.Itoa(i + 1),
			fixed(r.Config.StopLossPct, priceDecimals),
			tp,
			strconv.Itoa(r.Config.MaxReentries),
			fixed(r.Config.ReentryDelay.Minutes(), priceDecimals),
			money(r.Config.MaxDailyLoss),
			money(r.Metrics.TotalPnL),
			fixed(r.Metrics.SharpeRatio, ratioDecimals),
			fixed(r.Metrics.WinRate, priceDecimals),
			fixed(r.Metrics.ProfitFactor, ratioDecimals),
			money(r.Metrics.MaxDrawdown),
			strconv.Itoa(r.Metrics.TotalTrades),
			strconv.Itoa(r.Skipped),
			r.RunID,
		})
	}
	return path, writeCSVAtomic(path, header, records)
}

func (e *Exporter) exportTrades(trades []models.Trade, stamp string) (string, error) {
	path := filepath.Join(e.dir, fmt.Sprintf("backtest_results_%s.csv", stamp))
	header := []string{
		"trade_id", "date", "weekday", "days_to_expiry", "expiry", "symbol", "reentry",
		"underlying", "strike", "entry_time", "exit_time", "call_entry", "put_entry",
		"call_exit", "put_exit", "gross_pnl", "net_pnl", "exit_reason", "cumulative_pnl",
	}
	cumulative := metrics.CumulativeByDate(trades)
	records := make([][]string, 0, len(trades))
	for i, t := range trades {
		weekday, dte := calendarInfo(t.Date, t.Expiry)
		records = append(records, []string{
			t.ID,
			t.Date,
			weekday,
			dte,
			t.Expiry,
			t.Symbol,
			strconv.Itoa(t.Reentry),
			fixed(t.UnderlyingPrice, priceDecimals),
			strconv.Itoa(t.Strike),
			t.EntryTime.Format(csvTimeLayout),
			t.Exit.Timestamp.Format(csvTimeLayout),
			fixed(t.CallEntry, priceDecimals),
			fixed(t.PutEntry, priceDecimals),
			fixed(t.CallExit, priceDecimals),
			fixed(t.PutExit, priceDecimals),
			fixed(t.GrossPnL, priceDecimals),
			money(t.NetPnL),
			string(t.Exit.Reason),
			money(cumulative[i]),
		})
	}
	return path, writeCSVAtomic(path, header, records)
}

func (e *Exporter) exportDaily(days []metrics.DailyPnL, stamp string) (string, error) {
	path := filepath.Join(e.dir, fmt.Sprintf("daily_summary_%s.csv", stamp))
	header := []string{"date", "net_pnl", "num_trades", "winning_trades", "losing_trades", "exit_reasons", "cumulative_pnl"}
	records := make([][]string, 0, len(days))
	for _, d := range days {
		reasons, err := json.Marshal(d.ExitReasons)
		if err != nil {
			return "", err
		}
		records = append(records, []string{
			d.Date,
			money(d.NetPnL),
			strconv.Itoa(d.Trades),
			strconv.Itoa(d.WinningTrades),
			strconv.Itoa(d.LosingTrades),
			string(reasons),
			money(d.CumulativePnL),
		})
	}
	return path, writeCSVAtomic(path, header, records)
}

func (e *Exporter) exportMetrics(m metrics.PerformanceMetrics, stamp string) (string, error) {
	path := filepath.Join(e.dir, fmt.Sprintf("performance_metrics_%s.csv", stamp))
	header := []string{
		"total_pnl", "avg_daily_pnl", "trading_days", "win_rate", "sharpe_ratio", "max_drawdown",
		"total_trades", "winning_trades", "losing_trades", "avg_win", "avg_loss", "max_win",
		"max_loss", "profit_factor",
	}
	record := []string{
		money(m.TotalPnL),
		money(m.AvgDailyPnL),
		strconv.Itoa(m.TradingDays),
		fixed(m.WinRate, priceDecimals),
		fixed(m.SharpeRatio, ratioDecimals),
		money(m.MaxDrawdown),
		strconv.Itoa(m.TotalTrades),
		strconv.Itoa(m.WinningTrades),
		strconv.Itoa(m.LosingTrades),
		money(m.AvgWin),
		money(m.AvgLoss),
		money(m.MaxWin),
		money(m.MaxLoss),
		fixed(m.ProfitFactor, ratioDecimals),
	}
	return path, writeCSVAtomic(path, header, [][]string{record})
}

var minuteHeader = []string{"datetime", "call_close", "put_close", "minute_pnl", "cumulative_pnl"}

func minuteRecord(r models.MinutePnLRow) []string {
	return []string{
		r.Timestamp.Format(csvTimeLayout),
		fixed(r.CallClose, priceDecimals),
		fixed(r.PutClose, priceDecimals),
		fixed(r.MinutePnL, priceDecimals),
		money(r.CumulativePnL),
	}
}

func (e *Exporter) exportAllIntraday(series map[models.MinuteKey][]models.MinutePnLRow, stamp string) (string, error) {
	keys := make([]models.MinuteKey, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date < keys[j].Date
		}
		return keys[i].Reentry < keys[j].Reentry
	})

	path := filepath.Join(e.dir, fmt.Sprintf("intraday_pnl_all_%s.csv", stamp))
	header := append(append([]string{}, minuteHeader...), "key")
	var records [][]string
	for _, k := range keys {
		for _, r := range series[k] {
			records = append(records, append(minuteRecord(r), k.String()))
		}
	}
	return path, writeCSVAtomic(path, header, records)
}

// calendarInfo returns the trade date's weekday and calendar days to expiry.
func calendarInfo(date, expiry string) (string, string) {
	d, err := time.Parse(provider.DateLayout, date)
	if err != nil {
		return "", ""
	}
	x, err := time.Parse(provider.DateLayout, expiry)
	if err != nil {
		return d.Weekday().String(), ""
	}
	return d.Weekday().String(), strconv.Itoa(int(x.Sub(d).Hours() / 24))
}

// money renders a currency amount with two decimals, rounding half away
// from zero on the exact decimal value.
func money(v float64) string {
	return fixed(v, priceDecimals)
}

// fixed renders v with places decimals. Non-finite values have no decimal
// form and are written as Go formats them.
func fixed(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

// writeCSVAtomic writes to a temp file first and renames it into place.
func writeCSVAtomic(path string, header []string, records [][]string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, exportFileMode) // #nosec G304 -- path is under the output dir
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	w := csv.NewWriter(f)
	if err = w.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	if err = w.WriteAll(records); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, exportFileMode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
