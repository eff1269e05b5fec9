package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_straddle/internal/backtest"
	"github.com/eddiefleurent/scranton_straddle/internal/storage"
)

type backtestOptions struct {
	date      string
	expiry    string
	noExport  bool
	noJournal bool
	intraday  []string
}

func newBacktestCmd(root *rootOptions) *cobra.Command {
	opts := &backtestOptions{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run the configured sessions and export the results",
		Long: `Backtest runs every schedule.sessions entry through the straddle strategy,
prints the performance summary, writes CSV/JSON exports to output.dir and
records the run in the SQLite journal.

Example:
  straddle backtest -c config.yaml
  straddle backtest --date 2025-02-03 --expiry 2025-02-06 --intraday 2025-02-03:0`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBacktest(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.date, "date", "", "run a single trading date instead of the schedule (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.expiry, "expiry", "", "expiry for --date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.noExport, "no-export", false, "skip CSV/JSON exports")
	cmd.Flags().BoolVar(&opts.noJournal, "no-journal", false, "do not record the run in the journal")
	cmd.Flags().StringSliceVar(&opts.intraday, "intraday", nil, "also export the minute series for DATE:REENTRY (repeatable)")
	cmd.MarkFlagsRequiredTogether("date", "expiry")
	return cmd
}

func runBacktest(cmd *cobra.Command, root *rootOptions, opts *backtestOptions) error {
	a, err := loadApp(root, cmd)
	if err != nil {
		return err
	}

	sessions := a.cfg.Sessions()
	if opts.date != "" {
		sessions = []backtest.Session{{Date: opts.date, Expiry: opts.expiry}}
	}
	if len(sessions) == 0 {
		return fmt.Errorf("no sessions: set schedule.sessions or pass --date/--expiry")
	}

	sc, err := a.cfg.StrategyConfig()
	if err != nil {
		return err
	}
	p, err := a.provider()
	if err != nil {
		return err
	}
	engine, err := backtest.NewEngine(sc, p,
		backtest.WithWorkers(a.cfg.Backtest.Workers),
		backtest.WithLocation(a.loc),
		backtest.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	res, err := engine.Run(ctx, sessions)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}
	printSummary(cmd.OutOrStdout(), res)

	if !opts.noExport {
		exporter := storage.NewExporter(a.cfg.Output.Dir, a.logger)
		files, err := exporter.ExportRun(res)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		for _, key := range opts.intraday {
			date, reentry, err := parseIntradayKey(key)
			if err != nil {
				return err
			}
			path, err := exporter.ExportIntraday(res, date, reentry)
			if err != nil {
				return fmt.Errorf("export intraday %s: %w", key, err)
			}
			a.logger.WithField("file", path).Info("Intraday series exported")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nResults written to %s\n", files.Trades)
	}

	if !opts.noJournal {
		journal, err := a.openJournal()
		if err != nil {
			return err
		}
		defer func() { _ = journal.Close() }()
		if err := journal.SaveRun(ctx, res); err != nil {
			return fmt.Errorf("journal run: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s recorded in %s\n", res.RunID, a.cfg.Output.JournalPath)
	}
	return nil
}

func parseIntradayKey(s string) (string, int, error) {
	date, n, ok := strings.Cut(s, ":")
	if !ok {
		return "", 0, fmt.Errorf("--intraday %q: want DATE:REENTRY", s)
	}
	var reentry int
	if _, err := fmt.Sscanf(n, "%d", &reentry); err != nil || reentry < 0 {
		return "", 0, fmt.Errorf("--intraday %q: reentry must be a non-negative integer", s)
	}
	return date, reentry, nil
}

func printSummary(w io.Writer, res *backtest.Result) {
	m := res.Metrics()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "Sessions\t%d (%d skipped)\n", len(res.Outcomes), len(res.SkippedDates()))
	fmt.Fprintf(tw, "Trades\t%d (%d won, %d lost)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(tw, "Total P&L\t%.2f\n", m.TotalPnL)
	fmt.Fprintf(tw, "Avg daily P&L\t%.2f\n", m.AvgDailyPnL)
	fmt.Fprintf(tw, "Win rate\t%.2f%%\n", m.WinRate)
	fmt.Fprintf(tw, "Sharpe\t%.3f\n", m.SharpeRatio)
	fmt.Fprintf(tw, "Max drawdown\t%.2f\n", m.MaxDrawdown)
	fmt.Fprintf(tw, "Profit factor\t%.2f\n", m.ProfitFactor)
	_ = tw.Flush()

	if len(res.Outcomes) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tEXPIRY\tTRADES\tRE-ENTRIES\tNET P&L\tSTOP")
	for _, o := range res.Outcomes {
		stop := string(o.Cause)
		if o.Skipped {
			stop = "skipped: " + stop
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%s\n", o.Date, o.Expiry, o.Trades, o.Reentries, o.NetPnL, stop)
	}
	_ = tw.Flush()
}
