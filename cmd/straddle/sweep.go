package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_straddle/internal/backtest"
	"github.com/eddiefleurent/scranton_straddle/internal/storage"
)

type sweepOptions struct {
	top      int
	noExport bool
}

func newSweepCmd(root *rootOptions) *cobra.Command {
	opts := &sweepOptions{}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every combination of the sweep parameters and rank them",
		Long: `Sweep expands the sweep section into its Cartesian product, runs each
combination over the configured sessions and ranks them by total P&L.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, root, opts)
		},
	}
	cmd.Flags().IntVar(&opts.top, "top", 10, "number of combinations to print (0 prints all)")
	cmd.Flags().BoolVar(&opts.noExport, "no-export", false, "skip the sweep CSV export")
	return cmd
}

func runSweep(cmd *cobra.Command, root *rootOptions, opts *sweepOptions) error {
	a, err := loadApp(root, cmd)
	if err != nil {
		return err
	}
	sessions := a.cfg.Sessions()
	if len(sessions) == 0 {
		return fmt.Errorf("no sessions: set schedule.sessions")
	}

	sc, err := a.cfg.StrategyConfig()
	if err != nil {
		return err
	}
	p, err := a.provider()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	sweeper := backtest.NewSweeper(sc, p, a.loc, a.cfg.Sweep.Workers, a.logger)
	results, err := sweeper.Run(ctx, a.cfg.SweepGrid(), sessions)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	printSweep(cmd.OutOrStdout(), results, opts.top)

	if !opts.noExport {
		path, err := storage.NewExporter(a.cfg.Output.Dir, a.logger).ExportSweep(results)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nSweep results written to %s\n", path)
	}
	return nil
}

func printSweep(w io.Writer, results []backtest.SweepResult, top int) {
	if top <= 0 || top > len(results) {
		top = len(results)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSL%\tTP%\tMAX RE\tDELAY\tMAX LOSS\tTOTAL P&L\tSHARPE\tWIN%\tTRADES")
	for i, r := range results[:top] {
		tp := "-"
		if v, ok := r.Config.TakeProfit(); ok {
			tp = fmt.Sprintf("%.1f", v)
		}
		fmt.Fprintf(tw, "%d\t%.1f\t%s\t%d\t%s\t%.0f\t%.2f\t%.3f\t%.2f\t%d\n",
			i+1, r.Config.StopLossPct, tp, r.Config.MaxReentries, r.Config.ReentryDelay,
			r.Config.MaxDailyLoss, r.Metrics.TotalPnL, r.Metrics.SharpeRatio, r.Metrics.WinRate,
			r.Metrics.TotalTrades)
	}
	_ = tw.Flush()
}
