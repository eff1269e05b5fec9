package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_straddle/internal/storage"
)

// newRunsCmd reports what the journal holds.
func newRunsCmd(root *rootOptions) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "List journaled runs, or show one run's day outcomes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root, cmd)
			if err != nil {
				return err
			}
			journal, err := a.openJournal()
			if err != nil {
				return err
			}
			defer func() { _ = journal.Close() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := journal.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, runs)
				}
				printRuns(out, runs)
				return nil
			}

			run, err := journal.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			outcomes, err := journal.GetOutcomes(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, map[string]any{"run": run, "outcomes": outcomes})
			}
			printRuns(out, []storage.RunSummary{*run})
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tEXPIRY\tTRADES\tNET P&L\tSTOP\tERROR")
			for _, o := range outcomes {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%s\t%s\n", o.Date, o.Expiry, o.Trades, o.NetPnL, o.Cause, o.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0 lists all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
	return cmd
}

func printRuns(w io.Writer, runs []storage.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSYMBOL\tSESSIONS\tSKIPPED\tTRADES\tTOTAL P&L\tSHARPE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.2f\t%.3f\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Symbol, r.Sessions, r.Skipped,
			r.Metrics.TotalTrades, r.Metrics.TotalPnL, r.Metrics.SharpeRatio)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
