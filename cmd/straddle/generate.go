package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_straddle/internal/mock"
)

func newGenerateCmd(root *rootOptions) *cobra.Command {
	var (
		dir string
		pad int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic CSV dataset for the configured sessions",
		Long: `Generate writes deterministic synthetic underlying and option bars for every
configured session in the layout the csv provider reads, so a backtest can
run without a market data subscription.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root, cmd)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.cfg.Data.Dir
			}

			ctx, cancel := signalContext(cmd.Context(), a.logger)
			defer cancel()

			synth := mock.NewSyntheticProvider(a.loc, mock.WithAnnualVol(a.cfg.Data.AnnualVol))
			total := 0
			for _, s := range a.cfg.Sessions() {
				if err := ctx.Err(); err != nil {
					return err
				}
				n, err := synth.WriteDataset(ctx, dir, a.cfg.Strategy.Symbol, s.Date, s.Expiry, pad)
				if err != nil {
					a.logger.WithError(err).WithField("date", s.Date).Warn("Session not generated")
					continue
				}
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d files to %s\n", total, dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory (default data.dir)")
	cmd.Flags().IntVar(&pad, "pad", 4, "extra strikes on each side of the day's range")
	return cmd
}
