package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_straddle/internal/dashboard"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over a read-only JSON API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root, cmd)
			if err != nil {
				return err
			}
			if port == 0 {
				port = a.cfg.Dashboard.Port
			}

			journal, err := a.openJournal()
			if err != nil {
				return err
			}
			defer func() { _ = journal.Close() }()

			server := dashboard.NewServer(dashboard.Config{
				Port:      port,
				AuthToken: a.cfg.Dashboard.AuthToken,
				Version:   version,
			}, journal, a.logger)

			ctx, cancel := signalContext(cmd.Context(), a.logger)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("dashboard server: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("dashboard shutdown: %w", err)
			}
			a.logger.Info("Dashboard stopped")
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default dashboard.port)")
	return cmd
}
