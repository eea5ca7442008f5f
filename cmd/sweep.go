package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/server"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fails audits stuck in running once, then exits",
		Long: `Runs a single reconciliation pass against the configured store: every
audit running for longer than reconcile.stale_after_seconds is marked failed
and its batch counters are settled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer app.Close(cmd.Context())

			failed, err := app.Sweeper().Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			e.logger.Info("sweep finished", zap.Int("failed", failed))
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale audits failed\n", failed)
			return nil
		},
	}
}
