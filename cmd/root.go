// Package cmd defines and implements the CLI commands for the auditor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/config"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/logging"
)

// envKeyType is the key for storing the runtime env in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs once flags are parsed.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "auditor",
		Short: "Queues website SEO audits and tracks them to completion.",
		Long: `auditor accepts single and batch SEO audit requests, runs the external
Analyzer for each under bounded concurrency, and stores reports, fixes and
progress timelines for later retrieval. The serve command runs the HTTP API;
the remaining commands talk to a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand: load config, build the logger and stash
		// both in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: logLevel})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and AUDITOR_* env vars otherwise)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level: debug, info, warn or error")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
