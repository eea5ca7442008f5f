package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/orchestrator"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Submits and inspects single-URL audits on a running server",
	}
	cmd.AddCommand(newAuditSubmitCmd(), newAuditStatusCmd(), newAuditResultCmd())
	return cmd
}

func newAuditSubmitCmd() *cobra.Command {
	var (
		req  orchestrator.SubmitRequest
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Queues an audit of one URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			client, err := newAPIClient(e)
			if err != nil {
				return err
			}
			req.URL = args[0]
			submitted, err := client.Submit(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("submit audit: %w", err)
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), submitted)
			}
			view, err := newPoller(e, client).Wait(cmd.Context(), submitted.ID)
			if err != nil {
				return fmt.Errorf("wait for audit %s: %w", submitted.ID, err)
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().IntVar(&req.MaxPages, "pages", 0, "maximum pages to crawl (0 uses the server default)")
	cmd.Flags().StringVar(&req.ClientID, "client-id", "", "client the audit belongs to")
	cmd.Flags().StringVar(&req.ClientName, "client-name", "", "client name passed to the analyzer")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the audit finishes")
	return cmd
}

func newAuditStatusCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Shows the status of an audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			client, err := newAPIClient(e)
			if err != nil {
				return err
			}
			if wait {
				view, err := newPoller(e, client).Wait(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("wait for audit %s: %w", args[0], err)
				}
				return printJSON(cmd.OutOrStdout(), view)
			}
			view, err := client.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the audit finishes")
	return cmd
}

func newAuditResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <id>",
		Short: "Prints the full record of a completed audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			client, err := newAPIClient(e)
			if err != nil {
				return err
			}
			job, err := client.GetResult(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get result: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}
