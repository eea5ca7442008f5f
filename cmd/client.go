package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/apiclient"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/poller"
)

func newAPIClient(e *env) (*apiclient.Client, error) {
	var opts []apiclient.Option
	if e.cfg.Auth.APIKey != "" {
		opts = append(opts, apiclient.WithAPIKey(e.cfg.Auth.APIKey))
	}
	client, err := apiclient.New(e.cfg.Poll.ServerURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	return client, nil
}

// newPoller logs every observed status change.
func newPoller(e *env, client *apiclient.Client) *poller.Poller {
	var last audit.Status
	return poller.New(client, poller.Config{
		Interval:  e.cfg.PollInterval(),
		MaxErrors: e.cfg.Poll.MaxErrors,
		OnStatus: func(view audit.StatusView) {
			if view.Status == last {
				return
			}
			last = view.Status
			e.logger.Info("audit status", zap.String("job_id", view.ID), zap.String("status", string(view.Status)))
		},
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
