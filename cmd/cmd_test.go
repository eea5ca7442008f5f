package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/apiclient"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/config"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/server"
)

// startServer serves the API without workers, so submitted audits stay queued.
func startServer(t *testing.T) string {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Reconcile.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	app, err := server.Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		app.Close(context.Background())
	})
	return ts.URL
}

func writeConfig(t *testing.T, serverURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("poll:\n  server_url: %q\n  interval_seconds: 1\nlogging:\n  development: false\n", serverURL)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAuditSubmitAndStatus(t *testing.T) {
	cfgPath := writeConfig(t, startServer(t))

	out, err := run(t, "--config", cfgPath, "audit", "submit", "https://example.com", "--pages", "5")
	require.NoError(t, err)
	var submitted apiclient.Submitted
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))
	require.NotEmpty(t, submitted.ID)
	require.Equal(t, audit.StatusQueued, submitted.Status)

	out, err = run(t, "--config", cfgPath, "audit", "status", submitted.ID)
	require.NoError(t, err)
	var view audit.StatusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, submitted.ID, view.ID)
	require.Equal(t, audit.StatusQueued, view.Status)

	_, err = run(t, "--config", cfgPath, "audit", "result", submitted.ID)
	require.ErrorIs(t, err, audit.ErrNotCompleted)
}

func TestAuditSubmitRejectsInvalidURL(t *testing.T) {
	cfgPath := writeConfig(t, startServer(t))

	_, err := run(t, "--config", cfgPath, "audit", "submit", "ftp://example.com")
	require.ErrorIs(t, err, audit.ErrInvalidRequest)
}

func TestBatchSubmitFromFileAndGet(t *testing.T) {
	cfgPath := writeConfig(t, startServer(t))
	urlFile := filepath.Join(t.TempDir(), "sites.txt")
	require.NoError(t, os.WriteFile(urlFile, []byte("# clients\nhttps://a.example.com\n\nhttps://b.example.com\n"), 0o600))

	out, err := run(t, "--config", cfgPath, "batch", "submit", "https://c.example.com", "--file", urlFile, "--name", "october")
	require.NoError(t, err)
	var submitted apiclient.BatchSubmitted
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))
	require.Equal(t, 3, submitted.Total)

	out, err = run(t, "--config", cfgPath, "batch", "get", submitted.ID)
	require.NoError(t, err)
	require.Contains(t, out, "october")
	require.Contains(t, out, "0 of 3 done")
	for _, u := range []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"} {
		require.Contains(t, out, u)
	}
}

func TestBatchSubmitRequiresURLs(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1")

	_, err := run(t, "--config", cfgPath, "batch", "submit")
	require.ErrorContains(t, err, "no URLs given")
}

func TestSweepWithMemoryStore(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1")

	out, err := run(t, "--config", cfgPath, "sweep")
	require.NoError(t, err)
	require.Equal(t, "0 stale audits failed\n", out)
}

func TestBadConfigFails(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "sweep")
	require.ErrorContains(t, err, "load config")
}

func TestReadURLFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("  https://x.example.com  \n#skip\n\nhttps://y.example.com"), 0o600))

	urls, err := readURLFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"https://x.example.com", "https://y.example.com"}, urls)

	_, err = readURLFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}

func TestRenderBatch(t *testing.T) {
	t.Parallel()
	view := orchestrator.BatchView{
		Batch: audit.Batch{ID: "b1", Name: "sites", TotalURLs: 2, CompletedURLs: 1, FailedURLs: 1, Status: audit.StatusCompleted},
		Audits: []audit.Job{
			{ID: "j1", URL: "https://ok.example.com", Status: audit.StatusCompleted, Result: &audit.Report{OverallScore: 77, OverallGrade: "C"}},
			{ID: "j2", URL: "https://bad.example.com", Status: audit.StatusFailed, ErrorMessage: "analyzer exited 1"},
		},
	}
	var buf bytes.Buffer
	renderBatch(&buf, view)
	out := buf.String()

	require.Contains(t, out, "Batch b1 (sites): completed")
	require.Contains(t, out, "2 of 2 done, 1 failed")
	require.Contains(t, out, "77")
	require.Contains(t, out, "analyzer exited 1")
	require.Equal(t, 1, strings.Count(out, "https://ok.example.com"))
}
