package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/apiclient"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/config"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/poller"
)

const fakeReport = `{"overall_score":91,"overall_grade":"A","total_checks":2,"total_passed":2,"total_failed":0,"total_critical":0,` +
	`"category_results":{"technical":{"score":91,"grade":"A","passed":2,"checks":[]}},` +
	`"recommendations":[{"category":"technical","severity":"info","title":"Add a sitemap","description":"none found"}]}`

func testConfig(command ...string) config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5, ShutdownTimeoutSeconds: 5, StreamRefreshSeconds: 1},
		Dispatch: config.DispatchConfig{Concurrency: 2, QueueDepth: 8, MaxPagesCap: 50, EnqueueTimeoutSeconds: 1, ArtifactPrefix: "audits"},
		Analyzer: config.AnalyzerConfig{Command: command, TimeoutSeconds: 10, MaxOutputBytes: 1 << 20},
		Reconcile: config.ReconcileConfig{
			Enabled: true, Schedule: "@every 1h", StaleAfterSeconds: 600,
		},
		Storage:  config.StorageConfig{Backend: config.BackendMemory},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Progress: config.ProgressConfig{BufferSize: 64, MaxBatchEvents: 10, MaxBatchWaitMillis: 10, SinkTimeoutSeconds: 1},
	}
}

func TestServeRunsAuditEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := Build(ctx, testConfig("sh", "-c", "printf '%s' '"+fakeReport+"'"), zap.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- app.Serve(ctx, ln) }()

	client, err := apiclient.New("http://" + ln.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	submitted, err := client.Submit(ctx, orchestrator.SubmitRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, audit.StatusQueued, submitted.Status)

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	view, err := poller.New(client, poller.Config{Interval: 20 * time.Millisecond}).Wait(waitCtx, submitted.ID)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, view.Status, view.ErrorMessage)
	require.NotNil(t, view.OverallScore)
	require.Equal(t, 91, *view.OverallScore)

	job, err := client.GetResult(ctx, submitted.ID)
	require.NoError(t, err)
	require.Contains(t, job.ArtifactURI, "audits/"+submitted.ID+"/")

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestBuildRejectsMissingAnalyzer(t *testing.T) {
	_, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.ErrorContains(t, err, "analyzer")
}
