package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the job lifecycle.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobQueued},
		{JobID: "b", TS: now, Stage: progress.StageJobQueued},
		{JobID: "a", TS: now, Stage: progress.StageJobStart},
		{JobID: "a", TS: now, Stage: progress.StageJobStart},
		{JobID: "b", TS: now, Stage: progress.StageJobStart},
		{JobID: "a", TS: now.Add(15 * time.Second), Stage: progress.StageJobDone, Score: 82, Grade: "b+", Dur: 15 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsQueued))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobScores, "auditor_job_overall_score"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobGrades.WithLabelValues("B")))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "b", TS: now, Stage: progress.StageJobError, Note: "boom", Dur: time.Second},
		{JobID: "c", TS: now, Stage: progress.StageJobError, Note: "dispatch"},
		{BatchID: "batch-1", TS: now, Stage: progress.StageBatchDone},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesDone))
	require.Equal(t, 2, testutil.CollectAndCount(sink.jobRuntime, "auditor_job_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestGradeLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "A", gradeLabel("A+"))
	require.Equal(t, "C", gradeLabel(" c "))
	require.Equal(t, "none", gradeLabel(""))
}
