package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
)

// TestStoreSinkPersistsEvents ensures job events become timeline rows in order.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeTimelineRepo{}
	sink := NewStoreSink(repo, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	batch := []progress.Event{
		{JobID: "job-1", BatchID: "b-1", Stage: progress.StageJobStart, TS: now},
		{BatchID: "b-1", Stage: progress.StageBatchDone, TS: now},
		{JobID: "job-1", BatchID: "b-1", Stage: progress.StageJobError, TS: now.Add(3 * time.Second), Dur: 3 * time.Second, Note: "exit 1"},
		{JobID: "job-1", BatchID: "b-1", Stage: progress.StageBatchDone, TS: now.Add(3 * time.Second), Note: "0 completed, 1 failed"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.appends, 1)
	rows := repo.appends[0]
	require.Len(t, rows, 3)
	require.Equal(t, "JOB_START", rows[0].Stage)
	require.Equal(t, "b-1", rows[0].BatchID)
	require.Equal(t, "JOB_ERROR", rows[1].Stage)
	require.Equal(t, int64(3000), rows[1].DurationMs)
	require.Equal(t, "exit 1", rows[1].Note)
	require.Equal(t, "BATCH_DONE", rows[2].Stage)
	require.Equal(t, "job-1", rows[2].JobID)
	require.Equal(t, "b-1", rows[2].BatchID)
}

func TestStoreSinkSkipsEmptyBatches(t *testing.T) {
	t.Parallel()

	repo := &fakeTimelineRepo{}
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "b-1", Stage: progress.StageBatchDone, TS: time.Now()},
	}))
	require.Empty(t, repo.appends)
	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), nil))
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeTimelineRepo{fail: true}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobStart, TS: time.Now()},
	})
	require.Error(t, err)
}

type fakeTimelineRepo struct {
	fail    bool
	appends [][]store.TimelineEvent
}

func (f *fakeTimelineRepo) AppendEvents(_ context.Context, events []store.TimelineEvent) error {
	if f.fail {
		return errors.New("append failed")
	}
	f.appends = append(f.appends, events)
	return nil
}

func (f *fakeTimelineRepo) ListEvents(context.Context, string) ([]store.TimelineEvent, error) {
	return nil, errors.New("not implemented")
}
