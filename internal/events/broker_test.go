package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

func jobEvent(jobID string, stage progress.Stage) progress.Event {
	return progress.Event{JobID: jobID, Stage: stage, TS: time.Unix(1700000000, 0).UTC(), URL: "https://example.com"}
}

func receive(t *testing.T, ch <-chan progress.Event) progress.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return progress.Event{}
	}
}

func TestMemoryBrokerDeliversPerJob(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	ctx := context.Background()
	ch, release, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer release()

	require.NoError(t, b.Publish(ctx, jobEvent("job-2", progress.StageJobStart)))
	require.NoError(t, b.Publish(ctx, jobEvent("job-1", progress.StageJobDone)))

	evt := receive(t, ch)
	require.Equal(t, "job-1", evt.JobID)
	require.Equal(t, progress.StageJobDone, evt.Stage)
}

func TestMemoryBrokerReleaseClosesChannel(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	ch, release, err := b.Subscribe(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, b.Subscribers("job-1"))

	release()
	release()
	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, b.Subscribers("job-1"))
	require.NoError(t, b.Publish(context.Background(), jobEvent("job-1", progress.StageJobDone)))
}

func TestMemoryBrokerContextCancelReleases(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, release, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer release()

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers("job-1") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	require.False(t, ok)
}

func TestMemoryBrokerDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	_, release, err := b.Subscribe(context.Background(), "job-1")
	require.NoError(t, err)
	defer release()

	for range subscriberBuffer + 5 {
		require.NoError(t, b.Publish(context.Background(), jobEvent("job-1", progress.StageJobStart)))
	}
}

func newRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b, err := NewRedisBroker(client, "test", nil)
	require.NoError(t, err)
	return b, mr
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	t.Parallel()

	b, _ := newRedisBroker(t)
	ctx := context.Background()
	ch, release, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer release()

	sent := jobEvent("job-1", progress.StageJobDone)
	sent.Score = 82
	sent.Grade = "B"
	sent.Dur = 1500 * time.Millisecond
	require.NoError(t, b.Publish(ctx, sent))

	got := receive(t, ch)
	require.Equal(t, sent.JobID, got.JobID)
	require.Equal(t, sent.Stage, got.Stage)
	require.Equal(t, 82, got.Score)
	require.Equal(t, "B", got.Grade)
	require.Equal(t, sent.Dur, got.Dur)
	require.True(t, sent.TS.Equal(got.TS))
}

func TestRedisBrokerChannelNaming(t *testing.T) {
	t.Parallel()

	b, mr := newRedisBroker(t)
	require.Equal(t, "test:job:abc", b.Channel("abc"))

	ch, release, err := b.Subscribe(context.Background(), "abc")
	require.NoError(t, err)
	defer release()
	require.Equal(t, 1, mr.PubSubNumSub("test:job:abc")["test:job:abc"])

	mr.Publish("test:job:abc", `{"audit_id":"abc","stage":"JOB_START","ts":"2024-01-01T00:00:00Z"}`)
	evt := receive(t, ch)
	require.Equal(t, progress.StageJobStart, evt.Stage)
}

func TestRedisBrokerSkipsMalformedPayloads(t *testing.T) {
	t.Parallel()

	b, mr := newRedisBroker(t)
	ch, release, err := b.Subscribe(context.Background(), "abc")
	require.NoError(t, err)
	defer release()

	mr.Publish("test:job:abc", "not json")
	mr.Publish("test:job:abc", `{"audit_id":"abc","stage":"JOB_ERROR","ts":"2024-01-01T00:00:00Z","note":"boom"}`)
	evt := receive(t, ch)
	require.Equal(t, "boom", evt.Note)
}

func TestRedisBrokerReleaseClosesChannel(t *testing.T) {
	t.Parallel()

	b, _ := newRedisBroker(t)
	ch, release, err := b.Subscribe(context.Background(), "abc")
	require.NoError(t, err)
	release()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestNewRedisBrokerRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewRedisBroker(nil, "", nil)
	require.Error(t, err)
}
