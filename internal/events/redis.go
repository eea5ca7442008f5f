package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

const defaultChannelPrefix = "auditor"

// RedisBroker publishes events on Redis pub/sub so every API node can stream
// any job regardless of which node ran it.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker wraps an existing client. Channels are named
// "<prefix>:job:<id>".
func NewRedisBroker(client redis.UniversalClient, prefix string, logger *zap.Logger) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, prefix: prefix, logger: logger.Named("events")}, nil
}

// Channel returns the pub/sub channel carrying events for jobID.
func (b *RedisBroker) Channel(jobID string) string {
	return b.prefix + ":job:" + jobID
}

// Publish encodes evt as JSON onto the job's channel.
func (b *RedisBroker) Publish(ctx context.Context, evt progress.Event) error {
	if evt.JobID == "" {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(evt.JobID), payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Subscribe listens on the job's channel until released or ctx ends.
func (b *RedisBroker) Subscribe(ctx context.Context, jobID string) (<-chan progress.Event, func(), error) {
	ps := b.client.Subscribe(ctx, b.Channel(jobID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", b.Channel(jobID), err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan progress.Event, subscriberBuffer)
	go b.pump(subCtx, ps.Channel(), out, jobID)

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			if err := ps.Close(); err != nil {
				b.logger.Debug("close subscription failed", zap.String("job_id", jobID), zap.Error(err))
			}
		})
	}
	return out, release, nil
}

func (b *RedisBroker) pump(ctx context.Context, in <-chan *redis.Message, out chan<- progress.Event, jobID string) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var evt progress.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("discarding malformed event", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}
