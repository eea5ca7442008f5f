package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
)

// CreateBatch stores a new batch with zeroed counters.
func (s *Store) CreateBatch(_ context.Context, batch audit.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	batch.CompletedURLs = 0
	batch.FailedURLs = 0
	s.batches[batch.ID] = batch
	return nil
}

// MarkBatchRunning moves a queued batch to running.
func (s *Store) MarkBatchRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, audit.ErrNotFound)
	}
	if batch.Status == audit.StatusQueued {
		batch.Status = audit.StatusRunning
		s.batches[id] = batch
	}
	return nil
}

// GetBatch fetches a batch by ID.
func (s *Store) GetBatch(_ context.Context, id string) (audit.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return audit.Batch{}, fmt.Errorf("batch %s: %w", id, audit.ErrNotFound)
	}
	return batch, nil
}

// ListBatches returns batches newest first, optionally for one client.
func (s *Store) ListBatches(_ context.Context, clientID string) ([]audit.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		if clientID != "" && b.ClientID != clientID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RecordBatchOutcome increments one counter and re-reads the batch under the
// same lock, so exactly one caller observes the final increment.
func (s *Store) RecordBatchOutcome(_ context.Context, id string, succeeded bool, at time.Time) (audit.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return audit.Batch{}, fmt.Errorf("batch %s: %w", id, audit.ErrNotFound)
	}
	if batch.Settled() {
		return batch, nil
	}
	if succeeded {
		batch.CompletedURLs++
	} else {
		batch.FailedURLs++
	}
	if batch.Settled() {
		batch.Status = audit.StatusCompleted
		batch.CompletedAt = pointerTime(at)
	}
	s.batches[id] = batch
	return batch, nil
}

// ListFixes returns fixes ordered critical, warning, info, then by creation.
func (s *Store) ListFixes(_ context.Context, jobID string) ([]audit.Fix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Fix, 0)
	for _, id := range s.fixOrder {
		if fix := s.fixes[id]; fix.JobID == jobID {
			out = append(out, fix)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateFix applies a partial update. Moving to fixed stamps FixedAt.
func (s *Store) UpdateFix(_ context.Context, id string, update audit.FixUpdate, at time.Time) (audit.Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fix, ok := s.fixes[id]
	if !ok {
		return audit.Fix{}, fmt.Errorf("fix %s: %w", id, audit.ErrNotFound)
	}
	if update.Status != nil {
		fix.Status = *update.Status
		if fix.Status == audit.FixFixed {
			fix.FixedAt = pointerTime(at)
		}
	}
	if update.FixCode != nil {
		fix.FixCode = *update.FixCode
	}
	if update.FixExplanation != nil {
		fix.FixExplanation = *update.FixExplanation
	}
	if update.FixedBy != nil {
		fix.FixedBy = *update.FixedBy
	}
	s.fixes[id] = fix
	return fix, nil
}

// AppendEvents stores timeline events in order.
func (s *Store) AppendEvents(_ context.Context, events []store.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range events {
		s.timeline[evt.JobID] = append(s.timeline[evt.JobID], evt)
	}
	return nil
}

// ListEvents returns the timeline of one job oldest first.
func (s *Store) ListEvents(_ context.Context, jobID string) ([]store.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.timeline[jobID]
	out := make([]store.TimelineEvent, len(events))
	copy(out, events)
	return out, nil
}
