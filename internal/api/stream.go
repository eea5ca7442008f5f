package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

// streamStatus pushes server-sent events for one audit: a "status" event for
// every observed status change and a "progress" event for every lifecycle
// event the broker delivers. The stream ends once the audit is terminal.
// The store stays authoritative; broker events only wake the stream early.
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var live <-chan progress.Event
	if s.broker != nil {
		ch, release, err := s.broker.Subscribe(ctx, id)
		if err != nil {
			s.logger.Warn("subscribe failed, falling back to polling", zap.String("job_id", id), zap.Error(err))
		} else {
			defer release()
			live = ch
		}
	}

	view, err := s.svc.GetStatus(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "status", view); err != nil {
		return
	}
	flusher.Flush()
	if view.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(s.cfg.StreamRefresh)
	defer ticker.Stop()
	last := view.Status
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-live:
			if !ok {
				live = nil
				continue
			}
			if err := writeSSE(w, "progress", evt); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
		}

		view, err := s.svc.GetStatus(ctx, id)
		if err != nil {
			_ = writeSSE(w, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			return
		}
		if view.Status == last {
			continue
		}
		last = view.Status
		if err := writeSSE(w, "status", view); err != nil {
			return
		}
		flusher.Flush()
		if view.Status.Terminal() {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	return nil
}
