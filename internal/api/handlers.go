package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/orchestrator"
)

type submitResponse struct {
	ID     string       `json:"id"`
	Status audit.Status `json:"status"`
}

type batchResponse struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// A dispatch failure is recorded on the job; the caller still gets its id.
	writeJSON(w, http.StatusCreated, submitResponse{ID: job.ID, Status: audit.StatusQueued})
}

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := orchestrator.ListRequest{
		ClientID: q.Get("client_id"),
		Status:   q.Get("status"),
		BatchID:  q.Get("batch_id"),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = limit
	}
	jobs, err := s.svc.ListJobs(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": jobs})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteAudit(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) exportReport(w http.ResponseWriter, r *http.Request) {
	export, err := s.svc.ExportReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "seo-audit-"+export.AuditID+".json"))
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) listFixes(w http.ResponseWriter, r *http.Request) {
	fixes, err := s.svc.ListFixes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fixes": fixes})
}

func (s *Server) timeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) updateFix(w http.ResponseWriter, r *http.Request) {
	var update audit.FixUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	fix, err := s.svc.UpdateFix(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	batch, err := s.svc.SubmitBatch(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse{ID: batch.ID, Total: batch.TotalURLs})
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.svc.ListBatches(r.Context(), r.URL.Query().Get("client_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
