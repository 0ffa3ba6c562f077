package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/jobs"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

// Tenant headers set by the front door.
const (
	headerOrgID    = "X-Org-ID"
	headerUserID   = "X-User-ID"
	headerAPIKeyID = "X-API-Key-ID"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFault maps pipeline error codes onto HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case fault.CodeValidation, fault.CodeActionNotSupported:
		status = http.StatusBadRequest
	case fault.CodeNotFound, fault.CodeActionNotFound:
		status = http.StatusNotFound
	case fault.CodeIllegalState, fault.CodeStateMismatch:
		status = http.StatusConflict
	case fault.CodePermissionDenied:
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]string{
		"errorCode": string(code),
		"error":     err.Error(),
	})
}

func orgID(r *http.Request) string {
	return r.Header.Get(headerOrgID)
}

func requireOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	org := orgID(r)
	if org == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"errorCode": string(fault.CodeValidation),
			"error":     "missing " + headerOrgID + " header",
		})
		return "", false
	}
	return org, true
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req jobs.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, fault.Validation("invalid request body: %v", err))
		return
	}
	req.OrgID = org
	if req.UserID == "" {
		req.UserID = r.Header.Get(headerUserID)
	}
	if req.APIKeyID == "" {
		req.APIKeyID = r.Header.Get(headerAPIKeyID)
	}

	job, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	job, err := s.svc.Get(r.Context(), org, chi.URLParam(r, "jobID"), r.Header.Get(headerUserID))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := store.JobFilter{
		MediaID: q.Get("mediaId"),
		UserID:  q.Get("userId"),
	}
	if st := q.Get("status"); st != "" {
		status := types.JobStatus(st)
		if !status.IsValid() {
			writeFault(w, fault.Validation("unknown status %q", st))
			return
		}
		filter.Status = status
	}

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	list, total, err := s.svc.List(r.Context(), org, filter, page, limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"total": total,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	result, err := s.svc.GetResult(r.Context(), org, chi.URLParam(r, "jobID"), r.Header.Get(headerUserID))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	job, err := s.svc.Cancel(r.Context(), org, chi.URLParam(r, "jobID"), r.Header.Get(headerUserID))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	alsoFiles := r.URL.Query().Get("deleteResultFile") == "true"
	err := s.svc.Delete(r.Context(), org, chi.URLParam(r, "jobID"), r.Header.Get(headerUserID), alsoFiles)
	if err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.QueueStats(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// actionView is the read-only registry representation for operators.
type actionView struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName,omitempty"`
	MediaType   string          `json:"mediaType"`
	Category    string          `json:"category"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	descs := s.registry.List()
	out := make([]actionView, 0, len(descs))
	for _, d := range descs {
		out = append(out, actionView{
			ID:          d.ID,
			DisplayName: d.DisplayName,
			MediaType:   string(d.MediaType),
			Category:    string(d.Category),
			InputSchema: d.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

// handleUsage aggregates the org's ledger since ?since (RFC3339,
// default 30 days back).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	since := time.Now().AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeFault(w, fault.Validation("since must be RFC3339: %v", err))
			return
		}
		since = parsed
	}

	sum, err := s.store.SumUsage(r.Context(), org, since)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
