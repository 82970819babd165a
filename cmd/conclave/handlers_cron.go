package main

import (
	"net/http"
	"strings"
)

func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs, err := s.cronStore.List(r.Context())
		if err != nil {
			writeErrForKind(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobsItem dispatches /v1/jobs/{id}[/enable|/disable|/reload|/history].
func (s *Server) handleJobsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]

	if id == "reload" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.scheduler.Reload(r.Context()); err != nil {
			writeErrForKind(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
		return
	}
	if id == "" {
		writeError(w, http.StatusNotFound, "job id required")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "enable":
			s.setJobEnabled(w, r, id, true)
		case "disable":
			s.setJobEnabled(w, r, id, false)
		case "history":
			s.jobHistory(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getJob(w, r, id)
	case http.MethodPatch:
		s.patchJob(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.cronStore.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type patchJobRequest struct {
	Schedule    *string `json:"schedule,omitempty"`
	AgentID     *string `json:"agent_id,omitempty"`
	PayloadText *string `json:"payload_text,omitempty"`
	RetryBudget *int    `json:"retry_budget,omitempty"`
}

func (s *Server) patchJob(w http.ResponseWriter, r *http.Request, id string) {
	var req patchJobRequest
	if status, err := decodeJSONRequest(w, r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	job, err := s.cronStore.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if req.Schedule != nil {
		job.Schedule = *req.Schedule
	}
	if req.AgentID != nil {
		job.AgentID = *req.AgentID
	}
	if req.PayloadText != nil {
		job.PayloadText = *req.PayloadText
	}
	if req.RetryBudget != nil {
		job.RetryBudget = *req.RetryBudget
	}

	if err := s.cronStore.Upsert(r.Context(), job); err != nil {
		writeErrForKind(w, err)
		return
	}
	if err := s.scheduler.Reload(r.Context()); err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) setJobEnabled(w http.ResponseWriter, r *http.Request, id string, enabled bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.cronStore.SetEnabled(r.Context(), id, enabled); err != nil {
		writeErrForKind(w, err)
		return
	}
	if err := s.scheduler.Reload(r.Context()); err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) jobHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := queryInt(r.URL.Query(), "page_size", 50)
	page := queryInt(r.URL.Query(), "page", 1)

	history, err := s.scheduler.Executions(r.Context(), id, limit, (page-1)*limit)
	if err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": history})
}
