package main

import (
	"net/http"
	"strings"
)

func (s *Server) handleAgentsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.pool.List()})
}

func (s *Server) handleAgentsItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	if id == "" {
		writeError(w, http.StatusNotFound, "agent id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getAgent(w, r, id)
	case http.MethodPatch:
		s.patchAgent(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request, id string) {
	agent, ok := s.pool.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// patchAgentRequest covers the agent's editable fields: "system_prompt"
// (persisted as the agent's persona fragment) and "model" (the default
// model alias new sessions for this agent resolve to).
type patchAgentRequest struct {
	DisplayName  *string `json:"display_name,omitempty"`
	Model        *string `json:"model,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
	FocusTag     *string `json:"focus_tag,omitempty"`
}

func (s *Server) patchAgent(w http.ResponseWriter, r *http.Request, id string) {
	var req patchAgentRequest
	if status, err := decodeJSONRequest(w, r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	agent, err := s.agentStore.Agents.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	if req.DisplayName != nil {
		agent.DisplayName = *req.DisplayName
	}
	if req.Model != nil {
		agent.DefaultModel = *req.Model
	}
	if req.SystemPrompt != nil {
		agent.Identity.Persona = *req.SystemPrompt
	}
	if req.FocusTag != nil {
		agent.FocusTag = *req.FocusTag
	}

	if err := s.agentStore.Agents.Update(r.Context(), agent); err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}
