package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-run/conclave/internal/engine"
	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/pkg/models"
)

type createSessionRequest struct {
	AgentID              string  `json:"agent_id"`
	Kind                 string  `json:"kind,omitempty"`
	Title                string  `json:"title,omitempty"`
	ModelOverride        string  `json:"model_override,omitempty"`
	Temperature          float64 `json:"temperature,omitempty"`
	MaxOutputTokens      int     `json:"max_output_tokens,omitempty"`
	ContextWindow        int     `json:"context_window,omitempty"`
	SystemPromptOverride string  `json:"system_prompt_override,omitempty"`
}

func (s *Server) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		s.listSessions(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if status, err := decodeJSONRequest(w, r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	kind := models.SessionKindInteractive
	if req.Kind != "" {
		kind = models.SessionKind(req.Kind)
	}

	session := &models.Session{
		ID:                   uuid.NewString(),
		AgentID:              req.AgentID,
		Kind:                 kind,
		Status:               models.SessionActive,
		Title:                req.Title,
		ModelOverride:        req.ModelOverride,
		Temperature:          req.Temperature,
		MaxOutputTokens:      req.MaxOutputTokens,
		ContextWindow:        req.ContextWindow,
		SystemPromptOverride: req.SystemPromptOverride,
	}
	if session.ContextWindow == 0 {
		session.ContextWindow = models.DefaultContextWindow
	}

	if err := s.sessionStore.Create(r.Context(), session); err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := sessions.ListOptions{
		AgentID: q.Get("agent_id"),
		Limit:   queryInt(q, "page_size", 50),
		Offset:  (queryInt(q, "page", 1) - 1) * queryInt(q, "page_size", 50),
	}
	if status := q.Get("status"); status != "" {
		opts.Status = models.SessionStatus(status)
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	list, err := s.sessionStore.List(r.Context(), opts)
	if err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func queryInt(q map[string][]string, key string, def int) int {
	vals, ok := q[key]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return def
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// handleSessionsItem dispatches /v1/sessions/{id}[/messages|/export].
func (s *Server) handleSessionsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "session id required")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "messages":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.sendMessage(w, r, id)
			return
		case "export":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.exportSession(w, r, id)
			return
		default:
			writeError(w, http.StatusNotFound, "not found")
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		s.getSession(w, r, id)
	case http.MethodDelete:
		s.endSession(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, id string) {
	session, err := s.sessionStore.Get(r.Context(), id)
	if err != nil {
		writeErrForKind(w, err)
		return
	}
	history, err := s.sessionStore.History(r.Context(), id, "", 0)
	if err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "messages": history})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.sessionStore.End(r.Context(), id); err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type sendMessageRequest struct {
	Content      string  `json:"content"`
	ModelAlias   string  `json:"model_alias,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	EnableTools  bool    `json:"enable_tools,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req sendMessageRequest
	if status, err := decodeJSONRequest(w, r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.resolveSystemPrompt(r.Context(), sessionID, req.EnableTools)
	}

	resp, err := s.engine.SendMessage(r.Context(), sessionID, req.Content, engine.Flags{
		ModelAlias:   req.ModelAlias,
		SystemPrompt: systemPrompt,
		EnableTools:  req.EnableTools,
		Temperature:  req.Temperature,
	})
	if err != nil {
		writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessionStore.Get(r.Context(), sessionID)
	if err != nil {
		writeErrForKind(w, err)
		return
	}
	history, err := s.sessionStore.History(r.Context(), sessionID, "", 0)
	if err != nil {
		writeErrForKind(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "jsonl":
		exportJSONL(w, session, history)
	case "markdown":
		exportMarkdown(w, session, history)
	default:
		writeError(w, http.StatusBadRequest, "format must be jsonl or markdown")
	}
}

// exportLine is the per-message shape of the JSONL transcript.
type exportLine struct {
	Role         string     `json:"role"`
	Content      string     `json:"content"`
	Thinking     string     `json:"thinking,omitempty"`
	ToolCalls    []any      `json:"tool_calls,omitempty"`
	ToolCallID   string     `json:"tool_call_id,omitempty"`
	Model        string     `json:"model,omitempty"`
	TokensInput  int        `json:"tokens_input,omitempty"`
	TokensOutput int        `json:"tokens_output,omitempty"`
	Cost         float64    `json:"cost,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func exportJSONL(w http.ResponseWriter, session *models.Session, history []*models.Message) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.jsonl"`, session.ID))

	header := map[string]any{
		"session_id": session.ID,
		"agent_id":   session.AgentID,
		"title":      session.Title,
		"created_at": session.CreatedAt,
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(header)
	for _, m := range history {
		line := exportLine{
			Role:         string(m.Role),
			Content:      m.Content,
			Thinking:     m.Thinking,
			ToolCallID:   m.ToolCallID(),
			Model:        m.Model,
			TokensInput:  m.InputTokens,
			TokensOutput: m.OutputTokens,
			Cost:         m.CostUSD,
			CreatedAt:    m.CreatedAt,
		}
		for _, tc := range m.ToolCalls {
			line.ToolCalls = append(line.ToolCalls, tc)
		}
		_ = enc.Encode(line)
	}
}

func exportMarkdown(w http.ResponseWriter, session *models.Session, history []*models.Message) {
	w.Header().Set("Content-Type", "text/markdown")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.md"`, session.ID))

	title := session.Title
	if title == "" {
		title = session.ID
	}
	fmt.Fprintf(w, "# %s\n\n", title)
	fmt.Fprintf(w, "- agent: %s\n- kind: %s\n- created: %s\n- messages: %d\n\n",
		session.AgentID, session.Kind, session.CreatedAt.Format(time.RFC3339), session.MessageCount)

	codeBearing := map[models.Role]bool{models.RoleAssistant: true, models.RoleTool: true}
	for _, m := range history {
		fmt.Fprintf(w, "## %s\n\n", m.Role)
		if codeBearing[m.Role] {
			fmt.Fprintf(w, "```\n%s\n```\n\n", m.Content)
		} else {
			fmt.Fprintf(w, "%s\n\n", m.Content)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/sessions/")
	if sessionID == "" {
		writeError(w, http.StatusNotFound, "session id required")
		return
	}
	s.streamMgr.ServeHTTP(w, r, sessionID)
}

// writeErrForKind maps the runtime's typed errors to HTTP status codes.
func writeErrForKind(w http.ResponseWriter, err error) {
	switch {
	case errs.IsKind(err, errs.KindSessionFault):
		writeError(w, http.StatusConflict, err.Error())
	case errs.IsKind(err, errs.KindToolFailure):
		writeError(w, http.StatusBadGateway, err.Error())
	case errs.IsKind(err, errs.KindLLMFailure):
		writeError(w, http.StatusBadGateway, err.Error())
	case errs.IsKind(err, errs.KindTransientIO):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
