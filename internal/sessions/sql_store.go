package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/pkg/models"
)

// SQLStore backs the Session Store with a relational schema, over either
// lib/pq (Postgres/CockroachDB) or modernc.org/sqlite (embedded/test mode),
// selected by the *sql.DB the caller constructs. The same SQL runs against
// both backends via database/sql's portable subset: explicit column lists,
// no RETURNING-dependent control flow beyond what both drivers support.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the sessions/messages tables if absent. Column types are
// kept portable across Postgres and sqlite (TEXT ids, TEXT timestamps
// parsed/formatted as RFC3339 rather than relying on native TIMESTAMP
// semantics differing between dialects).
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			parent_session_id TEXT,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			title TEXT,
			model_override TEXT,
			temperature REAL,
			max_output_tokens INTEGER,
			context_window INTEGER,
			system_prompt_override TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			ended_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent_status ON sessions(agent_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			thinking TEXT,
			tool_calls TEXT,
			tool_result TEXT,
			model TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			embedding TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errs.NewTransientIO("sessions.Migrate", "schema migration failed", err)
		}
	}
	return nil
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseRFC3339(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now()
	}
	session.UpdatedAt = session.CreatedAt
	if session.Status == "" {
		session.Status = models.SessionActive
	}

	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return errs.NewSessionFault("sessions.Create", "encode metadata", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, agent_id, parent_session_id, kind, status, title, model_override, temperature, max_output_tokens,
		 context_window, system_prompt_override, message_count, total_tokens, total_cost_usd,
		 metadata, created_at, updated_at, ended_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		session.ID, session.AgentID, nullString(session.ParentSessionID), session.Kind, session.Status, session.Title,
		session.ModelOverride, session.Temperature, session.MaxOutputTokens,
		session.ContextWindow, session.SystemPromptOverride, session.MessageCount,
		session.TotalTokens, session.TotalCostUSD, string(metaJSON),
		rfc3339(session.CreatedAt), rfc3339(session.UpdatedAt), nil,
	)
	if err != nil {
		return errs.NewTransientIO("sessions.Create", "insert session", err)
	}
	return nil
}

func (s *SQLStore) scanSession(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var parentID, metaJSON sql.NullString
	var createdAt, updatedAt string
	var endedAt sql.NullString

	err := row.Scan(&sess.ID, &sess.AgentID, &parentID, &sess.Kind, &sess.Status, &sess.Title,
		&sess.ModelOverride, &sess.Temperature, &sess.MaxOutputTokens, &sess.ContextWindow,
		&sess.SystemPromptOverride, &sess.MessageCount, &sess.TotalTokens, &sess.TotalCostUSD,
		&metaJSON, &createdAt, &updatedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NewSessionFault("sessions.Get", "session not found", nil)
	}
	if err != nil {
		return nil, errs.NewTransientIO("sessions.Get", "scan session", err)
	}
	sess.ParentSessionID = parentID.String
	sess.CreatedAt = parseRFC3339(createdAt)
	sess.UpdatedAt = parseRFC3339(updatedAt)
	if endedAt.Valid && endedAt.String != "" {
		t := parseRFC3339(endedAt.String)
		sess.EndedAt = &t
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &sess.Metadata)
	}
	return &sess, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_id, parent_session_id, kind, status, title, model_override,
		temperature, max_output_tokens, context_window, system_prompt_override, message_count,
		total_tokens, total_cost_usd, metadata, created_at, updated_at, ended_at
		FROM sessions WHERE id = ?`, id)
	return s.scanSession(row)
}

func (s *SQLStore) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = now()
	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return errs.NewSessionFault("sessions.Update", "encode metadata", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET agent_id=?, kind=?, status=?, title=?,
		model_override=?, temperature=?, max_output_tokens=?, context_window=?,
		system_prompt_override=?, metadata=?, updated_at=? WHERE id=?`,
		session.AgentID, session.Kind, session.Status, session.Title, session.ModelOverride,
		session.Temperature, session.MaxOutputTokens, session.ContextWindow,
		session.SystemPromptOverride, string(metaJSON), rfc3339(session.UpdatedAt), session.ID)
	if err != nil {
		return errs.NewTransientIO("sessions.Update", "update session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NewSessionFault("sessions.Update", "unknown session "+session.ID, nil)
	}
	return nil
}

func (s *SQLStore) End(ctx context.Context, id string) error {
	t := now()
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status=?, ended_at=?, updated_at=? WHERE id=?`,
		models.SessionEnded, rfc3339(t), rfc3339(t), id)
	if err != nil {
		return errs.NewTransientIO("sessions.End", "end session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NewSessionFault("sessions.End", "unknown session "+id, nil)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.IsActive() {
		return errs.NewSessionFault("sessions.Delete", "cannot delete an active session", nil)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return errs.NewTransientIO("sessions.Delete", "cascade delete messages", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errs.NewTransientIO("sessions.Delete", "delete session", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, agent_id, parent_session_id, kind, status, title, model_override, temperature,
		max_output_tokens, context_window, system_prompt_override, message_count,
		total_tokens, total_cost_usd, metadata, created_at, updated_at, ended_at FROM sessions WHERE 1=1`
	var args []any
	if opts.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, opts.AgentID)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.NewTransientIO("sessions.List", "query sessions", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var parentID, metaJSON sql.NullString
		var createdAt, updatedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&sess.ID, &sess.AgentID, &parentID, &sess.Kind, &sess.Status, &sess.Title,
			&sess.ModelOverride, &sess.Temperature, &sess.MaxOutputTokens, &sess.ContextWindow,
			&sess.SystemPromptOverride, &sess.MessageCount, &sess.TotalTokens, &sess.TotalCostUSD,
			&metaJSON, &createdAt, &updatedAt, &endedAt); err != nil {
			return nil, errs.NewTransientIO("sessions.List", "scan session", err)
		}
		sess.ParentSessionID = parentID.String
		sess.CreatedAt = parseRFC3339(createdAt)
		sess.UpdatedAt = parseRFC3339(updatedAt)
		if endedAt.Valid && endedAt.String != "" {
			t := parseRFC3339(endedAt.String)
			sess.EndedAt = &t
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			_ = json.Unmarshal([]byte(metaJSON.String), &sess.Metadata)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetOrCreate(ctx context.Context, agentID string, defaults SessionDefaults) (*models.Session, error) {
	sessions, err := s.List(ctx, ListOptions{AgentID: agentID, Status: models.SessionActive, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		return sessions[0], nil
	}
	session := &models.Session{
		AgentID:              agentID,
		Kind:                 defaults.Kind,
		ModelOverride:        defaults.ModelOverride,
		Temperature:          defaults.Temperature,
		MaxOutputTokens:      defaults.MaxOutputTokens,
		ContextWindow:        defaults.ContextWindow,
		SystemPromptOverride: defaults.SystemPromptOverride,
	}
	if session.Kind == "" {
		session.Kind = models.SessionKindInteractive
	}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	toolCallsJSON, _ := json.Marshal(msg.ToolCalls)
	toolResultJSON, _ := json.Marshal(msg.ToolResult)
	embeddingJSON, _ := json.Marshal(msg.Embedding)

	_, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(id, session_id, role, content, thinking, tool_calls, tool_result, model,
		 input_tokens, output_tokens, cost_usd, latency_ms, embedding, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Thinking,
		string(toolCallsJSON), string(toolResultJSON), msg.Model,
		msg.InputTokens, msg.OutputTokens, msg.CostUSD, msg.LatencyMS,
		string(embeddingJSON), rfc3339(msg.CreatedAt))
	if err != nil {
		return errs.NewTransientIO("sessions.AppendMessage", "insert message", err)
	}
	return nil
}

func (s *SQLStore) scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var thinking, toolCallsJSON, toolResultJSON, model, embeddingJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &thinking,
			&toolCallsJSON, &toolResultJSON, &model, &m.InputTokens, &m.OutputTokens,
			&m.CostUSD, &m.LatencyMS, &embeddingJSON, &createdAt); err != nil {
			return nil, errs.NewTransientIO("sessions.History", "scan message", err)
		}
		m.Thinking = thinking.String
		m.Model = model.String
		m.CreatedAt = parseRFC3339(createdAt)
		if toolCallsJSON.Valid && toolCallsJSON.String != "" && toolCallsJSON.String != "null" {
			_ = json.Unmarshal([]byte(toolCallsJSON.String), &m.ToolCalls)
		}
		if toolResultJSON.Valid && toolResultJSON.String != "" && toolResultJSON.String != "null" {
			_ = json.Unmarshal([]byte(toolResultJSON.String), &m.ToolResult)
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" && embeddingJSON.String != "null" {
			_ = json.Unmarshal([]byte(embeddingJSON.String), &m.Embedding)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLStore) History(ctx context.Context, sessionID, afterID string, limit int) ([]*models.Message, error) {
	var afterCreated string
	if afterID != "" {
		row := s.db.QueryRowContext(ctx, `SELECT created_at FROM messages WHERE id = ?`, afterID)
		if err := row.Scan(&afterCreated); err != nil && err != sql.ErrNoRows {
			return nil, errs.NewTransientIO("sessions.History", "resolve cursor", err)
		}
	}

	query := `SELECT id, session_id, role, content, thinking, tool_calls, tool_result, model,
		input_tokens, output_tokens, cost_usd, latency_ms, embedding, created_at
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if afterCreated != "" {
		query += ` AND created_at > ?`
		args = append(args, afterCreated)
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.NewTransientIO("sessions.History", "query messages", err)
	}
	defer rows.Close()
	return s.scanMessages(rows)
}

func (s *SQLStore) Search(ctx context.Context, query string, limit int) ([]*models.Message, error) {
	like := "%" + strings.ReplaceAll(query, "%", "") + "%"
	sqlQuery := `SELECT id, session_id, role, content, thinking, tool_calls, tool_result, model,
		input_tokens, output_tokens, cost_usd, latency_ms, embedding, created_at
		FROM messages WHERE content LIKE ? ORDER BY created_at DESC`
	if limit > 0 {
		sqlQuery += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.db.QueryContext(ctx, sqlQuery, like)
	if err != nil {
		return nil, errs.NewTransientIO("sessions.Search", "query messages", err)
	}
	defer rows.Close()
	return s.scanMessages(rows)
}

func (s *SQLStore) IncrementCounters(ctx context.Context, sessionID string, deltaMessages, deltaInputTokens, deltaOutputTokens int, deltaCost float64) error {
	// A single UPDATE ... SET col = col + ? is atomic per-row under both
	// Postgres and sqlite's default transaction isolation, preventing lost
	// updates from concurrent writers on the same session row.
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET
		message_count = message_count + ?,
		total_tokens = total_tokens + ?,
		total_cost_usd = total_cost_usd + ?,
		updated_at = ?
		WHERE id = ?`,
		deltaMessages, deltaInputTokens+deltaOutputTokens, deltaCost, rfc3339(now()), sessionID)
	if err != nil {
		return errs.NewTransientIO("sessions.IncrementCounters", "update counters", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NewSessionFault("sessions.IncrementCounters", "unknown session "+sessionID, nil)
	}
	return nil
}
