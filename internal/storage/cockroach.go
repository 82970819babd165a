package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conclave-run/conclave/pkg/models"
)

// CockroachConfig tunes the pooled connection used by the durable
// AgentStore. CockroachDB speaks the PostgreSQL wire protocol, so the
// stock lib/pq driver opens it directly.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns conservative pool settings suitable for a
// single-node runtime instance.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// NewCockroachAgentStore opens a CockroachDB-backed AgentStore from a
// Postgres-wire DSN. Import the lib/pq driver (blank import) alongside
// this package in the composition root to register "postgres".
func NewCockroachAgentStore(dsn string, config *CockroachConfig) (Stores, error) {
	if strings.TrimSpace(dsn) == "" {
		return Stores{}, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return Stores{}, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return Stores{}, fmt.Errorf("ping database: %w", err)
	}

	return Stores{Agents: &cockroachAgentStore{db: db}, closer: db.Close}, nil
}

type cockroachAgentStore struct {
	db *sql.DB
}

func (s *cockroachAgentStore) Create(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	identity, err := json.Marshal(agent.Identity)
	if err != nil {
		return fmt.Errorf("marshal agent identity: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, display_name, default_model, identity, focus_tag, status, pheromone_score)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		agent.ID,
		agent.DisplayName,
		agent.DefaultModel,
		identity,
		agent.FocusTag,
		string(agent.Status),
		agent.PheromoneScore,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (s *cockroachAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, default_model, identity, focus_tag, status, pheromone_score
		 FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (s *cockroachAgentStore) List(ctx context.Context, limit, offset int) ([]*models.Agent, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM agents").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count agents: %w", err)
	}

	var args []any
	query := `SELECT id, display_name, default_model, identity, focus_tag, status, pheromone_score
		FROM agents ORDER BY id`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := []*models.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list agents: %w", err)
	}
	return agents, total, nil
}

func (s *cockroachAgentStore) Update(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	identity, err := json.Marshal(agent.Identity)
	if err != nil {
		return fmt.Errorf("marshal agent identity: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents
		 SET display_name = $1, default_model = $2, identity = $3, focus_tag = $4, status = $5, pheromone_score = $6
		 WHERE id = $7`,
		agent.DisplayName,
		agent.DefaultModel,
		identity,
		agent.FocusTag,
		string(agent.Status),
		agent.PheromoneScore,
		agent.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *cockroachAgentStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows, both of which expose Scan.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*models.Agent, error) {
	var agent models.Agent
	var identityBytes []byte
	var status string
	if err := row.Scan(
		&agent.ID,
		&agent.DisplayName,
		&agent.DefaultModel,
		&identityBytes,
		&agent.FocusTag,
		&status,
		&agent.PheromoneScore,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	agent.Status = models.AgentStatus(status)
	if len(identityBytes) > 0 {
		if err := json.Unmarshal(identityBytes, &agent.Identity); err != nil {
			return nil, fmt.Errorf("unmarshal agent identity: %w", err)
		}
	}
	return &agent, nil
}
