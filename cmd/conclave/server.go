package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/conclave-run/conclave/internal/agentpool"
	"github.com/conclave-run/conclave/internal/cron"
	"github.com/conclave-run/conclave/internal/engine"
	"github.com/conclave-run/conclave/internal/gateway"
	"github.com/conclave-run/conclave/internal/gateway/providers"
	"github.com/conclave-run/conclave/internal/observability"
	"github.com/conclave-run/conclave/internal/prompt"
	"github.com/conclave-run/conclave/internal/ratelimit"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/storage"
	"github.com/conclave-run/conclave/internal/stream"
	"github.com/conclave-run/conclave/internal/tools"
	"github.com/conclave-run/conclave/internal/tools/builtin"
	"github.com/conclave-run/conclave/pkg/models"
)

// Server is the assembled composition root: every subsystem the runtime
// needs (LLM Gateway, Tool Registry & Executor, Chat Engine, Stream Manager,
// Agent Pool, Scheduler), plus the cross-cutting observability/rate-limit
// concerns, wired together behind one HTTP(+WS) listener.
type Server struct {
	cfg Config

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *Tracer

	sessionStore sessions.Store
	toolRegistry *tools.Registry
	toolExecutor *tools.Executor
	promptAsm    *prompt.Assembler
	gw           *gateway.Gateway
	engine       *engine.Engine
	streamMgr    *stream.Manager

	agentStore storage.Stores
	pool       *agentpool.Pool
	scheduler  *cron.Scheduler
	cronStore  cron.Store

	limiter *ratelimit.Limiter

	httpServer    *http.Server
	metricsServer *http.Server
	startTime     time.Time

	watcher *configWatcher
}

// Tracer is a thin alias so server.go doesn't need to know about otel's
// shutdown func signature at the call site.
type Tracer = observability.Tracer

// poolRunner adapts the Chat Engine's SendMessage into the Agent Pool's
// Runner contract.
type poolRunner struct {
	eng *engine.Engine
	srv *Server
}

func (r poolRunner) Run(ctx context.Context, task agentpool.TaskSpec) (string, int, error) {
	system := r.srv.resolveSystemPrompt(ctx, task.SessionID, true)
	resp, err := r.eng.SendMessage(ctx, task.SessionID, task.Prompt, engine.Flags{EnableTools: true, SystemPrompt: system})
	if err != nil {
		return "", 0, err
	}
	return resp.Content, resp.InputTokens, nil
}

// NewServer builds every component from cfg, registering Prometheus series
// against the given registerer (prometheus.DefaultRegisterer in
// production, a fresh registry in tests).
func NewServer(cfg Config, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, metrics: metrics, tracer: tracer, startTime: time.Now()}

	if err := s.buildSessionStore(); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	if err := s.buildAgentStore(); err != nil {
		return nil, fmt.Errorf("agent store: %w", err)
	}
	if err := s.buildGateway(); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	s.sessionStore = instrumentStore(s.sessionStore, s.metrics)
	s.buildTools()
	if s.metrics != nil {
		s.gw.SetMetrics(s.metrics)
		s.toolExecutor.SetMetrics(s.metrics)
	}
	if s.tracer != nil {
		s.gw.SetTracer(s.tracer)
		s.toolExecutor.SetTracer(s.tracer)
	}
	s.promptAsm = prompt.New(prompt.OSFileReader{})
	s.engine = engine.New(s.sessionStore, s.gw, s.toolRegistry, s.toolExecutor)
	s.streamMgr = stream.New(s.sessionStore, s.gw, s.toolRegistry, s.toolExecutor, cfg.PingInterval)
	if s.tracer != nil {
		s.engine.SetTracer(s.tracer)
		s.streamMgr.SetTracer(s.tracer)
	}

	s.pool = agentpool.New(poolRunner{eng: s.engine, srv: s}, agentpool.PoolConfig{
		MaxConcurrent:        cfg.MaxConcurrent,
		CoordinatorID:        cfg.CoordinatorID,
		PheromoneGain:        cfg.PheromoneGain,
		PheromoneDecayFactor: cfg.PheromoneDecayFactor,
	})
	if err := s.seedAgentPool(); err != nil {
		return nil, fmt.Errorf("seed agent pool: %w", err)
	}

	if err := s.buildScheduler(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	s.limiter = ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		Enabled:           true,
	})

	return s, nil
}

func (s *Server) buildSessionStore() error {
	if s.cfg.SessionDSN == "" || s.cfg.SessionDSN == "memory" {
		s.sessionStore = sessions.NewMemoryStore()
		return nil
	}
	db, err := sql.Open(dsnDriver(s.cfg.SessionDSN), s.cfg.SessionDSN)
	if err != nil {
		return err
	}
	store := sessions.NewSQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		return err
	}
	s.sessionStore = store
	return nil
}

func (s *Server) buildAgentStore() error {
	if s.cfg.AgentDSN == "" || s.cfg.AgentDSN == "memory" {
		s.agentStore = storage.NewMemoryStores()
		return nil
	}
	stores, err := storage.NewCockroachAgentStore(s.cfg.AgentDSN, storage.DefaultCockroachConfig())
	if err != nil {
		return err
	}
	s.agentStore = stores
	return nil
}

// dsnDriver picks the database/sql driver name by DSN shape: a bare file
// path or ":memory:" is sqlite, anything else is assumed Postgres-wire
// compatible (Postgres or CockroachDB), matching lib/pq's registered name.
func dsnDriver(dsn string) string {
	if len(dsn) > 0 && (dsn[0] == '/' || dsn[0] == '.' || dsn == ":memory:") {
		return "sqlite"
	}
	return "postgres"
}

func (s *Server) buildGateway() error {
	catalogue := gateway.NewDefaultCatalogue()
	if s.cfg.CatalogueFile != "" {
		if err := gateway.LoadCatalogueFile(catalogue, s.cfg.CatalogueFile); err != nil {
			return fmt.Errorf("load catalogue file: %w", err)
		}
	}

	providerMap := map[string]gateway.Provider{}
	fallback := gateway.FallbackChain{}

	if s.cfg.AnthropicAPIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       s.cfg.AnthropicAPIKey,
			MaxRetries:   3,
			RetryDelay:   time.Second,
			DefaultModel: s.cfg.AnthropicModel,
		})
		if err != nil {
			return fmt.Errorf("anthropic provider: %w", err)
		}
		providerMap[p.Name()] = p
	}
	if s.cfg.OpenAIAPIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       s.cfg.OpenAIAPIKey,
			BaseURL:      s.cfg.OpenAIBaseURL,
			DefaultModel: s.cfg.OpenAIModel,
		})
		if err != nil {
			return fmt.Errorf("openai provider: %w", err)
		}
		providerMap[p.Name()] = p
	}
	if s.cfg.AWSRegion != "" {
		p, err := providers.NewBedrockProvider(context.Background(), providers.BedrockConfig{
			Region:       s.cfg.AWSRegion,
			DefaultModel: s.cfg.BedrockModel,
		})
		if err != nil {
			s.logger.Warn(context.Background(), "bedrock provider unavailable", "error", err)
		} else {
			providerMap[p.Name()] = p
		}
	}
	if s.cfg.GeminiAPIKey != "" {
		p, err := providers.NewGeminiProvider(context.Background(), providers.GeminiConfig{
			APIKey:       s.cfg.GeminiAPIKey,
			DefaultModel: s.cfg.GeminiModel,
		})
		if err != nil {
			return fmt.Errorf("gemini provider: %w", err)
		}
		providerMap[p.Name()] = p
	}

	s.gw = gateway.New(catalogue, providerMap, fallback)
	return nil
}

func (s *Server) buildTools() {
	registry := tools.NewRegistry()
	for _, def := range builtin.Definitions(s.sessionStore) {
		registry.Register(def)
	}
	s.toolRegistry = registry
	s.toolExecutor = tools.NewExecutor(registry, tools.ExecutorConfig{
		Timeout: s.cfg.ToolTimeout,
		Workers: s.cfg.ToolWorkers,
	})
}

func (s *Server) seedAgentPool() error {
	ctx := context.Background()
	agents, _, err := s.agentStore.Agents.List(ctx, 1000, 0)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		coordinator := &models.Agent{
			ID:             s.cfg.CoordinatorID,
			DisplayName:    "Coordinator",
			DefaultModel:   s.cfg.AnthropicModel,
			Status:         models.AgentIdle,
			PheromoneScore: models.DefaultPheromoneScore,
		}
		if err := s.agentStore.Agents.Create(ctx, coordinator); err != nil {
			return err
		}
		agents = []*models.Agent{coordinator}
	}

	configs := make([]agentpool.AgentConfig, 0, len(agents))
	for _, a := range agents {
		configs = append(configs, agentpool.AgentConfig{
			ID:           a.ID,
			DisplayName:  a.DisplayName,
			DefaultModel: a.DefaultModel,
			Identity:     a.Identity,
		})
	}
	results := s.pool.Spawn(ctx, configs)
	for _, r := range results {
		if r.Status != "running" {
			s.logger.Warn(ctx, "agent failed to spawn", "agent_id", r.AgentID, "status", r.Status)
		}
	}
	return nil
}

func (s *Server) buildScheduler() error {
	store := cron.NewMemoryStore()
	if s.cfg.JobTableFile != "" {
		if _, err := cron.LoadYAMLJobTable(context.Background(), store, s.cfg.JobTableFile); err != nil {
			return fmt.Errorf("load job table: %w", err)
		}
	}
	s.cronStore = store
	executions := cron.NewMemoryExecutionStore()
	resolver := cron.NewSessionStoreResolver(s.sessionStore)
	dispatcher := cron.EngineDispatcher(func(ctx context.Context, sessionID, content string) error {
		system := s.resolveSystemPrompt(ctx, sessionID, true)
		_, err := s.engine.SendMessage(ctx, sessionID, content, engine.Flags{EnableTools: true, SystemPrompt: system})
		return err
	})

	opts := []cron.Option{}
	if s.tracer != nil {
		opts = append(opts, cron.WithTracer(s.tracer))
	}
	s.scheduler = cron.New(store, executions, resolver, dispatcher, opts...)
	return s.scheduler.Reload(context.Background())
}

// Start brings up the HTTP server, metrics server, scheduler, and (if
// configured) the job-table/catalogue file watcher. It blocks until ctx is
// cancelled, then shuts everything down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer s.scheduler.Stop()

	if s.cfg.JobTableFile != "" || s.cfg.CatalogueFile != "" {
		w, err := newConfigWatcher(s)
		if err != nil {
			s.logger.Warn(ctx, "config file watcher unavailable", "error", err)
		} else {
			s.watcher = w
			defer w.Close()
		}
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	defer s.stopMetricsServer(ctx)

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	go s.metricsLoop(ctx)

	<-ctx.Done()
	s.logger.Info(context.Background(), "shutting down")
	s.pool.Shutdown(context.Background(), 10*time.Second)
	s.stopHTTPServer(context.Background())
	if err := s.agentStore.Close(); err != nil {
		s.logger.Warn(context.Background(), "agent store close error", "error", err)
	}
	return nil
}
