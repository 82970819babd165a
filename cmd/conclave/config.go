// Package main is the conclave composition root: it wires the LLM
// Gateway, Tool Registry & Executor, Chat Engine, Stream Manager, Agent
// Pool, and Scheduler into one runnable HTTP(+WS) server, and exposes a
// cobra CLI around it.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/conclave-run/conclave/internal/agentpool"
)

// Config holds everything the serve command needs to build the
// composition root. Every field is sourced from an environment variable
// or CLI flag; there is no YAML application-config layer, since general
// app configuration is out of scope.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	SessionDSN string // "memory" or a postgres/cockroach DSN
	AgentDSN   string // "memory" or a postgres/cockroach DSN

	CatalogueFile string
	JobTableFile  string

	IdentityFile string
	SoulFile     string

	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	AWSRegion       string
	BedrockModel    string
	GeminiAPIKey    string
	GeminiModel     string

	ToolTimeout   time.Duration
	ToolWorkers   int
	PingInterval  time.Duration
	MaxConcurrent int
	CoordinatorID string

	PheromoneGain        float64
	PheromoneDecayFactor float64

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel  string
	LogFormat string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// LoadConfig reads the composition root's configuration from the
// environment, applying sane defaults (MAX_CONCURRENT = 5, tool executor
// timeout = 300s).
func LoadConfig() Config {
	return Config{
		HTTPAddr:    envOr("CONCLAVE_HTTP_ADDR", ":8080"),
		MetricsAddr: envOr("CONCLAVE_METRICS_ADDR", ":9090"),

		SessionDSN: envOr("CONCLAVE_SESSION_DSN", "memory"),
		AgentDSN:   envOr("CONCLAVE_AGENT_DSN", "memory"),

		CatalogueFile: envOr("CONCLAVE_CATALOGUE_FILE", ""),
		JobTableFile:  envOr("CONCLAVE_JOB_TABLE_FILE", ""),

		IdentityFile: envOr("CONCLAVE_IDENTITY_FILE", ""),
		SoulFile:     envOr("CONCLAVE_SOUL_FILE", ""),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_DEFAULT_MODEL", "claude-sonnet-4-5"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:     envOr("OPENAI_DEFAULT_MODEL", "gpt-4o"),
		AWSRegion:       envOr("AWS_REGION", "us-east-1"),
		BedrockModel:    envOr("BEDROCK_DEFAULT_MODEL", "anthropic.claude-3-5-sonnet-20241022-v2:0"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     envOr("GEMINI_DEFAULT_MODEL", "gemini-1.5-pro"),

		ToolTimeout:   envDurationOr("CONCLAVE_TOOL_TIMEOUT", 300*time.Second),
		ToolWorkers:   envIntOr("CONCLAVE_TOOL_WORKERS", 8),
		PingInterval:  envDurationOr("CONCLAVE_WS_PING_INTERVAL", 30*time.Second),
		MaxConcurrent: envIntOr("CONCLAVE_MAX_CONCURRENT_AGENTS", 5),
		CoordinatorID: envOr("CONCLAVE_COORDINATOR_AGENT_ID", "coordinator"),

		PheromoneGain:        envFloatOr("CONCLAVE_PHEROMONE_GAIN", agentpool.DefaultPheromoneGain),
		PheromoneDecayFactor: envFloatOr("CONCLAVE_PHEROMONE_DECAY", agentpool.DefaultPheromoneDecayFactor),

		RateLimitRPS:   envFloatOr("CONCLAVE_RATE_LIMIT_RPS", 20),
		RateLimitBurst: envIntOr("CONCLAVE_RATE_LIMIT_BURST", 40),

		LogLevel:  envOr("CONCLAVE_LOG_LEVEL", "info"),
		LogFormat: envOr("CONCLAVE_LOG_FORMAT", "json"),
	}
}

func (c Config) validate() error {
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" && c.GeminiAPIKey == "" && c.AWSRegion == "" {
		return fmt.Errorf("no LLM provider configured: set ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, or AWS credentials for Bedrock")
	}
	return nil
}
