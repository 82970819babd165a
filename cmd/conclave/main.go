package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/conclave-run/conclave/internal/observability"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "conclave",
		Short:        "conclave runs the multi-agent LLM runtime",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
	}
	cmd.AddCommand(buildServeCmd())
	return cmd
}

func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conclave runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

// runServe loads configuration, assembles the composition root, and blocks
// until SIGINT/SIGTERM.
func runServe(ctx context.Context) error {
	cfg := LoadConfig()
	if err := cfg.validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "conclave",
		ServiceVersion: version,
		Environment:    envOr("CONCLAVE_ENV", "development"),
		Endpoint:       os.Getenv("CONCLAVE_OTLP_ENDPOINT"),
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn(context.Background(), "tracer shutdown error", "error", err)
		}
	}()

	server, err := NewServer(cfg, logger, metrics, tracer)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info(runCtx, "conclave starting", "version", version, "http_addr", cfg.HTTPAddr)
	return server.Start(runCtx)
}
