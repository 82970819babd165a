// Package observability provides metrics, structured logging, and
// distributed tracing for the conclave runtime.
//
// # Metrics
//
// Metrics are implemented using the Prometheus client libraries and track:
//   - LLM request latency, token usage, and cost by model
//   - Circuit breaker state per model alias
//   - Tool execution performance
//   - Error rates by component and type
//   - Active session counts and scheduler job gauges
//   - HTTP request/response metrics
//   - Database query performance
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	// Track LLM requests
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens, cost)
//
//	// Track tool execution
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	// Add context IDs for correlation
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//
//	// Structured logging with automatic context correlation
//	logger.Info(ctx, "dispatching chat turn",
//	    "agent_id", agentID,
//	    "message_length", len(content),
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "llm request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track requests across the
// gateway, tool executor, chat engine, stream manager, and scheduler:
//   - End-to-end request visualization
//   - Performance bottleneck identification
//   - Error correlation across components
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "conclave",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	// Trace LLM requests
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4")
//	defer llmSpan.End()
//
//	// Trace tool execution
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "web_search")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Context propagation
//
// All three components integrate with Go's context for automatic correlation:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddAgentID(ctx, "main")
//
//	// IDs automatically appear in logs
//	logger.Info(ctx, "processing turn") // includes request_id, session_id, etc.
//
// # Security considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, AWS, generic)
//   - Passwords and secrets
//   - JWT and bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted: password, passwd, pwd, secret,
// api_key, apikey, token, auth, authorization, private_key, privatekey.
//
// # Monitoring
//
//	# Message throughput
//	rate(conclave_messages_total[5m])
//
//	# LLM request latency (95th percentile)
//	histogram_quantile(0.95, rate(conclave_llm_request_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(conclave_errors_total[5m])
//
//	# Active sessions
//	conclave_sessions_active
package observability
