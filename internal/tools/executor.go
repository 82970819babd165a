package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout is the per-execution timeout applied when a call doesn't
// override it.
const DefaultTimeout = 300 * time.Second

// ExecutorConfig configures the Executor's worker pool and default timeout.
type ExecutorConfig struct {
	// Timeout bounds a single tool call unless the caller supplies one via
	// ExecuteWithTimeout.
	Timeout time.Duration
	// Workers caps concurrent synchronous-handler execution. Handlers run
	// on this bounded pool so a blocking handler can't stall the request
	// driver; cooperative/fast handlers still pay the channel hop but that
	// cost is negligible next to typical tool latency.
	Workers int
}

// MetricsRecorder is the Executor's optional instrumentation seam, shaped
// to match observability.Metrics's RecordToolExecution exactly so the
// composition root can pass one in without this package importing
// internal/observability.
type MetricsRecorder interface {
	RecordToolExecution(toolName, status string, durationSeconds float64)
}

// Tracer is the Executor's optional span seam, shaped to match
// observability.Tracer's methods exactly so this package doesn't need to
// import internal/observability.
type Tracer interface {
	TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// Executor dispatches tool calls against a Registry, enforcing a
// per-execution timeout and running handlers on a bounded worker pool.
// It exposes a single dispatch entry point; callers (the Chat Engine and
// Stream Manager) fan the calls of one assistant turn out themselves.
type Executor struct {
	registry  *Registry
	timeout   time.Duration
	sem       chan struct{}
	validator *schemaValidator
	metrics   MetricsRecorder
	tracer    Tracer
}

// SetMetrics attaches a MetricsRecorder. Passing nil disables instrumentation.
func (e *Executor) SetMetrics(m MetricsRecorder) { e.metrics = m }

// SetTracer attaches a Tracer. Passing nil disables span emission.
func (e *Executor) SetTracer(t Tracer) { e.tracer = t }

func (e *Executor) recordExecution(name, status string, dur time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordToolExecution(name, status, dur.Seconds())
	}
}

// NewExecutor constructs an Executor. Zero-value config fields take the
// package defaults (300s timeout, 4 workers).
func NewExecutor(registry *Registry, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Executor{
		registry:  registry,
		timeout:   cfg.Timeout,
		sem:       make(chan struct{}, cfg.Workers),
		validator: newSchemaValidator(),
	}
}

// Execute dispatches one tool call by qualified name. arguments is either a
// JSON string (the common case, as emitted by a model) or an already
// decoded value.
func (e *Executor) Execute(ctx context.Context, callID, name string, arguments any) Result {
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.TraceToolExecution(ctx, name)
		defer span.End()
	}

	callStart := time.Now()
	res := e.execute(ctx, callID, name, arguments)
	status := "error"
	if res.Success {
		status = "success"
	} else if e.tracer != nil {
		e.tracer.RecordError(span, fmt.Errorf("%s", res.Content))
	}
	e.recordExecution(name, status, time.Since(callStart))
	return res
}

func (e *Executor) execute(ctx context.Context, callID, name string, arguments any) Result {
	start := time.Now()

	def, ok := e.registry.Get(name)
	if !ok {
		return Result{
			ToolCallID: callID,
			Name:       name,
			Content:    fmtUnknown(name),
			Success:    false,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	if !def.Executable() {
		return Result{
			ToolCallID: callID,
			Name:       name,
			Content:    fmt.Sprintf(`{"error": "tool %s has no bound handler"}`, name),
			Success:    false,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	decoded := decodeArguments(arguments)

	if err := e.validator.validate(def, decoded); err != nil {
		return Result{
			ToolCallID: callID,
			Name:       name,
			Content:    fmt.Sprintf(`{"error": "invalid arguments: %s"}`, err.Error()),
			Success:    false,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	select {
	case e.sem <- struct{}{}:
	case <-callCtx.Done():
		return timeoutResult(callID, name, e.timeout, start)
	}

	go func() {
		defer func() { <-e.sem }()
		v, err := def.Handler(Context{CallID: callID, SessionID: "", AgentID: ""}, decoded)
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-callCtx.Done():
		return timeoutResult(callID, name, e.timeout, start)
	case o := <-done:
		if o.err != nil {
			return Result{
				ToolCallID: callID,
				Name:       name,
				Content:    fmt.Sprintf(`{"error": %q}`, o.err.Error()),
				Success:    false,
				DurationMS: time.Since(start).Milliseconds(),
			}
		}
		return Result{
			ToolCallID: callID,
			Name:       name,
			Content:    normalizeResult(o.value),
			Success:    true,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}
}

// ExecuteWithContext is like Execute but threads session/agent identity
// into the handler's Context, for handlers that need it (e.g. a skill that
// reads the calling session's transcript).
func (e *Executor) ExecuteWithContext(ctx context.Context, toolCtx Context, name string, arguments any) Result {
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.TraceToolExecution(ctx, name)
		defer span.End()
	}

	callStart := time.Now()
	res := e.executeWithContext(ctx, toolCtx, name, arguments)
	status := "error"
	if res.Success {
		status = "success"
	} else if e.tracer != nil {
		e.tracer.RecordError(span, fmt.Errorf("%s", res.Content))
	}
	e.recordExecution(name, status, time.Since(callStart))
	return res
}

func (e *Executor) executeWithContext(ctx context.Context, toolCtx Context, name string, arguments any) Result {
	def, ok := e.registry.Get(name)
	if !ok || !def.Executable() {
		return e.execute(ctx, toolCtx.CallID, name, arguments)
	}

	start := time.Now()
	decoded := decodeArguments(arguments)

	if err := e.validator.validate(def, decoded); err != nil {
		return Result{
			ToolCallID: toolCtx.CallID,
			Name:       name,
			Content:    fmt.Sprintf(`{"error": "invalid arguments: %s"}`, err.Error()),
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	select {
	case e.sem <- struct{}{}:
	case <-callCtx.Done():
		return timeoutResult(toolCtx.CallID, name, e.timeout, start)
	}

	go func() {
		defer func() { <-e.sem }()
		v, err := def.Handler(toolCtx, decoded)
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-callCtx.Done():
		return timeoutResult(toolCtx.CallID, name, e.timeout, start)
	case o := <-done:
		if o.err != nil {
			return Result{ToolCallID: toolCtx.CallID, Name: name, Content: fmt.Sprintf(`{"error": %q}`, o.err.Error()), DurationMS: time.Since(start).Milliseconds()}
		}
		return Result{ToolCallID: toolCtx.CallID, Name: name, Content: normalizeResult(o.value), Success: true, DurationMS: time.Since(start).Milliseconds()}
	}
}

func timeoutResult(callID, name string, timeout time.Duration, start time.Time) Result {
	return Result{
		ToolCallID: callID,
		Name:       name,
		Content:    fmt.Sprintf(`{"error": "Tool timed out after %ds"}`, int(timeout.Seconds())),
		Success:    false,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

// decodeArguments implements the argument-normalization rule:
// arguments that fail JSON decoding are treated as a single positional arg
// under key "input".
func decodeArguments(arguments any) any {
	s, ok := arguments.(string)
	if !ok {
		return arguments
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return map[string]any{"input": s}
	}
	return decoded
}

// normalizeResult implements the result-normalization rule:
// structured containers are JSON-encoded, {success,data} shapes are
// wrapped (encoded as-is, since Go structs round-trip through
// encoding/json already), and scalars are stringified.
func normalizeResult(v any) string {
	if v == nil {
		return "{}"
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case error:
		return fmt.Sprintf(`{"error": %q}`, t.Error())
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
