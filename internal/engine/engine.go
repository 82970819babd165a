// Package engine implements the Chat Engine: the message pipeline that
// turns one user message into a persisted, possibly tool-augmented,
// assistant turn. It loads session history, packs a context window,
// composes the system prompt, runs a bounded agentic loop against the
// LLM Gateway (dispatching any requested tool calls through the Tool
// Registry), and persists the final assistant turn.
package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/internal/gateway"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
	"github.com/conclave-run/conclave/pkg/models"
)

// MaxToolIterations bounds the tool loop.
const MaxToolIterations = 10

// Flags controls one send_message call.
type Flags struct {
	ModelAlias   string
	SystemPrompt string
	EnableTools  bool
	Temperature  float64
}

// ChatResponse summarizes the final turn of a send_message call.
type ChatResponse struct {
	SessionID    string
	Content      string
	Thinking     string
	ToolCalls    []models.ToolCall
	ToolResults  []models.ToolResult
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	FinishReason gateway.FinishReason
}

// Tracer is the Engine's optional span seam, shaped to match
// observability.Tracer's methods exactly so this package doesn't need to
// import internal/observability.
type Tracer interface {
	TraceSendMessage(ctx context.Context, sessionID string) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// Engine wires the Session Store, LLM Gateway, and Tool Registry/Executor
// into the send_message pipeline.
type Engine struct {
	sessions sessions.Store
	gateway  *gateway.Gateway
	registry *tools.Registry
	executor *tools.Executor
	tracer   Tracer
}

// New constructs an Engine.
func New(store sessions.Store, gw *gateway.Gateway, registry *tools.Registry, executor *tools.Executor) *Engine {
	return &Engine{sessions: store, gateway: gw, registry: registry, executor: executor}
}

// SetTracer attaches a Tracer. Passing nil disables span emission.
func (e *Engine) SetTracer(t Tracer) { e.tracer = t }

// SendMessage runs the full message pipeline and returns the final turn's
// summary: persist the user message, build context, loop against the
// gateway and any requested tools, and persist the final assistant turn.
func (e *Engine) SendMessage(ctx context.Context, sessionID, content string, flags Flags) (resp *ChatResponse, err error) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.TraceSendMessage(ctx, sessionID)
		defer func() {
			if err != nil {
				e.tracer.RecordError(span, err)
			}
			span.End()
		}()
	}

	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, errs.NewSessionFault("engine.SendMessage", "session has ended", nil)
	}

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   content,
	}
	if err := e.sessions.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	history, err := e.sessions.History(ctx, sessionID, "", session.EffectiveContextWindow())
	if err != nil {
		return nil, err
	}

	system := flags.SystemPrompt
	if system == "" {
		system = session.SystemPromptOverride
	}

	req := &gateway.CompletionRequest{
		ModelAlias:  resolveModel(flags.ModelAlias, session),
		System:      system,
		Messages:    toCompletionMessages(history),
		Temperature: flags.Temperature,
	}
	if flags.EnableTools && e.registry != nil {
		req.Tools = toGatewayToolSchema(e.registry.Schema())
	}

	var (
		finalContent  string
		finalThinking string
		allToolCalls  []models.ToolCall
		allResults    []models.ToolResult
		totalInput    int
		totalOutput   int
		totalCost     float64
		finish        = gateway.FinishStop
	)

	deltaMessages := 1 // the user message persisted above

	for iter := 0; iter < MaxToolIterations; iter++ {
		resp, err := e.gateway.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		totalInput += resp.InputTokens
		totalOutput += resp.OutputTokens
		totalCost += resp.CostUSD
		finish = resp.FinishReason

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			finalThinking = resp.Thinking
			break
		}

		toolCalls := fromGatewayToolCalls(resp.ToolCalls)
		allToolCalls = append(allToolCalls, toolCalls...)

		assistantMsg := &models.Message{
			ID:           uuid.NewString(),
			SessionID:    sessionID,
			Role:         models.RoleAssistant,
			Content:      resp.Content,
			Thinking:     resp.Thinking,
			ToolCalls:    toolCalls,
			Model:        req.ModelAlias,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CostUSD:      resp.CostUSD,
		}
		if err := e.sessions.AppendMessage(ctx, assistantMsg); err != nil {
			return nil, err
		}
		deltaMessages++
		req.Messages = append(req.Messages, toCompletionMessage(assistantMsg))

		for _, tc := range toolCalls {
			result := e.executor.Execute(ctx, tc.ID, tc.Name, string(tc.Input))
			modelResult := models.ToolResult{
				ToolCallID: result.ToolCallID,
				Name:       result.Name,
				Content:    result.Content,
				Success:    result.Success,
				DurationMS: result.DurationMS,
			}
			allResults = append(allResults, modelResult)

			toolMsg := &models.Message{
				ID:         uuid.NewString(),
				SessionID:  sessionID,
				Role:       models.RoleTool,
				Content:    modelResult.Content,
				ToolResult: &modelResult,
			}
			if err := e.sessions.AppendMessage(ctx, toolMsg); err != nil {
				return nil, err
			}
			deltaMessages++
			req.Messages = append(req.Messages, toCompletionMessage(toolMsg))
		}
	}

	finalMsg := &models.Message{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Role:         models.RoleAssistant,
		Content:      finalContent,
		Thinking:     finalThinking,
		Model:        req.ModelAlias,
		InputTokens:  totalInput,
		OutputTokens: totalOutput,
		CostUSD:      totalCost,
	}
	if err := e.sessions.AppendMessage(ctx, finalMsg); err != nil {
		return nil, err
	}
	deltaMessages++

	if err := e.sessions.IncrementCounters(ctx, sessionID, deltaMessages, totalInput, totalOutput, totalCost); err != nil {
		return nil, err
	}

	if session.Title == "" {
		session.Title = sessions.DeriveTitle(content)
		if err := e.sessions.Update(ctx, session); err != nil {
			return nil, err
		}
	}

	return &ChatResponse{
		SessionID:    sessionID,
		Content:      finalContent,
		Thinking:     finalThinking,
		ToolCalls:    allToolCalls,
		ToolResults:  allResults,
		InputTokens:  totalInput,
		OutputTokens: totalOutput,
		CostUSD:      totalCost,
		FinishReason: finish,
	}, nil
}

func resolveModel(override string, session *models.Session) string {
	if override != "" {
		return override
	}
	return session.ModelOverride
}

func toCompletionMessages(history []*models.Message) []gateway.CompletionMessage {
	out := make([]gateway.CompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, toCompletionMessage(m))
	}
	return out
}

func toCompletionMessage(m *models.Message) gateway.CompletionMessage {
	cm := gateway.CompletionMessage{
		Role:    string(m.Role),
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		cm.ToolCalls = append(cm.ToolCalls, gateway.ToolCall{
			ID:            tc.ID,
			Name:          tc.Name,
			ArgumentsJSON: string(tc.Input),
		})
	}
	if m.ToolResult != nil {
		cm.ToolResults = append(cm.ToolResults, gateway.ToolResult{
			ToolCallID: m.ToolResult.ToolCallID,
			Content:    m.ToolResult.Content,
			IsError:    !m.ToolResult.Success,
		})
	}
	return cm
}

func fromGatewayToolCalls(calls []gateway.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		input := json.RawMessage(c.ArgumentsJSON)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		out = append(out, models.ToolCall{ID: c.ID, Name: c.Name, Input: input})
	}
	return out
}

func toGatewayToolSchema(defs []tools.FunctionSchema) []gateway.ToolSchema {
	out := make([]gateway.ToolSchema, 0, len(defs))
	for _, d := range defs {
		out = append(out, gateway.ToolSchema{
			Name:        d.Function.Name,
			Description: d.Function.Description,
			Parameters:  []byte(d.Function.Parameters),
		})
	}
	return out
}
