// Package stream implements the Stream Manager: a WebSocket JSON-frame
// protocol over the same Gateway/Tool Registry/Session Store the Chat
// Engine uses, trading the Chat Engine's non-streaming call for incremental
// token/thinking delivery. The connection lifecycle follows the usual
// upgrade / single-writer send channel / read-write pump / ping-pong
// deadline idiom; the tool-loop and persistence shape mirrors
// internal/engine so the two stay in lockstep on iteration cap and
// persisted message sequence.
package stream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/conclave-run/conclave/internal/gateway"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
	"github.com/conclave-run/conclave/pkg/models"
)

// Tracer is the Stream Manager's optional span seam, shaped to match
// observability.Tracer's methods exactly so this package doesn't need to
// import internal/observability.
type Tracer interface {
	TraceSendMessage(ctx context.Context, sessionID string) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// MaxToolIterations matches the Chat Engine's bound.
const MaxToolIterations = 10

// DefaultPingInterval is the keepalive beacon period. pongWait is sized generously above it so one missed beacon
// doesn't drop the connection.
const (
	DefaultPingInterval = 30 * time.Second
	pongWaitMultiplier  = 3
)

// CloseNotInitialized and CloseServerError are the WS close codes for the
// Chat WebSocket's failure modes.
const (
	CloseNotInitialized = 1013
	CloseServerError    = 1011
)

// Manager upgrades HTTP requests to the Chat WebSocket and drives streaming
// turns against a session.
type Manager struct {
	sessions     sessions.Store
	gateway      *gateway.Gateway
	registry     *tools.Registry
	executor     *tools.Executor
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	tracer       Tracer
}

// SetTracer attaches a Tracer. Passing nil disables span emission.
func (m *Manager) SetTracer(t Tracer) { m.tracer = t }

// New constructs a Manager. pingInterval<=0 uses DefaultPingInterval.
func New(store sessions.Store, gw *gateway.Gateway, registry *tools.Registry, executor *tools.Executor, pingInterval time.Duration) *Manager {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Manager{
		sessions:     store,
		gateway:      gw,
		registry:     registry,
		executor:     executor,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and serves the Chat WebSocket for
// sessionID until the client disconnects.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := m.sessions.Get(r.Context(), sessionID)
	if err != nil || !session.IsActive() {
		conn, upErr := m.upgrader.Upgrade(w, r, nil)
		if upErr == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseNotInitialized, "session not found or ended"),
				time.Now().Add(writeWait))
			_ = conn.Close()
		}
		return
	}

	wsConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.serve(r.Context(), wsConn, session)
}

func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, session *models.Session) {
	connID := fmt.Sprintf("%s:%s", session.ID, randomHex(4))
	c := newConnection(ctx, conn, connID, session.ID)
	defer c.close()

	go c.writeLoop()
	go c.keepalive(m.pingInterval)

	c.readLoop(m.pingInterval*pongWaitMultiplier, func(frame ClientFrame) {
		if frame.Type != clientFrameMessage {
			return
		}
		m.runTurn(c, session, frame)
	})
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// turnAccumulator tracks a streaming turn's output so it can be persisted
// even if the client disconnects before a done frame is sent.
type turnAccumulator struct {
	content      string
	thinking     string
	toolCalls    []models.ToolCall
	toolResults  []models.ToolResult
	inputTokens  int
	outputTokens int
	costUSD      float64
}

// runTurn drives one send_message turn over the WebSocket: persist the
// user message, then alternate streaming completions and tool execution
// until a turn with no tool calls is reached or the iteration cap trips.
func (m *Manager) runTurn(c *Connection, session *models.Session, frame ClientFrame) {
	ctx := c.ctx

	var span trace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.TraceSendMessage(ctx, session.ID)
		defer span.End()
	}
	recordErr := func(err error) {
		if m.tracer != nil {
			m.tracer.RecordError(span, err)
		}
	}

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   frame.Content,
	}
	if err := m.sessions.AppendMessage(ctx, userMsg); err != nil {
		recordErr(err)
		c.sendFrame(errorFrame{Type: frameError, Message: err.Error()})
		return
	}

	history, err := m.sessions.History(ctx, session.ID, "", session.EffectiveContextWindow())
	if err != nil {
		recordErr(err)
		c.sendFrame(errorFrame{Type: frameError, Message: err.Error()})
		return
	}

	req := &gateway.CompletionRequest{
		ModelAlias:     session.ModelOverride,
		System:         session.SystemPromptOverride,
		Messages:       toCompletionMessages(history),
		EnableThinking: frame.EnableThinking,
	}
	if frame.EnableTools && m.registry != nil {
		req.Tools = toGatewayToolSchema(m.registry.Schema())
	}

	acc := &turnAccumulator{}
	finish := gateway.FinishStop
	deltaMessages := 1

	for iter := 0; iter < MaxToolIterations; iter++ {
		chunks, err := m.gateway.Stream(ctx, req)
		if err != nil {
			recordErr(err)
			m.persistPartial(ctx, session.ID, acc)
			c.sendFrame(errorFrame{Type: frameError, Message: err.Error()})
			return
		}

		var streamedContent, streamedThinking string
		var chunkFinish gateway.FinishReason
		var in, out int
		aborted := false

	drain:
		for {
			select {
			case <-ctx.Done():
				aborted = true
				break drain
			case chunk, ok := <-chunks:
				if !ok {
					break drain
				}
				if chunk.Err != nil {
					recordErr(chunk.Err)
					c.sendFrame(errorFrame{Type: frameError, Message: chunk.Err.Error()})
					acc.content += streamedContent
					acc.thinking += streamedThinking
					m.persistPartial(ctx, session.ID, acc)
					return
				}
				if chunk.ThinkingDelta != "" {
					streamedThinking += chunk.ThinkingDelta
					c.sendFrame(thinkingFrame{Type: frameThinking, Content: chunk.ThinkingDelta})
				}
				if chunk.ContentDelta != "" {
					streamedContent += chunk.ContentDelta
					c.sendFrame(tokenFrame{Type: frameToken, Content: chunk.ContentDelta})
				}
				if chunk.FinishReason != "" {
					chunkFinish = chunk.FinishReason
					in, out = chunk.InputTokens, chunk.OutputTokens
				}
			}
		}

		if aborted {
			acc.content += streamedContent
			acc.thinking += streamedThinking
			m.persistPartial(ctx, session.ID, acc)
			return
		}

		acc.inputTokens += in
		acc.outputTokens += out
		finish = chunkFinish

		if chunkFinish != gateway.FinishToolCalls {
			acc.content = streamedContent
			acc.thinking = streamedThinking
			break
		}

		// Tool-call deltas are unreliable; reissue as a non-streaming call
		// to get the canonical tool-call structure.
		resp, err := m.gateway.Complete(ctx, req)
		if err != nil {
			recordErr(err)
			m.persistPartial(ctx, session.ID, acc)
			c.sendFrame(errorFrame{Type: frameError, Message: err.Error()})
			return
		}

		toolCalls := fromGatewayToolCalls(resp.ToolCalls)
		acc.toolCalls = append(acc.toolCalls, toolCalls...)

		assistantMsg := &models.Message{
			ID:           uuid.NewString(),
			SessionID:    session.ID,
			Role:         models.RoleAssistant,
			Content:      resp.Content,
			Thinking:     resp.Thinking,
			ToolCalls:    toolCalls,
			Model:        req.ModelAlias,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CostUSD:      resp.CostUSD,
		}
		if err := m.sessions.AppendMessage(ctx, assistantMsg); err != nil {
			recordErr(err)
			c.sendFrame(errorFrame{Type: frameError, Message: err.Error()})
			return
		}
		deltaMessages++
		req.Messages = append(req.Messages, toCompletionMessage(assistantMsg))

		for _, tc := range toolCalls {
			c.sendFrame(toolCallFrame{Type: frameToolCall, Name: tc.Name, Arguments: tc.Input, ID: tc.ID})

			result := m.executor.Execute(ctx, tc.ID, tc.Name, string(tc.Input))
			modelResult := models.ToolResult{
				ToolCallID: result.ToolCallID,
				Name:       result.Name,
				Content:    result.Content,
				Success:    result.Success,
				DurationMS: result.DurationMS,
			}
			acc.toolResults = append(acc.toolResults, modelResult)
			c.sendFrame(toolResultFrame{Type: frameToolResult, Name: modelResult.Name, Content: modelResult.Content, ID: modelResult.ToolCallID, Success: modelResult.Success})

			toolMsg := &models.Message{
				ID:         uuid.NewString(),
				SessionID:  session.ID,
				Role:       models.RoleTool,
				Content:    modelResult.Content,
				ToolResult: &modelResult,
			}
			if err := m.sessions.AppendMessage(ctx, toolMsg); err != nil {
				recordErr(err)
				c.sendFrame(errorFrame{Type: frameError, Message: err.Error()})
				return
			}
			deltaMessages++
			req.Messages = append(req.Messages, toCompletionMessage(toolMsg))
		}
	}

	finalMsg := &models.Message{
		ID:           uuid.NewString(),
		SessionID:    session.ID,
		Role:         models.RoleAssistant,
		Content:      acc.content,
		Thinking:     acc.thinking,
		Model:        req.ModelAlias,
		InputTokens:  acc.inputTokens,
		OutputTokens: acc.outputTokens,
	}
	if err := m.sessions.AppendMessage(ctx, finalMsg); err != nil {
		recordErr(err)
		c.sendFrame(errorFrame{Type: frameError, Message: err.Error()})
		return
	}
	deltaMessages++

	if err := m.sessions.IncrementCounters(ctx, session.ID, deltaMessages, acc.inputTokens, acc.outputTokens, acc.costUSD); err != nil {
		recordErr(err)
		c.sendFrame(errorFrame{Type: frameError, Message: err.Error()})
		return
	}
	if session.Title == "" {
		session.Title = sessions.DeriveTitle(frame.Content)
		_ = m.sessions.Update(ctx, session)
	}

	c.sendFrame(usageFrame{Type: frameUsage, InputTokens: acc.inputTokens, OutputTokens: acc.outputTokens, Cost: acc.costUSD})
	c.sendFrame(doneFrame{Type: frameDone, MessageID: finalMsg.ID, FinishReason: string(finish)})
}

// persistPartial saves a disconnected or errored turn's accumulated output
// as the assistant message, without a done frame.
func (m *Manager) persistPartial(ctx context.Context, sessionID string, acc *turnAccumulator) {
	if acc.content == "" && acc.thinking == "" && len(acc.toolCalls) == 0 {
		return
	}
	msg := &models.Message{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Role:         models.RoleAssistant,
		Content:      acc.content,
		Thinking:     acc.thinking,
		ToolCalls:    acc.toolCalls,
		InputTokens:  acc.inputTokens,
		OutputTokens: acc.outputTokens,
	}
	// Best effort: the client is already gone, nothing left to report to.
	_ = m.sessions.AppendMessage(context.WithoutCancel(ctx), msg)
	_ = m.sessions.IncrementCounters(context.WithoutCancel(ctx), sessionID, 1, acc.inputTokens, acc.outputTokens, acc.costUSD)
}

func toCompletionMessages(history []*models.Message) []gateway.CompletionMessage {
	out := make([]gateway.CompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, toCompletionMessage(m))
	}
	return out
}

func toCompletionMessage(m *models.Message) gateway.CompletionMessage {
	cm := gateway.CompletionMessage{Role: string(m.Role), Content: m.Content}
	for _, tc := range m.ToolCalls {
		cm.ToolCalls = append(cm.ToolCalls, gateway.ToolCall{ID: tc.ID, Name: tc.Name, ArgumentsJSON: string(tc.Input)})
	}
	if m.ToolResult != nil {
		cm.ToolResults = append(cm.ToolResults, gateway.ToolResult{ToolCallID: m.ToolResult.ToolCallID, Content: m.ToolResult.Content, IsError: !m.ToolResult.Success})
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
		out = append(out, gateway.ToolSchema{Name: d.Function.Name, Description: d.Function.Description, Parameters: []byte(d.Function.Parameters)})
	}
	return out
}
