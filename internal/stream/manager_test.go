package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/conclave-run/conclave/internal/gateway"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
)

type fakeTracer struct {
	calls        int
	lastSession  string
	recordedErrs int
}

func (f *fakeTracer) TraceSendMessage(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	f.calls++
	f.lastSession = sessionID
	return trace.NewNoopTracerProvider().Tracer("test").Start(ctx, "chat.send_message")
}

func (f *fakeTracer) RecordError(span trace.Span, err error) {
	if err != nil {
		f.recordedErrs++
	}
}

type noopConn struct{}

func (noopConn) ReadMessage() (int, []byte, error)   { return 0, nil, nil }
func (noopConn) WriteMessage(int, []byte) error      { return nil }
func (noopConn) SetReadLimit(int64)                  {}
func (noopConn) SetReadDeadline(time.Time) error     { return nil }
func (noopConn) SetWriteDeadline(time.Time) error    { return nil }
func (noopConn) SetPongHandler(func(string) error)   {}
func (noopConn) Close() error                        { return nil }

type scriptedStreamProvider struct {
	name  string
	turns [][]*gateway.Chunk
	calls int
	final []*gateway.CompletionResponse
}

func (p *scriptedStreamProvider) Name() string       { return p.name }
func (p *scriptedStreamProvider) Models() []string    { return []string{"scripted"} }
func (p *scriptedStreamProvider) SupportsTools() bool { return true }

func (p *scriptedStreamProvider) Stream(ctx context.Context, req *gateway.CompletionRequest) (<-chan *gateway.Chunk, error) {
	chunks := p.turns[p.calls]
	out := make(chan *gateway.Chunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *scriptedStreamProvider) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
	resp := p.final[p.calls]
	p.calls++
	return resp, nil
}

func newTestGateway(provider gateway.Provider) *gateway.Gateway {
	catalogue := gateway.NewCatalogue()
	catalogue.Register(&gateway.ModelEntry{Alias: "test-model", ProviderName: "scripted"})
	return gateway.New(catalogue, map[string]gateway.Provider{"scripted": provider}, gateway.FallbackChain{})
}

func drainFrames(t *testing.T, c *Connection, timeout time.Duration) []map[string]any {
	t.Helper()
	var frames []map[string]any
	deadline := time.After(timeout)
	for {
		select {
		case data := <-c.send:
			var m map[string]any
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatal(err)
			}
			frames = append(frames, m)
			if m["type"] == frameDone || m["type"] == frameError {
				return frames
			}
		case <-deadline:
			return frames
		}
	}
}

func TestRunTurnSimpleCompletion(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.GetOrCreate(ctx, "agent-1", sessions.SessionDefaults{ModelOverride: "test-model"})

	provider := &scriptedStreamProvider{
		name: "scripted",
		turns: [][]*gateway.Chunk{
			{
				{ContentDelta: "Hel"},
				{ContentDelta: "lo"},
				{FinishReason: gateway.FinishStop, InputTokens: 5, OutputTokens: 2},
			},
		},
	}
	mgr := New(store, newTestGateway(provider), tools.NewRegistry(), tools.NewExecutor(tools.NewRegistry(), tools.ExecutorConfig{}), time.Minute)

	conn := newConnection(ctx, noopConn{}, "conn-1", session.ID)
	mgr.runTurn(conn, session, ClientFrame{Type: clientFrameMessage, Content: "hi"})

	frames := drainFrames(t, conn, time.Second)
	if len(frames) == 0 {
		t.Fatal("expected frames")
	}
	last := frames[len(frames)-1]
	if last["type"] != frameDone {
		t.Fatalf("expected terminal done frame, got %v", last)
	}

	history, _ := store.History(ctx, session.ID, "", 0)
	if len(history) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(history))
	}
	if history[1].Content != "Hello" {
		t.Fatalf("expected accumulated content %q, got %q", "Hello", history[1].Content)
	}
}

func TestRunTurnToolLoop(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.GetOrCreate(ctx, "agent-1", sessions.SessionDefaults{ModelOverride: "test-model"})

	registry := tools.NewRegistry()
	registry.Register(&tools.Definition{
		QualifiedName: "support__lookup",
		SkillSlug:     "support",
		Method:        "lookup",
		Handler: func(ctx tools.Context, args any) (any, error) {
			return map[string]string{"status": "open"}, nil
		},
	})
	executor := tools.NewExecutor(registry, tools.ExecutorConfig{})

	argsJSON, _ := json.Marshal(map[string]string{"ticket_id": "1"})
	provider := &scriptedStreamProvider{
		name: "scripted",
		turns: [][]*gateway.Chunk{
			{{FinishReason: gateway.FinishToolCalls}},
			{{ContentDelta: "done"}, {FinishReason: gateway.FinishStop}},
		},
		final: []*gateway.CompletionResponse{
			{ToolCalls: []gateway.ToolCall{{ID: "call-1", Name: "support__lookup", ArgumentsJSON: string(argsJSON)}}, FinishReason: gateway.FinishToolCalls},
		},
	}
	mgr := New(store, newTestGateway(provider), registry, executor, time.Minute)

	conn := newConnection(ctx, noopConn{}, "conn-1", session.ID)
	mgr.runTurn(conn, session, ClientFrame{Type: clientFrameMessage, Content: "status?", EnableTools: true})

	frames := drainFrames(t, conn, time.Second)
	var sawToolCall, sawToolResult, sawDone bool
	for _, f := range frames {
		switch f["type"] {
		case frameToolCall:
			sawToolCall = true
		case frameToolResult:
			sawToolResult = true
		case frameDone:
			sawDone = true
		}
	}
	if !sawToolCall || !sawToolResult || !sawDone {
		t.Fatalf("expected tool_call, tool_result, done frames; got %+v", frames)
	}

	history, _ := store.History(ctx, session.ID, "", 0)
	if len(history) != 4 {
		t.Fatalf("expected 4 persisted messages, got %d", len(history))
	}
}

func TestRunTurnEmitsSpanPerTurn(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.GetOrCreate(ctx, "agent-1", sessions.SessionDefaults{ModelOverride: "test-model"})

	provider := &scriptedStreamProvider{
		name: "scripted",
		turns: [][]*gateway.Chunk{
			{{ContentDelta: "hi"}, {FinishReason: gateway.FinishStop, InputTokens: 1, OutputTokens: 1}},
		},
	}
	mgr := New(store, newTestGateway(provider), tools.NewRegistry(), tools.NewExecutor(tools.NewRegistry(), tools.ExecutorConfig{}), time.Minute)

	tracer := &fakeTracer{}
	mgr.SetTracer(tracer)

	conn := newConnection(ctx, noopConn{}, "conn-1", session.ID)
	mgr.runTurn(conn, session, ClientFrame{Type: clientFrameMessage, Content: "hi"})
	drainFrames(t, conn, time.Second)

	if tracer.calls != 1 {
		t.Fatalf("expected one send_message span per turn, got %d", tracer.calls)
	}
	if tracer.lastSession != session.ID {
		t.Fatalf("expected span tagged with session %s, got %s", session.ID, tracer.lastSession)
	}
	if tracer.recordedErrs != 0 {
		t.Fatalf("expected no recorded errors on a clean turn, got %d", tracer.recordedErrs)
	}
}

func TestRunTurnRecordsErrorOnGatewayFailure(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	// No ModelOverride: the gateway will fail to resolve an empty alias.
	session, _ := store.GetOrCreate(ctx, "agent-1", sessions.SessionDefaults{})

	provider := &scriptedStreamProvider{name: "scripted"}
	mgr := New(store, newTestGateway(provider), tools.NewRegistry(), tools.NewExecutor(tools.NewRegistry(), tools.ExecutorConfig{}), time.Minute)

	tracer := &fakeTracer{}
	mgr.SetTracer(tracer)

	conn := newConnection(ctx, noopConn{}, "conn-1", session.ID)
	mgr.runTurn(conn, session, ClientFrame{Type: clientFrameMessage, Content: "hi"})
	frames := drainFrames(t, conn, time.Second)

	if len(frames) == 0 || frames[len(frames)-1]["type"] != frameError {
		t.Fatalf("expected a terminal error frame for an unresolvable model, got %+v", frames)
	}
	if tracer.calls != 1 {
		t.Fatalf("expected span started even on failure, got %d", tracer.calls)
	}
	if tracer.recordedErrs != 1 {
		t.Fatalf("expected exactly one recorded error, got %d", tracer.recordedErrs)
	}
}
