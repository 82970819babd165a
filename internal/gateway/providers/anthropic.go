// Package providers implements the concrete LLM Gateway backends: Anthropic,
// an OpenAI-compatible backend (also used for Qwen/DeepSeek-compatible
// endpoints), Bedrock (Claude-on-Bedrock), and Gemini. Each backend
// implements gateway.Provider with explicit Complete and Stream methods.
package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/conclave-run/conclave/internal/gateway"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// AnthropicProvider implements gateway.Provider over anthropic-sdk-go.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// NewAnthropicProvider constructs a provider, applying sane defaults
// (3 retries, 1s base backoff, claude-sonnet-4 default model).
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []string {
	return []string{
		"claude-opus-4-5-20251101",
		"claude-3-5-sonnet-latest",
		"claude-3-5-haiku-latest",
	}
}

func (p *AnthropicProvider) modelOrDefault(alias string) string {
	if alias != "" {
		return alias
	}
	return p.defaultModel
}

func (p *AnthropicProvider) convertMessages(messages []gateway.CompletionMessage) []anthropic.MessageParam {
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case "tool":
			for _, tr := range m.ToolResults {
				converted = append(converted, anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError),
				))
			}
		}
	}
	return converted
}

// Stream dispatches a streaming completion, retrying transient failures
// with exponential backoff before the first event: retryDelay * 2^attempt,
// capped at maxRetries attempts.
func (p *AnthropicProvider) Stream(ctx context.Context, req *gateway.CompletionRequest) (<-chan *gateway.Chunk, error) {
	out := make(chan *gateway.Chunk)

	go func() {
		defer close(out)

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.modelOrDefault(req.ModelAlias)),
			MaxTokens: int64(maxTokensOrDefault(req.MaxOutputTokens)),
			Messages:  p.convertMessages(req.Messages),
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
		if req.EnableThinking {
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(gateway.ThinkingBudgetTokens)
		}

		var stream *anthropic.Stream[anthropic.MessageStreamEventUnion]
		var err error
		backoff := p.retryDelay
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			s := p.client.Messages.NewStreaming(ctx, params)
			stream, err = s, nil
			if stream != nil {
				break
			}
			if !isRetryable(err) {
				out <- &gateway.Chunk{Err: fmt.Errorf("anthropic: %w", err)}
				return
			}
			select {
			case <-ctx.Done():
				out <- &gateway.Chunk{Err: ctx.Err()}
				return
			case <-time.After(backoff):
				backoff = time.Duration(math.Min(float64(backoff*2), float64(30*time.Second)))
			}
		}

		var inputTokens, outputTokens int
		for stream.Next() {
			event := stream.Current()
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta.Delta.Text != "" {
					out <- &gateway.Chunk{ContentDelta: delta.Delta.Text}
				}
				if delta.Delta.Thinking != "" {
					out <- &gateway.Chunk{ThinkingDelta: delta.Delta.Thinking}
				}
			case anthropic.MessageDeltaEvent:
				outputTokens = int(delta.Usage.OutputTokens)
			case anthropic.MessageStartEvent:
				inputTokens = int(delta.Message.Usage.InputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			out <- &gateway.Chunk{Err: fmt.Errorf("anthropic: stream error: %w", err)}
			return
		}
		out <- &gateway.Chunk{FinishReason: gateway.FinishStop, InputTokens: inputTokens, OutputTokens: outputTokens}
	}()

	return out, nil
}

// Complete consumes Stream to a single accumulated response, since the
// gateway's non-streaming contract is a convenience view over the same
// wire call.
func (p *AnthropicProvider) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
	start := time.Now()
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var content, thinking strings.Builder
	resp := &gateway.CompletionResponse{FinishReason: gateway.FinishStop}
	for c := range chunks {
		if c.Err != nil {
			return nil, fmt.Errorf("anthropic: %w", c.Err)
		}
		content.WriteString(c.ContentDelta)
		thinking.WriteString(c.ThinkingDelta)
		if c.FinishReason != "" {
			resp.FinishReason = c.FinishReason
			resp.InputTokens = c.InputTokens
			resp.OutputTokens = c.OutputTokens
		}
	}
	resp.Content = content.String()
	resp.Thinking = thinking.String()
	resp.Latency = time.Since(start)
	return resp, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "500") ||
		strings.Contains(s, "502") || strings.Contains(s, "503") ||
		strings.Contains(s, "timeout")
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
