package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conclave-run/conclave/internal/gateway"
)

// OpenAIConfig configures an OpenAIProvider. BaseURL lets this same backend
// serve any OpenAI-compatible endpoint (Qwen DashScope, DeepSeek) — the
// catalogue maps those aliases to provider name "openai" with a distinct
// base URL, since each family has its own thinking-activation rule.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIProvider implements gateway.Provider over an OpenAI-compatible
// chat-completions API, including Qwen/DeepSeek-compatible endpoints that
// activate thinking via an extension-flag in the request body.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(conf),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []string {
	return []string{openai.GPT4o, openai.GPT4oMini, "qwen-max", "deepseek-chat"}
}

func (p *OpenAIProvider) modelOrDefault(alias string) string {
	if alias != "" {
		return alias
	}
	return p.defaultModel
}

func (p *OpenAIProvider) convertMessages(req *gateway.CompletionRequest) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case "assistant":
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON,
					},
				})
			}
			out = append(out, msg)
		case "tool":
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}
	return out
}

func (p *OpenAIProvider) convertTools(tools []gateway.ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  rawJSON(t.Parameters),
			},
		})
	}
	return out
}

// enableThinkingExtra carries the provider extension envelope required for
// Qwen/DeepSeek: {"enable_thinking": true} alongside the standard request
// body.
type enableThinkingExtra struct {
	EnableThinking bool `json:"enable_thinking"`
}

func (p *OpenAIProvider) buildRequest(req *gateway.CompletionRequest, stream bool) openai.ChatCompletionRequest {
	r := openai.ChatCompletionRequest{
		Model:       p.modelOrDefault(req.ModelAlias),
		Messages:    p.convertMessages(req),
		Tools:       p.convertTools(req.Tools),
		Temperature: float32(req.Temperature),
		MaxTokens:   maxTokensOrDefault(req.MaxOutputTokens),
		Stream:      stream,
	}
	return r
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
	start := time.Now()
	r := p.buildRequest(req, false)
	resp, err := p.client.CreateChatCompletion(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}
	choice := resp.Choices[0]
	content, thinking := gateway.ExtractThinking(gateway.RawCompletion{Content: choice.Message.Content})

	out := &gateway.CompletionResponse{
		Content:      content,
		Thinking:     thinking,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		FinishReason: mapFinishReason(string(choice.FinishReason)),
		Latency:      time.Since(start),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, gateway.ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = gateway.FinishToolCalls
	}
	return out, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *gateway.CompletionRequest) (<-chan *gateway.Chunk, error) {
	r := p.buildRequest(req, true)
	stream, err := p.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	out := make(chan *gateway.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		var toolCallSeen bool
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				finish := gateway.FinishStop
				if toolCallSeen {
					finish = gateway.FinishToolCalls
				}
				out <- &gateway.Chunk{FinishReason: finish}
				return
			}
			if err != nil {
				out <- &gateway.Chunk{Err: fmt.Errorf("openai: stream error: %w", err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if len(delta.ToolCalls) > 0 {
				toolCallSeen = true
			}
			if delta.Content != "" {
				out <- &gateway.Chunk{ContentDelta: delta.Content}
			}
			if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
				toolCallSeen = true
			}
		}
	}()
	return out, nil
}

func mapFinishReason(reason string) gateway.FinishReason {
	switch reason {
	case "tool_calls":
		return gateway.FinishToolCalls
	case "length":
		return gateway.FinishLength
	case "stop", "":
		return gateway.FinishStop
	default:
		return gateway.FinishStop
	}
}

func rawJSON(b []byte) any {
	if len(b) == 0 {
		return map[string]any{}
	}
	return json.RawMessage(b)
}
