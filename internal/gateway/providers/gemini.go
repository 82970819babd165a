package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/conclave-run/conclave/internal/gateway"
)

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// GeminiProvider implements gateway.Provider over google.golang.org/genai,
// typically the last leg of a fallback chain.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-1.5-pro-latest"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &GeminiProvider{client: client, defaultModel: cfg.DefaultModel}, nil
}

func (p *GeminiProvider) Name() string        { return "gemini" }
func (p *GeminiProvider) SupportsTools() bool { return true }

func (p *GeminiProvider) Models() []string {
	return []string{"gemini-1.5-pro-latest", "gemini-2.0-flash-exp"}
}

func (p *GeminiProvider) modelOrDefault(alias string) string {
	if alias != "" {
		return alias
	}
	return p.defaultModel
}

func (p *GeminiProvider) convertContents(req *gateway.CompletionRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		text := m.Content
		switch m.Role {
		case "assistant":
			role = genai.RoleModel
		case "tool":
			role = genai.RoleUser
			var b strings.Builder
			for _, tr := range m.ToolResults {
				b.WriteString(tr.Content)
			}
			text = b.String()
		}
		if text == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return contents
}

func (p *GeminiProvider) genConfig(req *gateway.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(maxTokensOrDefault(req.MaxOutputTokens)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

func (p *GeminiProvider) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.modelOrDefault(req.ModelAlias), p.convertContents(req), p.genConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	var content, thinking strings.Builder
	finish := gateway.FinishStop
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		for _, part := range cand.Content.Parts {
			if part.Text == "" {
				continue
			}
			if part.Thought {
				thinking.WriteString(part.Text)
			} else {
				content.WriteString(part.Text)
			}
		}
		if string(cand.FinishReason) == "MAX_TOKENS" {
			finish = gateway.FinishLength
		}
	}

	var inputTokens, outputTokens int
	if resp.UsageMetadata != nil {
		inputTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &gateway.CompletionResponse{
		Content:      content.String(),
		Thinking:     thinking.String(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		FinishReason: finish,
		Latency:      time.Since(start),
	}, nil
}

// Stream accumulates genai's streaming iterator into gateway.Chunk values.
// The SDK's streaming surface is an iterator over full-candidate snapshots
// rather than incremental text deltas, so each chunk carries the
// newly-appended suffix since the previous snapshot.
func (p *GeminiProvider) Stream(ctx context.Context, req *gateway.CompletionRequest) (<-chan *gateway.Chunk, error) {
	out := make(chan *gateway.Chunk)
	go func() {
		defer close(out)

		var lastLen int
		var inputTokens, outputTokens int
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.modelOrDefault(req.ModelAlias), p.convertContents(req), p.genConfig(req)) {
			if err != nil {
				out <- &gateway.Chunk{Err: fmt.Errorf("gemini: stream error: %w", err)}
				return
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			var full strings.Builder
			for _, part := range resp.Candidates[0].Content.Parts {
				full.WriteString(part.Text)
			}
			text := full.String()
			if len(text) > lastLen {
				out <- &gateway.Chunk{ContentDelta: text[lastLen:]}
				lastLen = len(text)
			}
			if resp.UsageMetadata != nil {
				inputTokens = int(resp.UsageMetadata.PromptTokenCount)
				outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
		}
		out <- &gateway.Chunk{FinishReason: gateway.FinishStop, InputTokens: inputTokens, OutputTokens: outputTokens}
	}()
	return out, nil
}
