package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/conclave-run/conclave/internal/gateway"
)

// BedrockConfig configures a BedrockProvider. Region follows the AWS SDK's
// usual resolution chain (env, shared config, IMDS) when empty.
type BedrockConfig struct {
	Region       string
	DefaultModel string
}

// BedrockProvider implements gateway.Provider over the Bedrock Runtime
// InvokeModel/InvokeModelWithResponseStream APIs, targeting Claude-on-Bedrock
// model ids, typically used as a Bedrock fallback leg for the Claude family.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string        { return "bedrock" }
func (p *BedrockProvider) SupportsTools() bool { return true }

func (p *BedrockProvider) Models() []string {
	return []string{"anthropic.claude-3-5-sonnet-20241022-v2:0", "anthropic.claude-3-5-haiku-20241022-v1:0"}
}

func (p *BedrockProvider) modelOrDefault(alias string) string {
	if alias != "" {
		return alias
	}
	return p.defaultModel
}

// bedrockRequest mirrors the Anthropic-on-Bedrock wire body (the
// "anthropic_version" envelope bedrockruntime.InvokeModel expects for
// Claude models), distinct from anthropic-sdk-go's direct-API body.
type bedrockRequest struct {
	AnthropicVersion string              `json:"anthropic_version"`
	MaxTokens        int                 `json:"max_tokens"`
	System           string              `json:"system,omitempty"`
	Messages         []bedrockMessage    `json:"messages"`
	Thinking         *bedrockThinkingCfg `json:"thinking,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockThinkingCfg struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type bedrockResponse struct {
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		Thinking string `json:"thinking,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *BedrockProvider) buildBody(req *gateway.CompletionRequest) ([]byte, error) {
	body := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokensOrDefault(req.MaxOutputTokens),
		System:           req.System,
	}
	for _, m := range req.Messages {
		if m.Role == "tool" {
			for _, tr := range m.ToolResults {
				body.Messages = append(body.Messages, bedrockMessage{Role: "user", Content: tr.Content})
			}
			continue
		}
		body.Messages = append(body.Messages, bedrockMessage{Role: m.Role, Content: m.Content})
	}
	if req.EnableThinking {
		body.Thinking = &bedrockThinkingCfg{Type: "enabled", BudgetTokens: gateway.ThinkingBudgetTokens}
	}
	return json.Marshal(body)
}

func (p *BedrockProvider) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
	start := time.Now()
	payload, err := p.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: encode request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelOrDefault(req.ModelAlias)),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}

	var content, thinking strings.Builder
	for _, block := range resp.Content {
		content.WriteString(block.Text)
		thinking.WriteString(block.Thinking)
	}

	finish := gateway.FinishStop
	if resp.StopReason == "max_tokens" {
		finish = gateway.FinishLength
	}
	return &gateway.CompletionResponse{
		Content:      content.String(),
		Thinking:     thinking.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		FinishReason: finish,
		Latency:      time.Since(start),
	}, nil
}

// Stream dispatches InvokeModelWithResponseStream, decoding each event
// payload through the same bedrockResponse delta shape Bedrock emits for
// Claude's content_block_delta events.
func (p *BedrockProvider) Stream(ctx context.Context, req *gateway.CompletionRequest) (<-chan *gateway.Chunk, error) {
	payload, err := p.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: encode request: %w", err)
	}

	stream, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(p.modelOrDefault(req.ModelAlias)),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: invoke stream: %w", err)
	}

	out := make(chan *gateway.Chunk)
	go func() {
		defer close(out)
		reader := stream.GetStream()
		defer reader.Close()

		var inputTokens, outputTokens int
		for event := range reader.Events() {
			chunkEvent, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var delta struct {
				Type  string `json:"type"`
				Delta struct {
					Type     string `json:"type"`
					Text     string `json:"text"`
					Thinking string `json:"thinking"`
				} `json:"delta"`
				Usage struct {
					InputTokens  int `json:"input_tokens"`
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal(chunkEvent.Value.Bytes, &delta); err != nil {
				continue
			}
			if delta.Delta.Text != "" {
				out <- &gateway.Chunk{ContentDelta: delta.Delta.Text}
			}
			if delta.Delta.Thinking != "" {
				out <- &gateway.Chunk{ThinkingDelta: delta.Delta.Thinking}
			}
			if delta.Usage.InputTokens > 0 {
				inputTokens = delta.Usage.InputTokens
			}
			if delta.Usage.OutputTokens > 0 {
				outputTokens = delta.Usage.OutputTokens
			}
		}
		if err := reader.Err(); err != nil {
			out <- &gateway.Chunk{Err: fmt.Errorf("bedrock: stream error: %w", err)}
			return
		}
		out <- &gateway.Chunk{FinishReason: gateway.FinishStop, InputTokens: inputTokens, OutputTokens: outputTokens}
	}()
	return out, nil
}
