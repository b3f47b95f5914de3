package enrich

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultClaudeModel is used when ANTHROPIC_MODEL is unset.
const DefaultClaudeModel = "claude-3-5-haiku-latest"

// ClaudeProvider is the fallback backend via the Anthropic SDK. The API
// has no JSON mode, so the system prompt pins the reply shape and the
// enricher strips code fences before decoding.
type ClaudeProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeProvider creates the provider. An empty model falls back to
// DefaultClaudeModel.
func NewClaudeProvider(apiKey, model string) (*ClaudeProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if model == "" {
		model = DefaultClaudeModel
	}
	return &ClaudeProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}, nil
}

// Name returns the provider identifier.
func (p *ClaudeProvider) Name() string { return "claude" }

// Model returns the configured model name, for pricing.
func (p *ClaudeProvider) Model() string { return string(p.model) }

// Complete sends one prompt and concatenates the text blocks of the
// reply.
func (p *ClaudeProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	maxTokens := int64(1024)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude completion: %w", err)
	}

	out := &CompletionResponse{
		StopReason: string(resp.StopReason),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.Content += text.Text
		}
	}
	return out, nil
}
