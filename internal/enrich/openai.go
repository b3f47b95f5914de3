package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/achesucatas/auditor/internal/httputil"
)

// DefaultOpenAIModel is used when OPENAI_MODEL is unset.
const DefaultOpenAIModel = "gpt-5-nano"

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider calls the chat completions API in JSON mode through
// the shared hardened HTTP client, so LLM traffic gets the same retry,
// backoff and breaker treatment as the scrapers.
type OpenAIProvider struct {
	client  *httputil.Client
	apiKey  string
	model   string
	baseURL string
}

// NewOpenAIProvider creates the provider. An empty model falls back to
// DefaultOpenAIModel; a nil client gets a default hardened client.
func NewOpenAIProvider(client *httputil.Client, apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if client == nil {
		client = httputil.NewClient(httputil.FetchOptions{})
	}
	return &OpenAIProvider{
		client:  client,
		apiKey:  apiKey,
		model:   model,
		baseURL: openAIEndpoint,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// Model returns the configured model name, for pricing.
func (p *OpenAIProvider) Model() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
	MaxTokens      int           `json:"max_completion_tokens,omitempty"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one prompt and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		ResponseFormat: &chatFormat{Type: "json_object"},
		MaxTokens:      maxTokens,
	}
	header := http.Header{"Authorization": []string{"Bearer " + p.apiKey}}

	var reply chatResponse
	out := p.client.PostJSON(ctx, p.baseURL, header, payload, &reply)
	if !out.OK {
		// Error bodies are JSON too; surface the API message when there
		// is one.
		var apiErr chatResponse
		if len(out.Body) > 0 && json.Unmarshal(out.Body, &apiErr) == nil && apiErr.Error != nil {
			return nil, fmt.Errorf("openai: %s", apiErr.Error.Message)
		}
		if out.Err != nil {
			return nil, fmt.Errorf("openai: %w", out.Err)
		}
		return nil, fmt.Errorf("openai: status %d", out.Status)
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("openai: %s", reply.Error.Message)
	}
	if len(reply.Choices) == 0 {
		return nil, fmt.Errorf("openai: response carries no choices")
	}

	choice := reply.Choices[0]
	return &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  reply.Usage.PromptTokens,
			OutputTokens: reply.Usage.CompletionTokens,
		},
	}, nil
}
