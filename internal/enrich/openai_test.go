package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/achesucatas/auditor/internal/httputil"
)

func openAITestProvider(t *testing.T, server *httptest.Server) *OpenAIProvider {
	t.Helper()
	client := httputil.NewClient(httputil.FetchOptions{HTTPClient: server.Client()})
	p, err := NewOpenAIProvider(client, "sk-test", "")
	require.NoError(t, err)
	p.baseURL = server.URL
	return p
}

func TestOpenAICompleteRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, DefaultOpenAIModel, req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Equal(t, "user", req.Messages[1].Role)
		require.NotNil(t, req.ResponseFormat)
		require.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Equal(t, 1024, req.MaxTokens)

		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "{\"summary\":\"ok\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 40}
		}`))
	}))
	defer server.Close()

	p := openAITestProvider(t, server)
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		SystemPrompt: "responda em JSON",
		UserPrompt:   "TÍTULO: Leilão de sucatas",
	})

	require.NoError(t, err)
	require.Equal(t, `{"summary":"ok"}`, resp.Content)
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, Usage{InputTokens: 120, OutputTokens: 40}, resp.Usage)
}

func TestOpenAICompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "model does not exist", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	p := openAITestProvider(t, server)
	_, err := p.Complete(context.Background(), &CompletionRequest{UserPrompt: "x"})

	require.ErrorContains(t, err, "model does not exist")
}

func TestOpenAICompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [], "usage": {"prompt_tokens": 1, "completion_tokens": 0}}`))
	}))
	defer server.Close()

	p := openAITestProvider(t, server)
	_, err := p.Complete(context.Background(), &CompletionRequest{UserPrompt: "x"})

	require.ErrorContains(t, err, "no choices")
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(nil, "", "")
	require.Error(t, err)
}

func TestOpenAIDefaults(t *testing.T) {
	p, err := NewOpenAIProvider(nil, "sk-test", "")
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())
	require.Equal(t, DefaultOpenAIModel, p.Model())
}
