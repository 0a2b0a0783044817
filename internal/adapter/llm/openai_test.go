package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
)

// chatServer answers /chat/completions with content and records the request.
func chatServer(t *testing.T, status int, content string, got *openaiRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" && r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
			return
		}
		json.NewEncoder(w).Encode(openaiResponse{
			ID:    "chatcmpl-1",
			Model: "llama3",
			Choices: []openaiChoice{{
				Message:      openaiMessage{Role: domain.RoleAssistant, Content: content},
				FinishReason: "stop",
			}},
			Usage:   openaiUsage{PromptTokens: 40, CompletionTokens: 9, TotalTokens: 49},
			Created: 1741942800,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderChat(t *testing.T) {
	var req openaiRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(openaiResponse{
			Model:   "gpt-4o-mini",
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "hi"}}},
			Usage:   openaiUsage{TotalTokens: 5},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ModelConfig{BaseURL: srv.URL + "/", APIKey: "test-key", Model: "gpt-4o-mini"}, nil)
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
		JSONMode: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "gpt-4o-mini", req.Model, "default model is filled in")
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	assert.Equal(t, "hi", resp.Message.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", p.Name())
}

func TestOpenAIProviderNoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(openaiResponse{Choices: []openaiChoice{{}}})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ModelConfig{BaseURL: srv.URL}, nil)
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
}

func TestOpenAIProviderErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusBadGateway, domain.ErrUpstream},
		{http.StatusBadRequest, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := chatServer(t, tt.status, "", nil)
			p := NewOpenAIProvider(config.ModelConfig{BaseURL: srv.URL}, nil)
			_, err := p.Chat(context.Background(), domain.ChatRequest{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIProviderBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ModelConfig{BaseURL: srv.URL}, nil)
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv2.Close()
	_, err = NewOpenAIProvider(config.ModelConfig{BaseURL: srv2.URL}, nil).Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestOpenAIProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOpenAIProvider(config.ModelConfig{BaseURL: url}, nil).Chat(context.Background(), domain.ChatRequest{})
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable), "got %v", err)
}
