package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
)

func ollamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"llama3:latest","size":42},{"name":"qwen2.5:7b"}]}`))
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3", body["model"])
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(openaiResponse{
			Model:   "llama3",
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "ok"}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaProviderChat(t *testing.T) {
	srv := ollamaServer(t)
	for _, base := range []string{srv.URL, srv.URL + "/v1", srv.URL + "/v1/"} {
		p := NewOllamaProvider(config.ModelConfig{BaseURL: base, Model: "llama3", APIKey: "ignored"}, nil)
		resp, err := p.Chat(context.Background(), domain.ChatRequest{})
		require.NoError(t, err, base)
		assert.Equal(t, "ok", resp.Message.Content)
		assert.Equal(t, "ollama", p.Name())
	}
}

func TestOllamaProviderModels(t *testing.T) {
	srv := ollamaServer(t)
	p := NewOllamaProvider(config.ModelConfig{BaseURL: srv.URL, Model: "llama3"}, nil)
	ctx := context.Background()

	assert.True(t, p.IsHealthy(ctx))

	models, err := p.ListModels(ctx)
	require.NoError(t, err)
	assert.Len(t, models, 2)

	ok, err := p.HasModel(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "llama3 matches llama3:latest")

	missing := NewOllamaProvider(config.ModelConfig{BaseURL: srv.URL, Model: "mistral"}, nil)
	ok, err = missing.HasModel(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Warmup(ctx))
}

func TestOllamaProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewOllamaProvider(config.ModelConfig{BaseURL: url, Model: "llama3"}, nil)
	ctx := context.Background()
	assert.False(t, p.IsHealthy(ctx))
	assert.ErrorIs(t, p.Warmup(ctx), domain.ErrModelUnavailable)
	_, err := p.ListModels(ctx)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestOllamaProviderDefaults(t *testing.T) {
	p := NewOllamaProvider(config.ModelConfig{Model: "llama3"}, nil)
	assert.Equal(t, DefaultOllamaURL, p.baseURL)
	assert.Equal(t, DefaultOllamaURL+"/v1", p.inner.baseURL)
	assert.Equal(t, ollamaDefaultConnTimeout+ollamaDefaultRespTimeout, p.client.Timeout)
}
