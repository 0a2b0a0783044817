package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
)

type mockProvider struct {
	name     string
	chatFunc func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}
func (m *mockProvider) Name() string { return m.name }

func replying(content string) *mockProvider {
	return &mockProvider{
		name: "mock",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Model: "m1", Message: domain.Message{Role: domain.RoleAssistant, Content: content}}, nil
		},
	}
}

var listPods = domain.PredictRequest{
	AgentID: "cluster",
	Message: "show me what's running in foo",
	Intents: []string{"list_pods", "get_logs", "scale_deployment"},
}

func TestChatPredictorPrompt(t *testing.T) {
	var got domain.ChatRequest
	p := &mockProvider{name: "mock", chatFunc: func(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		got = req
		return &domain.ChatResponse{Message: domain.Message{Content: `{"intent":"list_pods","confidence":0.9}`}}, nil
	}}

	pred, err := NewChatPredictor(p, WithModel("qwen2.5")).Predict(context.Background(), listPods)
	require.NoError(t, err)
	assert.Equal(t, "list_pods", pred.Intent)

	assert.Equal(t, "qwen2.5", got.Model)
	assert.True(t, got.JSONMode)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "list_pods, get_logs, scale_deployment")
	assert.Contains(t, got.Messages[0].Content, `"cluster"`)
	assert.Equal(t, listPods.Message, got.Messages[1].Content)
}

func TestChatPredictorParsesReplies(t *testing.T) {
	tests := []struct {
		name    string
		content string
		intent  string
		conf    float64
		wantErr bool
	}{
		{"plain", `{"intent":"list_pods","confidence":0.92}`, "list_pods", 0.92, false},
		{"fenced", "```json\n{\"intent\": \"get_logs\", \"confidence\": 0.85}\n```", "get_logs", 0.85, false},
		{"bare fence", "```\n{\"intent\":\"get_logs\",\"confidence\":1}\n```", "get_logs", 1, false},
		{"normalized", `{"intent":" List_Pods ","confidence":0.9}`, "list_pods", 0.9, false},
		{"clamped high", `{"intent":"list_pods","confidence":7}`, "list_pods", 1, false},
		{"clamped low", `{"intent":"list_pods","confidence":-1}`, "list_pods", 0, false},
		{"no intent", `{"confidence":0.9}`, "", 0, true},
		{"prose", "I think it is list_pods", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := NewChatPredictor(replying(tt.content)).Predict(context.Background(), listPods)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrProviderError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.intent, pred.Intent)
			assert.InDelta(t, tt.conf, pred.Confidence, 1e-9)
			assert.Equal(t, "m1", pred.Model)
		})
	}
}

func TestChatPredictorRequiresIntents(t *testing.T) {
	_, err := NewChatPredictor(replying("{}")).Predict(context.Background(), domain.PredictRequest{Message: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestChatPredictorPassesProviderError(t *testing.T) {
	cause := errors.New("connection refused")
	p := &mockProvider{name: "down", chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, cause
	}}
	_, err := NewChatPredictor(p).Predict(context.Background(), listPods)
	assert.ErrorIs(t, err, cause)
}

func TestChatPredictorOverHTTP(t *testing.T) {
	var req openaiRequest
	srv := chatServer(t, 200, "```json\n{\"intent\":\"scale_deployment\",\"confidence\":0.88}\n```", &req)

	provider := NewOpenAIProvider(config.ModelConfig{BaseURL: srv.URL, Model: "llama3"}, nil)
	pred, err := NewChatPredictor(provider).Predict(context.Background(), listPods)
	require.NoError(t, err)
	assert.Equal(t, "scale_deployment", pred.Intent)
	assert.Equal(t, "llama3", req.Model)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "You classify"))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1}  "))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```{\"a\":1}```"))
}

// countingPredictor fails while fail is set.
type countingPredictor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingPredictor) Predict(context.Context, domain.PredictRequest) (*domain.Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &domain.Prediction{Intent: "list_pods", Confidence: 0.9}, nil
}
func (c *countingPredictor) Name() string { return "counting" }

func (c *countingPredictor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
