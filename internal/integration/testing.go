package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deskmate/internal/adapter/patternstore"
	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
	"deskmate/internal/usecase/agents"
	"deskmate/internal/usecase/classifier"
	"deskmate/internal/usecase/eventbus"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

// Config holds integration test configuration from environment
type Config struct {
	OllamaURL   string
	OllamaModel string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	return &Config{
		OllamaURL:   os.Getenv("DESKMATE_TEST_OLLAMA_URL"),
		OllamaModel: envOr("DESKMATE_TEST_OLLAMA_MODEL", "llama3.2"),
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SkipIfNoOllama skips the test when no Ollama server is configured.
func SkipIfNoOllama(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.OllamaURL == "" {
		t.Skip("Skipping Ollama integration test: DESKMATE_TEST_OLLAMA_URL not set")
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Stack is a fully wired router over a real pattern store.
type Stack struct {
	Store   domain.PatternStore
	Bus     *eventbus.Bus
	Learner *learning.Learner
	Orch    *multiagent.Orchestrator
}

// Close flushes and closes the store.
func (s *Stack) Close() error {
	err := s.Store.Close()
	s.Bus.Close()
	return err
}

// OpenStore opens a pattern store of the given backend under dir.
func OpenStore(t *testing.T, backend, dir string, bus domain.EventBus) domain.PatternStore {
	t.Helper()
	opts := []patternstore.Option{patternstore.WithEventBus(bus)}
	var (
		store domain.PatternStore
		err   error
	)
	switch backend {
	case "sqlite":
		store, err = patternstore.NewSQLiteStore(filepath.Join(dir, "patterns.db"), opts...)
	default:
		store, err = patternstore.NewFileStore(filepath.Join(dir, "patterns.json"), opts...)
	}
	if err != nil {
		t.Fatalf("open %s store: %v", backend, err)
	}
	return store
}

// NewStack wires the builtin agents, classifier, learner and orchestrator
// over a store in dir. predictor may be nil.
func NewStack(t *testing.T, backend, dir string, predictor domain.IntentPredictor) *Stack {
	t.Helper()
	cfg := config.Defaults()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := eventbus.New(log, eventbus.WithHistory(100))
	store := OpenStore(t, backend, dir, bus)

	built, err := agents.Build(agents.Builtin(), nil, cfg.Router.FallbackAgent)
	if err != nil {
		t.Fatalf("build agents: %v", err)
	}
	registry := multiagent.NewRegistry(cfg.Router.FallbackAgent, log)
	for _, ag := range built {
		if err := registry.Register(ag); err != nil {
			t.Fatalf("register %s: %v", ag.Descriptor().ID, err)
		}
	}

	copts := []classifier.Option{classifier.WithEventBus(bus), classifier.WithLogger(log)}
	if predictor != nil {
		copts = append(copts, classifier.WithPredictor(predictor))
	}
	cls := classifier.New(store, classifier.Config{
		ModelThreshold:        cfg.Classifier.ModelThreshold,
		ModelTimeout:          30 * time.Second,
		MinPatternSuccessRate: cfg.Classifier.MinPatternSuccessRate,
	}, copts...)

	learner := learning.New(store,
		learning.WithSeedConfidence(cfg.Learning.SeedConfidence),
		learning.WithEventBus(bus),
		learning.WithLogger(log),
	)
	orch, err := multiagent.New(registry, cls, learner, multiagent.DefaultConfig(),
		multiagent.WithEventBus(bus),
		multiagent.WithLogger(log),
	)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &Stack{Store: store, Bus: bus, Learner: learner, Orch: orch}
}
