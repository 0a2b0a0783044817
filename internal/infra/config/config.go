package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	DataDir    string                   `yaml:"data_dir"`
	Store      StoreConfig              `yaml:"store"`
	Router     RouterConfig             `yaml:"router"`
	Classifier ClassifierConfig         `yaml:"classifier"`
	Learning   LearningConfig           `yaml:"learning"`
	Model      ModelConfig              `yaml:"model"`
	Agents     map[string]AgentOverride `yaml:"agents,omitempty"`
	Gateway    GatewayConfig            `yaml:"gateway"`
	Scheduler  SchedulerConfig          `yaml:"scheduler"`
	Logger     LoggerConfig             `yaml:"logger"`
	Tracer     TracerConfig             `yaml:"tracer"`
}

// StoreConfig selects and tunes the pattern store.
type StoreConfig struct {
	Backend         string `yaml:"backend"` // "file" or "sqlite"
	Path            string `yaml:"path"`    // default: <data_dir>/patterns.json or patterns.db
	FlushEvery      int    `yaml:"flush_every"`
	MaxInteractions int    `yaml:"max_interactions"` // 0 = unbounded
	BackupDir       string `yaml:"backup_dir"`       // default: <data_dir>/backups
	BackupKeep      int    `yaml:"backup_keep"`
}

// RouterConfig tunes message routing and the per-user conversation context.
type RouterConfig struct {
	FallbackAgent string        `yaml:"fallback_agent"`
	ContextSize   int           `yaml:"context_size"`
	ContextTTL    time.Duration `yaml:"context_ttl"`
	ContextBonus  float64       `yaml:"context_bonus"`
	MaxPending    int           `yaml:"max_pending"`
}

// ClassifierConfig tunes intent classification.
type ClassifierConfig struct {
	ModelThreshold        float64       `yaml:"model_threshold"`
	ModelTimeout          time.Duration `yaml:"model_timeout"`
	MinPatternSuccessRate float64       `yaml:"min_pattern_success_rate"`
}

// LearningConfig tunes pattern learning.
type LearningConfig struct {
	SeedConfidence float64 `yaml:"seed_confidence"`
}

// ModelConfig configures the optional language-model intent predictor.
type ModelConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Provider       string               `yaml:"provider"` // "ollama" or "openai"
	Name           string               `yaml:"name"`
	Model          string               `yaml:"model"`
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"` // may be "enc:..." when DESKMATE_CONFIG_KEY is set
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	Pool           PoolConfig           `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// PoolConfig tunes the HTTP connection pool of a model backend.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig tunes the predictor circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`  // open -> half-open
	Interval    time.Duration `yaml:"interval"` // closed-state counter reset
}

// RateLimitConfig caps predictor calls. RequestsPerSecond <= 0 means unlimited.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// AgentOverride adjusts a built-in agent at startup.
type AgentOverride struct {
	Disabled bool     `yaml:"disabled"`
	Priority int      `yaml:"priority"` // 0 keeps the built-in priority
	Keywords []string `yaml:"keywords"`
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// Token, when set, is required as a bearer token on every API call.
	Token     string                 `yaml:"token"`
	RateLimit GatewayRateLimitConfig `yaml:"rate_limit"`
}

// GatewayRateLimitConfig configures the per-client request limiter.
type GatewayRateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"` // 0 disables
	BurstSize      int      `yaml:"burst_size"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// SchedulerConfig holds maintenance task settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig is one recurring maintenance task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or Go duration
	Action   string `yaml:"action"`   // "pattern_flush", "pattern_backup" or "session_prune"
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // text or json
	Output    string `yaml:"output"` // stdout, stderr or a file path
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "stdout" or "noop"
	SampleRatio float64 `yaml:"sample_ratio"`
}

const encPrefix = "enc:"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskmate"
	}
	return filepath.Join(home, ".deskmate")
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Store: StoreConfig{
			Backend:    "file",
			FlushEvery: 1,
			BackupKeep: 7,
		},
		Router: RouterConfig{
			FallbackAgent: "general",
			ContextSize:   3,
			ContextTTL:    10 * time.Minute,
			ContextBonus:  1.5,
			MaxPending:    1024,
		},
		Classifier: ClassifierConfig{
			ModelThreshold:        0.8,
			ModelTimeout:          2 * time.Second,
			MinPatternSuccessRate: 0.5,
		},
		Learning: LearningConfig{SeedConfidence: 0.8},
		Model: ModelConfig{
			Provider:    "ollama",
			Model:       "llama3.2",
			ConnTimeout: 5 * time.Second,
			RespTimeout: 30 * time.Second,
			Pool: PoolConfig{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 3,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 5},
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8470",
			RateLimit: GatewayRateLimitConfig{
				RequestsPerMin: 120,
				BurstSize:      20,
			},
		},
		Scheduler: SchedulerConfig{
			Tasks: []ScheduledTaskConfig{
				{Name: "flush", Schedule: "1m", Action: "pattern_flush"},
				{Name: "nightly-backup", Schedule: "0 3 * * *", Action: "pattern_backup"},
				{Name: "prune-sessions", Schedule: "5m", Action: "session_prune"},
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			SampleRatio: 1,
		},
	}
}

// StorePath returns the pattern store location, derived from DataDir when unset.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	name := "patterns.json"
	if c.Store.Backend == "sqlite" {
		name = "patterns.db"
	}
	return filepath.Join(c.DataDir, name)
}

// BackupDir returns the snapshot backup directory, derived from DataDir when unset.
func (c *Config) BackupDir() string {
	if c.Store.BackupDir != "" {
		return c.Store.BackupDir
	}
	return filepath.Join(c.DataDir, "backups")
}

// Load reads config from a YAML file, applies env overrides, and validates.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("DESKMATE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps DESKMATE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DESKMATE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DESKMATE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("DESKMATE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DESKMATE_STORE_MAX_INTERACTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Store.MaxInteractions = n
		}
	}
	if v := os.Getenv("DESKMATE_ROUTER_FALLBACK_AGENT"); v != "" {
		cfg.Router.FallbackAgent = v
	}
	if v := os.Getenv("DESKMATE_CLASSIFIER_MODEL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Classifier.ModelThreshold = f
		}
	}
	if v := os.Getenv("DESKMATE_CLASSIFIER_MODEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Classifier.ModelTimeout = d
		}
	}
	if v := os.Getenv("DESKMATE_MODEL_ENABLED"); v != "" {
		cfg.Model.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DESKMATE_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("DESKMATE_MODEL_NAME"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("DESKMATE_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("DESKMATE_MODEL_API_KEY"); v != "" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("DESKMATE_GATEWAY_ENABLED"); v != "" {
		cfg.Gateway.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DESKMATE_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("DESKMATE_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv("DESKMATE_GATEWAY_TRUSTED_PROXIES"); v != "" {
		cfg.Gateway.RateLimit.TrustedProxies = splitAndTrim(v, ",")
	}
	if v := os.Getenv("DESKMATE_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DESKMATE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DESKMATE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DESKMATE_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("DESKMATE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("DESKMATE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces every "enc:" value with its plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name string
		ptr  *string
	}{
		{"model.api_key", &cfg.Model.APIKey},
		{"gateway.token", &cfg.Gateway.Token},
	}
	for _, s := range secrets {
		if !strings.HasPrefix(*s.ptr, encPrefix) {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(*s.ptr, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.ptr = plain
	}
	return nil
}

// EncryptValue encrypts plaintext with AES-256-GCM under a key derived from
// passphrase. Store the result in YAML with the "enc:" prefix.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// hex(salt) ":" hex(nonce || ciphertext)
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
