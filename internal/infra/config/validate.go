package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateStore(cfg, ve)
	validateRouter(cfg, ve)
	validateClassifier(cfg, ve)
	validateModel(cfg, ve)
	validateAgents(cfg, ve)
	validateGateway(cfg, ve)
	validateScheduler(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateStore(cfg *Config, ve *ValidationError) {
	switch cfg.Store.Backend {
	case "file", "sqlite":
	default:
		ve.Add("store.backend %q is invalid (want file or sqlite)", cfg.Store.Backend)
	}
	if cfg.Store.FlushEvery < 1 {
		ve.Add("store.flush_every must be >= 1")
	}
	if cfg.Store.MaxInteractions < 0 {
		ve.Add("store.max_interactions must be >= 0")
	}
	if cfg.Store.BackupKeep < 0 {
		ve.Add("store.backup_keep must be >= 0")
	}
	if cfg.DataDir == "" && (cfg.Store.Path == "" || cfg.Store.BackupDir == "") {
		ve.Add("data_dir is required unless store.path and store.backup_dir are set")
	}
}

func validateRouter(cfg *Config, ve *ValidationError) {
	r := cfg.Router
	if r.FallbackAgent == "" {
		ve.Add("router.fallback_agent is required")
	}
	if r.ContextSize < 0 {
		ve.Add("router.context_size must be >= 0")
	}
	if r.ContextSize > 0 && r.ContextTTL <= 0 {
		ve.Add("router.context_ttl must be > 0")
	}
	if r.ContextBonus < 0 {
		ve.Add("router.context_bonus must be >= 0")
	}
	if r.MaxPending < 1 {
		ve.Add("router.max_pending must be >= 1")
	}
}

func validateClassifier(cfg *Config, ve *ValidationError) {
	c := cfg.Classifier
	if c.ModelThreshold <= 0 || c.ModelThreshold > 1 {
		ve.Add("classifier.model_threshold must be in (0, 1]")
	}
	if c.ModelTimeout <= 0 {
		ve.Add("classifier.model_timeout must be > 0")
	}
	if c.MinPatternSuccessRate < 0 || c.MinPatternSuccessRate > 1 {
		ve.Add("classifier.min_pattern_success_rate must be in [0, 1]")
	}
	if s := cfg.Learning.SeedConfidence; s <= 0 || s > 1 {
		ve.Add("learning.seed_confidence must be in (0, 1]")
	}
}

func validateModel(cfg *Config, ve *ValidationError) {
	m := cfg.Model
	if !m.Enabled {
		return
	}
	switch m.Provider {
	case "", "ollama":
	case "openai":
		if m.APIKey == "" && m.BaseURL == "" {
			ve.Add("model.api_key is required for the hosted openai endpoint")
		}
	default:
		ve.Add("model.provider %q is invalid (want ollama or openai)", m.Provider)
	}
	if m.Model == "" {
		ve.Add("model.model is required when the model is enabled")
	}
	if m.BaseURL != "" {
		if u, err := url.Parse(m.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("model.base_url %q is not an absolute URL", m.BaseURL)
		}
	}
	if strings.HasPrefix(m.APIKey, encPrefix) {
		ve.Add("model.api_key is encrypted but DESKMATE_CONFIG_KEY is not set")
	}
	if m.ConnTimeout < 0 || m.RespTimeout < 0 {
		ve.Add("model timeouts must be >= 0")
	}
	if m.RateLimit.Burst < 0 {
		ve.Add("model.rate_limit.burst must be >= 0")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	for id, o := range cfg.Agents {
		if id == "" {
			ve.Add("agents: empty agent id")
			continue
		}
		if o.Disabled && id == cfg.Router.FallbackAgent {
			ve.Add("agents.%s: the fallback agent cannot be disabled", id)
		}
		if o.Priority < 0 {
			ve.Add("agents.%s.priority must be >= 0", id)
		}
		for i, kw := range o.Keywords {
			if strings.TrimSpace(kw) == "" {
				ve.Add("agents.%s.keywords[%d] is empty", id, i)
			}
		}
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if !g.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(g.Addr); err != nil {
		ve.Add("gateway.addr %q is not host:port: %v", g.Addr, err)
	}
	if strings.HasPrefix(g.Token, encPrefix) {
		ve.Add("gateway.token is encrypted but DESKMATE_CONFIG_KEY is not set")
	}
	if g.RateLimit.RequestsPerMin < 0 || g.RateLimit.BurstSize < 0 {
		ve.Add("gateway.rate_limit values must be >= 0")
	}
	for _, p := range g.RateLimit.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			ve.Add("gateway.rate_limit.trusted_proxies: %q is not an IP or CIDR", p)
		}
	}
}

var schedulerActions = map[string]bool{
	"pattern_flush":  true,
	"pattern_backup": true,
	"session_prune":  true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	seen := make(map[string]bool)
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		} else if seen[t.Name] {
			ve.Add("scheduler.tasks[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if !schedulerActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid", i, t.Action)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "stdout", "stderr", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be in [0, 1]")
	}
}
