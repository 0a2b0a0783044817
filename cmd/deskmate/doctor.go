package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deskmate/internal/adapter/llm"
	"deskmate/internal/adapter/patternstore"
	"deskmate/internal/infra/config"
	"deskmate/internal/infra/logger"
	"deskmate/internal/usecase/scheduling"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

const probeTimeout = 3 * time.Second

// runDoctor executes all health checks and reports results.
func runDoctor(ctx context.Context, cfgPath string, out io.Writer) error {
	// Some checks work without a valid config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Data directory", Fn: checkDataDir},
		{Name: "Pattern store", Fn: checkPatternStore},
		{Name: "Backups", Fn: checkBackups},
		{Name: "Intent model", Fn: checkModel},
		{Name: "Gateway", Fn: checkGateway},
	}

	fmt.Fprintln(out, "deskmate doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(out, "\ndeskmate should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(out, "\nAll checks passed.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
}

// checkConfigFile reports whether the config file exists and loads.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			var verr *config.ValidationError
			fix := "Check the YAML syntax of " + cfgPath
			if errors.As(cfgErr, &verr) {
				fix = "Correct the listed settings"
			}
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fix,
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s, using defaults", cfgPath),
				Fix:     "Create " + cfgPath + " or set DESKMATE_CONFIG",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkDataDir verifies the data directory exists (creating it if needed)
// and is writable.
func checkDataDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	dir, _ := filepath.Abs(cfg.DataDir)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s cannot be created: %v", dir, err),
			Fix:     "Set data_dir to a writable location",
		}
	}
	probe := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s is not writable: %v", dir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", dir),
		}
	}
	os.Remove(probe)

	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s writable", dir)}
}

// checkPatternStore validates the store contents without modifying them.
func checkPatternStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	path := cfg.StorePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("no %s store yet at %s; it will be created on first use", cfg.Store.Backend, path),
		}
	}

	if cfg.Store.Backend == "sqlite" {
		s, err := patternstore.NewSQLiteStore(path, patternstore.WithLogger(logger.Discard()))
		if err != nil {
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot open %s: %v", path, err)}
		}
		defer s.Close()
		st, err := s.Stats(ctx)
		if err != nil {
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot read %s: %v", path, err)}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d patterns in %s", st.TotalPatterns, path)}
	}

	snap, err := patternstore.ReadSnapshotFile(path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is invalid: %v", path, err),
			Fix:     "Restore a snapshot with 'deskmate import <backup>'",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d patterns, %d interactions in %s", len(snap.Patterns), len(snap.Interactions), path),
	}
}

func checkBackups(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	m := &scheduling.Maintenance{BackupDir: cfg.BackupDir()}
	backups, err := m.Backups()
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("cannot list backups: %v", err)}
	}
	if len(backups) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no backups yet",
			Fix:     "Run 'deskmate backup' or enable the scheduler",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d backups, latest %s", len(backups), filepath.Base(backups[len(backups)-1])),
	}
}

// checkModel probes Ollama; other providers are only checked for a key.
func checkModel(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	mc := cfg.Model
	if !mc.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled, routing uses rules and patterns only"}
	}

	switch mc.Provider {
	case "", llm.ProviderOllama:
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		p := llm.NewOllamaProvider(mc, logger.Discard())
		if !p.IsHealthy(ctx) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("Ollama not reachable at %s; routing falls back to rules", mc.BaseURL),
				Fix:     "Start Ollama with 'ollama serve'",
			}
		}
		ok, err := p.HasModel(ctx)
		if err != nil || !ok {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("model %s not installed", mc.Model),
				Fix:     "Run 'ollama pull " + mc.Model + "'",
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("Ollama up, model %s available", mc.Model)}
	default:
		if mc.APIKey == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("no API key for provider %s", mc.Provider),
				Fix:     "Set model.api_key or DESKMATE_MODEL_API_KEY",
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s configured with model %s", mc.Provider, mc.Model)}
	}
}

// checkGateway verifies the listen address is free.
func checkGateway(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	gw := cfg.Gateway
	if !gw.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	ln, err := net.Listen("tcp", gw.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot listen on %s: %v", gw.Addr, err),
			Fix:     "Stop the other process or change gateway.addr",
		}
	}
	ln.Close()

	msg := fmt.Sprintf("%s available", gw.Addr)
	if gw.Token == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: msg + ", no token set",
			Fix:     "Set gateway.token to require bearer auth",
		}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}
