package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"deskmate/internal/adapter/patternstore"
	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
	"deskmate/internal/infra/logger"
)

// initStore opens the configured pattern store backend.
func initStore(cfg *config.Config, bus domain.EventBus, log *slog.Logger) (domain.PatternStore, error) {
	path := cfg.StorePath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := []patternstore.Option{
		patternstore.WithFlushEvery(cfg.Store.FlushEvery),
		patternstore.WithMaxInteractions(cfg.Store.MaxInteractions),
		patternstore.WithLogger(logger.Component(log, "patternstore")),
		patternstore.WithEventBus(bus),
	}

	switch cfg.Store.Backend {
	case "sqlite":
		s, err := patternstore.NewSQLiteStore(path, opts...)
		if err != nil {
			return nil, err
		}
		log.Info("pattern store opened", "backend", "sqlite", "path", path)
		return s, nil
	case "", "file":
		s, err := patternstore.NewFileStore(path, opts...)
		if err != nil {
			return nil, err
		}
		log.Info("pattern store opened", "backend", "file", "path", path)
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", domain.ErrInvalidInput, cfg.Store.Backend)
	}
}
