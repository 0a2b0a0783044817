package main

import (
	"errors"
	"fmt"
	"log/slog"

	"deskmate/internal/adapter/gateway"
	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
	"deskmate/internal/usecase/eventbus"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

// eventHistory is how many recent events the bus keeps for /api/v1/events.
const eventHistory = 200

// app is the wired application shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	bus     *eventbus.Bus
	store   domain.PatternStore
	learner *learning.Learner
	orch    *multiagent.Orchestrator
	model   gateway.HealthChecker // nil when the model is disabled
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		cfg: cfg,
		log: log,
		bus: eventbus.New(log, eventbus.WithHistory(eventHistory)),
	}

	store, err := initStore(cfg, a.bus, log)
	if err != nil {
		a.bus.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	a.store = store

	predictor, health, err := initLLM(cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.model = health

	if err := a.initRouter(predictor); err != nil {
		a.Close()
		return nil, fmt.Errorf("router: %w", err)
	}
	return a, nil
}

// Close flushes and closes the store, then stops the bus.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	a.bus.Close()
	return errors.Join(errs...)
}
