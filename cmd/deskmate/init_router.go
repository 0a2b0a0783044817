package main

import (
	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
	"deskmate/internal/usecase/agents"
	"deskmate/internal/usecase/classifier"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

// initRouter builds the agents, classifier, learner and orchestrator.
func (a *app) initRouter(predictor domain.IntentPredictor) error {
	cfg := a.cfg

	overrides := make(map[string]agents.Override, len(cfg.Agents))
	for id, o := range cfg.Agents {
		overrides[id] = agents.Override{Disabled: o.Disabled, Priority: o.Priority, Keywords: o.Keywords}
	}
	built, err := agents.Build(agents.Builtin(), overrides, cfg.Router.FallbackAgent)
	if err != nil {
		return err
	}
	registry := multiagent.NewRegistry(cfg.Router.FallbackAgent, logger.Component(a.log, "registry"))
	for _, ag := range built {
		if err := registry.Register(ag); err != nil {
			return err
		}
	}

	copts := []classifier.Option{
		classifier.WithEventBus(a.bus),
		classifier.WithLogger(logger.Component(a.log, "classifier")),
	}
	if predictor != nil {
		copts = append(copts, classifier.WithPredictor(predictor))
	}
	cls := classifier.New(a.store, classifier.Config{
		ModelThreshold:        cfg.Classifier.ModelThreshold,
		ModelTimeout:          cfg.Classifier.ModelTimeout,
		MinPatternSuccessRate: cfg.Classifier.MinPatternSuccessRate,
	}, copts...)

	a.learner = learning.New(a.store,
		learning.WithSeedConfidence(cfg.Learning.SeedConfidence),
		learning.WithEventBus(a.bus),
		learning.WithLogger(logger.Component(a.log, "learning")),
	)

	broker := multiagent.NewBroker(logger.Component(a.log, "broker"))
	if _, err := registry.Get(agents.GeneralID); err == nil {
		broker.Register(agents.GeneralID, agents.NewGeneralResponder(registry.List))
	}

	a.orch, err = multiagent.New(registry, cls, a.learner, multiagent.Config{
		ContextSize:  cfg.Router.ContextSize,
		ContextTTL:   cfg.Router.ContextTTL,
		ContextBonus: cfg.Router.ContextBonus,
		MaxPending:   cfg.Router.MaxPending,
	},
		multiagent.WithEventBus(a.bus),
		multiagent.WithLogger(logger.Component(a.log, "orchestrator")),
		multiagent.WithBroker(broker),
	)
	return err
}
