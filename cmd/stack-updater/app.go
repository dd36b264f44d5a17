package main

import (
	"errors"
	"fmt"

	"github.com/nholik/stack-updater/internal/config"
	"github.com/nholik/stack-updater/internal/coordinator"
	"github.com/nholik/stack-updater/internal/logging"
	"github.com/nholik/stack-updater/internal/metrics"
	"github.com/nholik/stack-updater/internal/notify"
	"github.com/nholik/stack-updater/internal/stack"
	"github.com/nholik/stack-updater/internal/state"
	"github.com/rs/zerolog"
)

// app holds the wired components shared by every command.
type app struct {
	cfg         config.Config
	logger      zerolog.Logger
	docker      *stack.DockerClient
	metrics     *metrics.Metrics
	coordinator *coordinator.Coordinator
}

func newApp(stacksFile string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if stacksFile != "" {
		cfg.StacksFile = stacksFile
	}

	logger := logging.NewWithLevel(cfg.LogLevel)

	stacks, err := config.LoadStacksFile(cfg.StacksFile)
	if err != nil {
		return nil, fmt.Errorf("load stacks: %w", err)
	}

	docker, err := stack.NewDockerClient(stack.DockerOptions{
		Host:   cfg.DockerHost,
		TLSDir: cfg.DockerTLSDir,
	})
	if err != nil {
		// Compose still works through the CLI; only prune and the counting
		// fallback need the engine API.
		logger.Warn().Err(err).Msg("docker api client unavailable, prune and container counting disabled")
		docker = nil
	}

	var store state.Store = state.NewMemoryStore()
	if cfg.StateFile != "" {
		store = state.NewFileStore(cfg.StateFile, logger)
	}

	notifier, err := notify.Build(logger, notify.Settings{
		SlackWebhookURL: cfg.SlackWebhookURL,
		WebhookURL:      cfg.WebhookURL,
		WebhookTemplate: cfg.WebhookTemplate,
		DryRun:          cfg.DryRunNotify,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("build notifier: %w", err), closeDocker(docker))
	}

	metricsCollector := metrics.New()

	built, err := coordinator.BuildStacks(logger, cfg, stacks, docker)
	if err != nil {
		return nil, errors.Join(err, closeDocker(docker))
	}
	coord, err := coordinator.New(logger, built,
		coordinator.WithStore(store),
		coordinator.WithNotifier(notifier),
		coordinator.WithMetrics(metricsCollector),
	)
	if err != nil {
		return nil, errors.Join(err, closeDocker(docker))
	}

	logger.Info().
		Strs("stacks", coord.Stacks()).
		Dur("poll_interval", cfg.PollInterval).
		Bool("docker_api", docker != nil).
		Bool("persistent_state", cfg.StateFile != "").
		Msg("stack-updater configured")

	return &app{
		cfg:         cfg,
		logger:      logger,
		docker:      docker,
		metrics:     metricsCollector,
		coordinator: coord,
	}, nil
}

func (a *app) Close() error {
	return closeDocker(a.docker)
}

func closeDocker(docker *stack.DockerClient) error {
	if docker == nil {
		return nil
	}
	return docker.Close()
}
