package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/nholik/stack-updater/internal/compose"
	"github.com/nholik/stack-updater/internal/config"
	"github.com/nholik/stack-updater/internal/gitrepo"
	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/reconcile"
	"github.com/nholik/stack-updater/internal/refresh"
	"github.com/nholik/stack-updater/internal/restart"
	"github.com/nholik/stack-updater/internal/stack"
	"github.com/nholik/stack-updater/internal/update"
	"github.com/nholik/stack-updater/internal/version"
	"github.com/rs/zerolog"
)

// BuildStacks wires a pipeline for every configured stack. docker may be nil,
// in which case prune requests are skipped and verification has no counting
// fallback.
func BuildStacks(logger zerolog.Logger, cfg config.Config, stacks []config.StackConfig, docker *stack.DockerClient) ([]Stack, error) {
	built := make([]Stack, 0, len(stacks))
	var errs []error
	for _, sc := range stacks {
		entry, err := BuildStack(logger, cfg, sc, docker)
		if err != nil {
			errs = append(errs, fmt.Errorf("stack %s: %w", sc.Name, err))
			continue
		}
		built = append(built, entry)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return built, nil
}

// BuildStack wires the pipeline for one stack.
func BuildStack(logger zerolog.Logger, cfg config.Config, sc config.StackConfig, docker *stack.DockerClient) (Stack, error) {
	logger = logger.With().Str("stack", sc.Name).Logger()

	repo, err := gitrepo.Open(sc.SourceDir, sc.Remote, sc.Branch)
	if err != nil {
		return Stack{}, err
	}

	var deployed, latest version.Source
	if len(sc.SelfReportURLs) > 0 {
		source, err := version.NewSelfReportSource(sc.SelfReportURLs, cfg.LookupTimeout)
		if err != nil {
			return Stack{}, err
		}
		deployed = source
	}
	if sc.ReleaseRepo != "" {
		source, err := version.NewGitHubReleaseSource(sc.ReleaseRepo, cfg.GitHubToken, cfg.GitHubAPIURL, 0)
		if err != nil {
			return Stack{}, err
		}
		latest = source
	}
	resolver := version.NewResolver(logger, deployed, repo, latest)

	cli := stack.NewCompose(sc.SourceDir, sc.ComposeFile, sc.Project,
		stack.WithBinary(cfg.ComposeBinary),
		stack.WithBuildTimeout(cfg.BuildTimeout),
		stack.WithLifecycleTimeout(cfg.RestartTimeout),
	)

	var pruner restart.Pruner
	verifierOpts := []health.Option{
		health.WithSettleDelay(cfg.VerifyDelay),
		health.WithServiceLoader(func(ctx context.Context) ([]compose.Service, error) {
			manifest, err := compose.Load(ctx, sc.SourceDir, sc.ComposeFile, sc.Project)
			if err != nil {
				return nil, err
			}
			return manifest.Services, nil
		}),
	}
	if docker != nil {
		pruner = docker
		verifierOpts = append(verifierOpts, health.WithCounter(docker))
	}

	orchestrator, err := update.New(logger, sc.Name, update.Components{
		Versions:   resolver,
		Reconciler: reconcile.New(logger, repo),
		Repository: repo,
		Images:     refresh.New(logger, cli),
		Restarter:  restart.New(logger, cli, pruner),
		Verifier:   health.NewVerifier(logger, cli, sc.Project, verifierOpts...),
		Manifest: func() (string, error) {
			return compose.Stat(sc.SourceDir, sc.ComposeFile)
		},
	})
	if err != nil {
		return Stack{}, err
	}

	return Stack{Config: sc, Updater: orchestrator, Checker: resolver}, nil
}
