package version

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Source yields a single version fact.
type Source interface {
	Version(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

// Version implements Source.
func (f SourceFunc) Version(ctx context.Context) (string, error) {
	return f(ctx)
}

// Resolver gathers version facts and decides whether an update is warranted.
type Resolver struct {
	logger   zerolog.Logger
	deployed Source
	local    Source
	latest   Source
}

// NewResolver constructs a Resolver. Any source may be nil, in which case that fact is always unknown.
func NewResolver(logger zerolog.Logger, deployed, local, latest Source) *Resolver {
	return &Resolver{
		logger:   logger,
		deployed: deployed,
		local:    local,
		latest:   latest,
	}
}

// Gather queries all sources concurrently. A failing source leaves its fact empty.
func (r *Resolver) Gather(ctx context.Context) Facts {
	var facts Facts
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		facts.Deployed = r.lookup(gctx, "deployed", r.deployed)
		return nil
	})
	g.Go(func() error {
		facts.Local = r.lookup(gctx, "local", r.local)
		return nil
	})
	g.Go(func() error {
		facts.Latest = r.lookup(gctx, "latest", r.latest)
		return nil
	})
	_ = g.Wait()

	return facts
}

// Resolve gathers facts and compares them.
func (r *Resolver) Resolve(ctx context.Context) (Facts, Comparison) {
	facts := r.Gather(ctx)
	comparison := Decide(facts)

	r.logger.Debug().
		Str("deployed", facts.Deployed).
		Str("local", facts.Local).
		Str("latest", facts.Latest).
		Bool("update_needed", comparison.UpdateNeeded).
		Str("reason", comparison.Reason).
		Msg("version facts resolved")

	return facts, comparison
}

func (r *Resolver) lookup(ctx context.Context, fact string, source Source) string {
	if source == nil {
		return ""
	}
	value, err := source.Version(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Str("fact", fact).Msg("version lookup failed")
		return ""
	}
	return strings.TrimSpace(value)
}
