package provider

import (
	"context"
	"fmt"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

// LoadResult reports the outcome of a registry load. Err is set when the
// store could not be read; Names is empty in that case.
type LoadResult struct {
	Names []string
	Err   error
}

// Failed reports whether the store could not be read.
func (r LoadResult) Failed() bool {
	return r.Err != nil
}

// Loader populates a Registry from a Repository. It reads a single logical
// store; iterating tenants of a multi-tenant deployment is not supported.
type Loader struct {
	repository Repository
	registry   *Registry
}

// NewLoader returns a loader that fills registry from repo.
func NewLoader(repo Repository, registry *Registry) *Loader {
	return &Loader{
		repository: repo,
		registry:   registry,
	}
}

// Load registers every stored provider. It never returns an error so that
// an unreachable or not yet migrated store cannot block startup; callers
// inspect the result and decide on a fallback.
func (l *Loader) Load(ctx context.Context) LoadResult {
	providers, err := l.repository.List(ctx)
	if err != nil {
		slogctx.Debug(ctx, "Skipping provider load from the store", "error", err)
		return LoadResult{Err: fmt.Errorf("%w: listing providers: %w", serviceerr.ErrUnavailable, err)}
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		cfg := p.Config()
		cfg.Scopes = NormalizeScopes(cfg.Scopes)

		if err := l.registry.Register(cfg); err != nil {
			slogctx.Warn(ctx, "Skipping stored provider", "provider", p.Name, "error", err)
			continue
		}

		names = append(names, p.Name)
	}

	if len(names) > 0 {
		slogctx.Info(ctx, "Loaded OIDC providers from the store", "count", len(names), "providers", strings.Join(names, ","))
	}

	return LoadResult{Names: names}
}
