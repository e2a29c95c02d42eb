package provider

import (
	"context"
	"fmt"
	"sync"

	slogctx "github.com/veqryn/slog-context"
)

// Service implements the provider admin operations. Each mutation commits
// to the Repository first and only then makes exactly one Registry call, so
// a failed store write never leaves a registry entry without durable backing.
type Service struct {
	repository Repository
	registry   *Registry

	// mu keeps each store write paired with its registry call, so the
	// registry sees commits in store order.
	mu sync.Mutex
}

func NewService(repo Repository, registry *Registry) *Service {
	return &Service{
		repository: repo,
		registry:   registry,
	}
}

// List returns the public projection of every stored provider. The store is
// the source of truth here; the registry may lag behind it during startup.
func (s *Service) List(ctx context.Context) ([]View, error) {
	providers, err := s.repository.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}

	views := make([]View, 0, len(providers))
	for _, p := range providers {
		views = append(views, p.View())
	}

	return views, nil
}

func (s *Service) Get(ctx context.Context, name string) (View, error) {
	p, err := s.repository.Get(ctx, name)
	if err != nil {
		return View{}, fmt.Errorf("getting provider: %w", err)
	}

	return p.View(), nil
}

// Create stores a new provider and registers it. It fails with
// serviceerr.ErrConflict when the name is taken.
func (s *Service) Create(ctx context.Context, req CreateRequest) (View, error) {
	p := req.provider()
	if err := validate(p); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.repository.Create(ctx, p)
	if err != nil {
		return View{}, fmt.Errorf("creating provider: %w", err)
	}

	s.mirror(ctx, created)
	slogctx.Info(ctx, "Created OIDC provider", "provider", created.Name)

	return created.View(), nil
}

// Update applies a partial update to an existing provider and replaces its
// registry entry. It fails with serviceerr.ErrNotFound for unknown names.
func (s *Service) Update(ctx context.Context, name string, patch Patch) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := s.repository.Update(ctx, name, func(current Provider) (Provider, error) {
		p := patch.apply(current)
		if err := validate(p); err != nil {
			return Provider{}, err
		}
		return p, nil
	})
	if err != nil {
		return View{}, fmt.Errorf("updating provider: %w", err)
	}

	s.mirror(ctx, updated)
	slogctx.Info(ctx, "Updated OIDC provider", "provider", updated.Name)

	return updated.View(), nil
}

// Delete removes a provider from the store and then from the registry.
// The last remaining provider cannot be deleted; the store checks that in
// the same transaction as the delete.
func (s *Service) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repository.Delete(ctx, name); err != nil {
		return fmt.Errorf("deleting provider %q: %w", name, err)
	}

	s.registry.Remove(name)
	slogctx.Info(ctx, "Deleted OIDC provider", "provider", name)

	return nil
}

// mirror replaces the registry entry of a freshly committed row.
func (s *Service) mirror(ctx context.Context, p Provider) {
	// Committed rows always carry a name, so this only fails on a broken store.
	if err := s.registry.Register(p.Config()); err != nil {
		slogctx.Error(ctx, "Failed to register committed provider", "provider", p.Name, "error", err)
	}
}
