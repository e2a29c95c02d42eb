package providermock

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory provider.Repository for tests.
type Repository struct {
	mu        sync.Mutex
	providers map[string]provider.Provider
	nextID    int64

	getErr, listErr, countErr, createErr, updateErr, deleteErr error
}

func WithProvider(p provider.Provider) RepositoryOption {
	return func(r *Repository) { r.put(p) }
}
func WithGetError(err error) RepositoryOption {
	return func(r *Repository) { r.getErr = err }
}
func WithListError(err error) RepositoryOption {
	return func(r *Repository) { r.listErr = err }
}
func WithCountError(err error) RepositoryOption {
	return func(r *Repository) { r.countErr = err }
}
func WithCreateError(err error) RepositoryOption {
	return func(r *Repository) { r.createErr = err }
}
func WithUpdateError(err error) RepositoryOption {
	return func(r *Repository) { r.updateErr = err }
}
func WithDeleteError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteErr = err }
}

var _ = provider.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		providers: make(map[string]provider.Provider),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TGet is a helper method for tests to read a stored row directly.
func (r *Repository) TGet(name string) (provider.Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	return clone(p), ok
}

// TLen is a helper method for tests to count the stored rows.
func (r *Repository) TLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.providers)
}

func (r *Repository) Get(_ context.Context, name string) (provider.Provider, error) {
	if r.getErr != nil {
		return provider.Provider{}, r.getErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return provider.Provider{}, serviceerr.ErrNotFound
	}
	return clone(p), nil
}

func (r *Repository) List(_ context.Context) ([]provider.Provider, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]provider.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, clone(p))
	}
	slices.SortFunc(out, func(a, b provider.Provider) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (r *Repository) Count(_ context.Context) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.providers), nil
}

func (r *Repository) Create(_ context.Context, p provider.Provider) (provider.Provider, error) {
	if r.createErr != nil {
		return provider.Provider{}, r.createErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[p.Name]; ok {
		return provider.Provider{}, serviceerr.ErrConflict
	}
	return clone(r.put(p)), nil
}

func (r *Repository) Update(_ context.Context, name string, fn provider.UpdateFunc) (provider.Provider, error) {
	if r.updateErr != nil {
		return provider.Provider{}, r.updateErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.providers[name]
	if !ok {
		return provider.Provider{}, serviceerr.ErrNotFound
	}

	p, err := fn(clone(existing))
	if err != nil {
		return provider.Provider{}, err
	}

	p.ID = existing.ID
	p.Name = existing.Name
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	r.providers[name] = clone(p)
	return clone(p), nil
}

func (r *Repository) Delete(_ context.Context, name string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.providers) <= 1 {
		return serviceerr.ErrInvalidState
	}
	if _, ok := r.providers[name]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.providers, name)
	return nil
}

func (r *Repository) put(p provider.Provider) provider.Provider {
	r.nextID++
	now := time.Now().UTC()

	p.ID = r.nextID
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.AdditionalParams == nil {
		p.AdditionalParams = map[string]string{}
	}
	r.providers[p.Name] = clone(p)
	return p
}

func clone(p provider.Provider) provider.Provider {
	p.Scopes = slices.Clone(p.Scopes)
	p.AdditionalParams = maps.Clone(p.AdditionalParams)
	return p
}
