package provider

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

// Registry is the in-memory set of active provider configurations used to
// build authentication clients. It is a cache of the Repository and is only
// correct as long as every store mutation is mirrored into it, which is the
// job of Service and Loader.
//
// All values are copied on the way in and out.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Config
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Config),
	}
}

// Register inserts or replaces the configuration stored under cfg.Name.
func (r *Registry) Register(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: provider name is empty", serviceerr.ErrValidation)
	}

	cfg = cfg.clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[cfg.Name] = cfg

	return nil
}

// Get returns the configuration registered under name.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.providers[name]
	if !ok {
		return Config{}, false
	}

	return cfg.clone(), true
}

// List returns all registered configurations ordered by name.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.providers))
	for _, cfg := range r.providers {
		out = append(out, cfg.clone())
	}

	slices.SortFunc(out, func(a, b Config) int { return strings.Compare(a.Name, b.Name) })

	return out
}

// Names returns the registered provider names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Remove drops name from the registry. Unknown names are ignored.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.providers, name)
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.providers)
}
