package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider names to providers. It is constructed once at
// startup and passed to the components that need it. Registering an existing
// name replaces the provider, which is how a runtime switch takes effect.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces p under p.Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider: %q: %w", name, ErrUnknownProvider)
	}
	return p, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Embedder returns a view that embeds through the provider registered under
// name, resolved on every call so a re-registered backend takes effect
// immediately. The result satisfies rag.Embedder.
func (r *Registry) Embedder(name, model string) *RegistryEmbedder {
	return &RegistryEmbedder{reg: r, name: name, model: model}
}

// RegistryEmbedder embeds through a named provider in a Registry.
type RegistryEmbedder struct {
	reg   *Registry
	name  string
	model string
}

// Embed resolves the provider and delegates to it.
func (e *RegistryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p, err := e.reg.Get(e.name)
	if err != nil {
		return nil, fmt.Errorf("provider: embed: %w: %w", ErrProviderFailure, err)
	}
	return p.Embed(ctx, texts, e.model)
}

// ProviderName reports which provider the embedder uses.
func (e *RegistryEmbedder) ProviderName() string { return e.name }
