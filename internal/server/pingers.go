package server

import (
	"context"
	"fmt"

	"github.com/54b3r/aiotvet-go/internal/provider"
)

// ProviderPinger reports whether the provider selected by the current
// settings is registered. It never calls the backend.
type ProviderPinger struct {
	registry *provider.Registry
	active   func() string
}

// NewProviderPinger constructs a ProviderPinger. active returns the name of
// the provider currently selected, typically from the settings snapshot.
func NewProviderPinger(reg *provider.Registry, active func() string) *ProviderPinger {
	return &ProviderPinger{registry: reg, active: active}
}

// Name returns the dependency label used in readiness responses.
func (p *ProviderPinger) Name() string { return "llm" }

// Ping fails when the active provider has no registry entry.
func (p *ProviderPinger) Ping(context.Context) error {
	name := p.active()
	if !p.registry.Has(name) {
		return fmt.Errorf("provider %q: %w", name, provider.ErrUnknownProvider)
	}
	return nil
}
