package settings

import (
	"context"
	"slices"
	"sync"

	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/provider"
)

// ProviderRebuilder reconstructs the OpenAI and LM Studio backends when their
// credentials change at runtime.
type ProviderRebuilder struct {
	mu  sync.Mutex
	reg *provider.Registry
	cfg provider.Config
}

// NewProviderRebuilder keeps a private copy of cfg.
func NewProviderRebuilder(reg *provider.Registry, cfg *provider.Config) *ProviderRebuilder {
	return &ProviderRebuilder{reg: reg, cfg: *cfg}
}

// Hook is registered with Service.AddHook.
func (r *ProviderRebuilder) Hook(ctx context.Context, next Snapshot, changed []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.cfg
	var rebuild []provider.Backend
	if slices.Contains(changed, KeyOpenAIKey) {
		cfg.OpenAI.APIKey = next.OpenAIKey
		if next.OpenAIKey != "" {
			rebuild = append(rebuild, provider.BackendOpenAI)
		}
	}
	if slices.Contains(changed, KeyLMStudioURL) {
		cfg.LMStudio.URL = next.LMStudioURL
		rebuild = append(rebuild, provider.BackendLMStudio)
	}
	for _, b := range rebuild {
		if err := provider.Rebuild(ctx, r.reg, &cfg, b); err != nil {
			return err
		}
		logging.FromContext(ctx).Info("settings: provider rebuilt", "provider", string(b))
	}
	r.cfg = cfg
	return nil
}
