package provider

import (
	"context"
	"fmt"
	"log/slog"
)

// NewBackend validates and constructs the provider for backend b.
func NewBackend(ctx context.Context, cfg *Config, b Backend) (Provider, error) {
	if err := cfg.ValidateBackend(b); err != nil {
		return nil, err
	}
	switch b {
	case BackendMock:
		return newMock(cfg), nil
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendGemini:
		return newGemini(ctx, cfg)
	case BackendArk:
		return newArk(ctx, cfg)
	case BackendLMStudio:
		return newLMStudio(ctx, cfg)
	case BackendOpenRouter:
		return newOpenRouter(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q: %w", b, ErrUnknownProvider)
	}
}

// BuildRegistry registers mock plus every backend whose configuration
// validates. The default and embedding backends must be among them.
func BuildRegistry(ctx context.Context, cfg *Config, log *slog.Logger) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := NewRegistry()
	for _, b := range AllBackends {
		if err := cfg.ValidateBackend(b); err != nil {
			log.Debug("provider: backend not configured", slog.String("backend", string(b)), slog.String("reason", err.Error()))
			continue
		}
		p, err := NewBackend(ctx, cfg, b)
		if err != nil {
			if b == cfg.Backend || b == cfg.Embedding.Backend {
				return nil, err
			}
			log.Warn("provider: backend construction failed", slog.String("backend", string(b)), slog.String("error", err.Error()))
			continue
		}
		reg.Register(p)
	}
	log.Info("provider: registry built",
		slog.String("default", string(cfg.Backend)),
		slog.String("embedding", string(cfg.Embedding.Backend)),
		slog.Any("registered", reg.Names()),
	)
	return reg, nil
}

// Rebuild constructs backend b from cfg and replaces its registry entry.
func Rebuild(ctx context.Context, reg *Registry, cfg *Config, b Backend) error {
	p, err := NewBackend(ctx, cfg, b)
	if err != nil {
		return err
	}
	reg.Register(p)
	return nil
}
