package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/aiotvet-go/internal/budget"
	"github.com/54b3r/aiotvet-go/internal/embedder"
	"github.com/54b3r/aiotvet-go/internal/ingestion"
	"github.com/54b3r/aiotvet-go/internal/llmrouter"
	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/rag"
	"github.com/54b3r/aiotvet-go/internal/settings"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// Vector index backends selected by VECTOR_INDEX.
const (
	indexMemory = "memory"
	indexQdrant = "qdrant"
)

// app is the set of components shared by every command that touches the
// knowledge base or generates answers.
type app struct {
	log         *slog.Logger
	store       *store.Store
	providerCfg *provider.Config
	providers   *provider.Registry
	settings    *settings.Service
	index       rag.Index
	qdrant      *rag.QdrantIndex
	retriever   *rag.Retriever
	pipeline    *ingestion.Pipeline
	router      *llmrouter.Router
}

// openApp opens the store, builds the provider registry and vector index and
// wires retrieval, ingestion and generation on top. Call close when done.
func openApp(ctx context.Context, log *slog.Logger) (*app, error) {
	a := &app{log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	dbCfg, err := store.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	a.store, err = store.OpenFromConfig(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dbCfg.Driver, err)
	}
	log.Info("store opened", slog.String("driver", dbCfg.Driver))

	a.providerCfg = provider.ConfigFromEnv()
	if err := embedder.ValidateModel(a.providerCfg.Embedding.Model); err != nil {
		return nil, err
	}
	a.providers, err = provider.BuildRegistry(ctx, a.providerCfg, log)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}

	a.settings, err = settings.New(ctx, a.store, settings.Defaults(a.providerCfg), a.providers.Has)
	if err != nil {
		return nil, err
	}
	a.settings.AddHook(settings.NewProviderRebuilder(a.providers, a.providerCfg).Hook)

	if err := a.openIndex(ctx); err != nil {
		return nil, err
	}

	emb := a.providers.Embedder(string(a.providerCfg.Embedding.Backend), a.providerCfg.Embedding.Model)
	a.retriever, err = rag.NewRetriever(emb, a.index, a.store)
	if err != nil {
		return nil, err
	}
	a.pipeline, err = ingestion.NewPipeline(a.store, a.index, emb, &ingestion.Config{
		ChunkSize: envInt("INGEST_CHUNK_SIZE", ingestion.DefaultChunkSize),
	})
	if err != nil {
		return nil, err
	}
	a.router, err = llmrouter.New(llmrouter.Config{
		Providers:        a.providers,
		Settings:         a.settings,
		Retriever:        a.retriever,
		MaxContextTokens: budget.MaxContextTokensFromEnv(),
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// openIndex connects the configured vector index. The in-memory index is
// rebuilt from the embeddings persisted with each chunk.
func (a *app) openIndex(ctx context.Context) error {
	switch kind := strings.ToLower(envOr("VECTOR_INDEX", indexMemory)); kind {
	case indexMemory:
		mem := rag.NewMemoryIndex()
		chunks, err := a.store.ListAllChunks(ctx)
		if err != nil {
			return fmt.Errorf("load chunks: %w", err)
		}
		n, err := rag.LoadIndex(ctx, mem, chunks)
		if err != nil {
			return fmt.Errorf("load memory index: %w", err)
		}
		a.index = mem
		a.log.Info("vector index loaded", slog.String("index", indexMemory), slog.Int("entries", n))
	case indexQdrant:
		cfg, err := rag.QdrantConfigFromEnv()
		if err != nil {
			return err
		}
		q, err := rag.NewQdrantIndex(cfg)
		if err != nil {
			return fmt.Errorf("connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		a.index, a.qdrant = q, q
		a.log.Info("vector index ready", slog.String("index", indexQdrant),
			slog.String("host", cfg.Host), slog.String("collection", cfg.Collection))
	default:
		return fmt.Errorf("VECTOR_INDEX %q: want %s or %s", kind, indexMemory, indexQdrant)
	}
	return nil
}

func (a *app) close() {
	var errs []error
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown: close failed", slog.Any("error", err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}
