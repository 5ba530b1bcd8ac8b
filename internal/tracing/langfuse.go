// Package tracing sends chat model traces to Langfuse when it is configured.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

const defaultHost = "https://cloud.langfuse.com"

// Config holds Langfuse credentials.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
	// Release tags every trace, normally the binary version.
	Release string
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// ConfigFromEnv reads LANGFUSE_PUBLIC_KEY, LANGFUSE_SECRET_KEY and
// LANGFUSE_HOST.
func ConfigFromEnv(release string) Config {
	c := Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
		Release:   release,
	}
	if c.Host == "" {
		c.Host = defaultHost
	}
	return c
}

// Install registers a global Langfuse callback handler so every eino chat
// model call is traced. The returned flush must run before exit. With
// tracing disabled it installs nothing and flush is a no-op.
func Install(cfg Config, log *slog.Logger) (flush func()) {
	if !cfg.Enabled() {
		log.Debug("tracing: langfuse disabled")
		return func() {}
	}
	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "aiotvet",
		Release:   cfg.Release,
	})
	callbacks.AppendGlobalHandlers(handler)
	log.Info("tracing: langfuse enabled", slog.String("host", cfg.Host))
	return flusher
}
