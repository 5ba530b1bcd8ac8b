// Package audit writes one structured line per CLI invocation: which command
// ran, which config file was used, and the effective environment. Secrets are
// reported only as "set" or "unset", and credentials embedded in connection
// URLs are stripped.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// kind controls how a value is rendered.
type kind int

const (
	plain  kind = iota
	secret      // presence only
	dsn         // URL with the password removed
)

// auditKeys is the ordered list of env vars included in every entry.
var auditKeys = []struct {
	key  string
	kind kind
}{
	{"MODEL_PROVIDER", plain},
	{"MODEL_NAME", plain},
	{"MODEL_TIMEOUT", plain},
	{"OPENAI_API_KEY", secret},
	{"OPENAI_BASE_URL", plain},
	{"AZURE_OPENAI_API_KEY", secret},
	{"AZURE_OPENAI_ENDPOINT", plain},
	{"AZURE_OPENAI_DEPLOYMENT", plain},
	{"OLLAMA_HOST", plain},
	{"OLLAMA_MODEL", plain},
	{"GOOGLE_API_KEY", secret},
	{"GEMINI_MODEL", plain},
	{"ARK_API_KEY", secret},
	{"ARK_MODEL", plain},
	{"LM_STUDIO_URL", plain},
	{"OPENROUTER_API_KEY", secret},
	{"OPENROUTER_MODEL", plain},
	{"EMBEDDING_PROVIDER", plain},
	{"EMBEDDING_MODEL", plain},
	{"CONFIDENCE_THRESHOLD", plain},
	{"VECTOR_INDEX", plain},
	{"QDRANT_HOST", plain},
	{"QDRANT_COLLECTION", plain},
	{"QDRANT_API_KEY", secret},
	{"DATABASE_DRIVER", plain},
	{"DATABASE_URL", dsn},
	{"REDIS_URL", dsn},
	{"AIOTVET_API_KEY", secret},
	{"WEB_ORIGIN", plain},
	{"LOG_LEVEL", plain},
	{"LOG_FORMAT", plain},
	{"LANGFUSE_PUBLIC_KEY", secret},
	{"LANGFUSE_SECRET_KEY", secret},
}

// LogCommandStart emits the audit entry for command.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, e := range auditKeys {
		attrs = append(attrs, slog.String(e.key, render(e.kind, os.Getenv(e.key))))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value the way the audit entry would for key. Unknown
// keys are shown as-is.
func SanitiseKey(key, value string) string {
	for _, e := range auditKeys {
		if e.key == key {
			return render(e.kind, value)
		}
	}
	return valOrUnset(value)
}

func render(k kind, v string) string {
	switch k {
	case secret:
		return presence(v)
	case dsn:
		return redactURL(v)
	default:
		return valOrUnset(v)
	}
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// redactURL drops the password from a connection URL. Values that are not
// URLs with a scheme, such as sqlite file paths, pass through.
func redactURL(v string) string {
	if v == "" {
		return "unset"
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if strings.Contains(v, "password=") {
			return "set"
		}
		return v
	}
	return u.Redacted()
}

// sanitiseConfigPath returns the config path with the home directory
// abbreviated, or "none".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
