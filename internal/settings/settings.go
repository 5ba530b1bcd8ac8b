// Package settings holds the runtime-tunable parameters of the answer
// pipeline: which provider answers, its model and sampling parameters, and
// the confidence threshold. Environment values are the defaults; overrides
// written through Update are persisted in the store and survive restarts.
package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/aiotvet-go/internal/confidence"
	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/provider"
)

// ErrInvalidSetting is returned when an override fails validation.
var ErrInvalidSetting = errors.New("invalid setting")

// Persisted override keys.
const (
	KeyLLMProvider         = "llm_provider"
	KeyModel               = "model"
	KeyTemperature         = "temperature"
	KeyMaxTokens           = "max_tokens"
	KeyConfidenceThreshold = "confidence_threshold"
	KeyLMStudioURL         = "lm_studio_url"
	KeyOpenAIKey           = "openai_key"
	KeyTimeoutSeconds      = "timeout_seconds"
)

// Snapshot is the effective configuration at one point in time.
type Snapshot struct {
	LLMProvider         string
	Model               string
	Temperature         float32
	MaxTokens           int
	ConfidenceThreshold float64
	LMStudioURL         string
	OpenAIKey           string
	Timeout             time.Duration
}

// Public is the JSON view of a Snapshot with secrets masked.
type Public struct {
	LLMProvider         string  `json:"llm_provider"`
	Model               string  `json:"model"`
	Temperature         float32 `json:"temperature"`
	MaxTokens           int     `json:"max_tokens"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	LMStudioURL         string  `json:"lm_studio_url"`
	OpenAIKey           string  `json:"openai_key"`
	TimeoutSeconds      int     `json:"timeout_seconds"`
}

// Public masks the OpenAI key down to its last four characters.
func (s Snapshot) Public() Public {
	return Public{
		LLMProvider:         s.LLMProvider,
		Model:               s.Model,
		Temperature:         s.Temperature,
		MaxTokens:           s.MaxTokens,
		ConfidenceThreshold: s.ConfidenceThreshold,
		LMStudioURL:         s.LMStudioURL,
		OpenAIKey:           mask(s.OpenAIKey),
		TimeoutSeconds:      int(s.Timeout / time.Second),
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	LLMProvider         *string  `json:"llm_provider,omitempty"`
	Model               *string  `json:"model,omitempty"`
	Temperature         *float32 `json:"temperature,omitempty"`
	MaxTokens           *int     `json:"max_tokens,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	LMStudioURL         *string  `json:"lm_studio_url,omitempty"`
	OpenAIKey           *string  `json:"openai_key,omitempty"`
	TimeoutSeconds      *int     `json:"timeout_seconds,omitempty"`
}

// DefaultsFromEnv builds the baseline Snapshot from the provider
// environment (see provider.ConfigFromEnv) plus CONFIDENCE_THRESHOLD.
func DefaultsFromEnv() Snapshot {
	return Defaults(provider.ConfigFromEnv())
}

// Defaults builds the baseline Snapshot from cfg. The model is the selected
// backend's own model.
func Defaults(cfg *provider.Config) Snapshot {
	s := Snapshot{
		LLMProvider:         string(cfg.Backend),
		Model:               cfg.ModelFor(cfg.Backend),
		Temperature:         cfg.Tuning.Temperature,
		MaxTokens:           cfg.Tuning.MaxTokens,
		ConfidenceThreshold: confidence.DefaultThreshold,
		LMStudioURL:         cfg.LMStudio.URL,
		OpenAIKey:           cfg.OpenAI.APIKey,
		Timeout:             cfg.Tuning.Timeout,
	}
	if v, err := strconv.ParseFloat(os.Getenv("CONFIDENCE_THRESHOLD"), 64); err == nil && v >= 0 && v <= 1 {
		s.ConfidenceThreshold = v
	}
	return s
}

// Store persists overrides.
type Store interface {
	Settings(ctx context.Context) (map[string]string, error)
	PutSettings(ctx context.Context, values map[string]string) error
}

// Hook runs during Update after validation and before the provider check
// and persistence. A non-nil error aborts the update. It is how credential
// changes rebuild a provider.
type Hook func(ctx context.Context, next Snapshot, changed []string) error

// Listener is told about every committed change.
type Listener func(ctx context.Context, prev, next Snapshot, changed []string)

// Service serves the current Snapshot and applies updates.
type Service struct {
	store      Store
	registered func(name string) bool

	// update serializes writers; mu guards current for readers.
	update    sync.Mutex
	mu        sync.RWMutex
	current   Snapshot
	hooks     []Hook
	listeners []Listener
}

// New loads persisted overrides on top of defaults. registered reports
// whether a provider name can be selected.
func New(ctx context.Context, store Store, defaults Snapshot, registered func(string) bool) (*Service, error) {
	s := &Service{store: store, registered: registered, current: defaults}
	stored, err := store.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w", err)
	}
	log := logging.FromContext(ctx)
	for k, v := range stored {
		if err := apply(&s.current, k, v); err != nil {
			log.Warn("settings: ignoring persisted override", "key", k, "error", err)
		}
	}
	return s, nil
}

// Snapshot returns the effective settings.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Threshold returns the current confidence threshold.
func (s *Service) Threshold() float64 {
	return s.Snapshot().ConfidenceThreshold
}

// AddHook registers a pre-commit hook.
func (s *Service) AddHook(h Hook) {
	s.update.Lock()
	defer s.update.Unlock()
	s.hooks = append(s.hooks, h)
}

// OnChange registers a listener for committed changes.
func (s *Service) OnChange(l Listener) {
	s.update.Lock()
	defer s.update.Unlock()
	s.listeners = append(s.listeners, l)
}

// Update validates every field of p, runs hooks, persists the changed keys
// and swaps the snapshot. Nothing is written when any step fails.
func (s *Service) Update(ctx context.Context, p Patch) (Snapshot, error) {
	s.update.Lock()
	defer s.update.Unlock()

	values := p.values()
	prev := s.Snapshot()
	if v, ok := values[KeyLLMProvider]; ok && v != prev.LLMProvider {
		if _, ok := values[KeyModel]; !ok {
			values[KeyModel] = ""
		}
	}
	next := prev
	changed := make([]string, 0, len(values))
	for k, v := range values {
		if err := apply(&next, k, v); err != nil {
			return Snapshot{}, err
		}
		changed = append(changed, k)
	}
	sort.Strings(changed)
	if len(changed) == 0 {
		return prev, nil
	}

	for _, h := range s.hooks {
		if err := h(ctx, next, changed); err != nil {
			return Snapshot{}, fmt.Errorf("settings: apply: %w", err)
		}
	}
	if s.registered != nil && !s.registered(next.LLMProvider) {
		return Snapshot{}, fmt.Errorf("settings: llm_provider %q is not registered: %w", next.LLMProvider, ErrInvalidSetting)
	}
	if err := s.store.PutSettings(ctx, values); err != nil {
		return Snapshot{}, fmt.Errorf("settings: persist: %w", err)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	logging.FromContext(ctx).Info("settings: updated", "keys", strings.Join(changed, ","))
	for _, l := range s.listeners {
		l(ctx, prev, next, changed)
	}
	return next, nil
}

// values renders the non-nil patch fields as persisted strings.
func (p Patch) values() map[string]string {
	out := make(map[string]string)
	if p.LLMProvider != nil {
		out[KeyLLMProvider] = *p.LLMProvider
	}
	if p.Model != nil {
		out[KeyModel] = *p.Model
	}
	if p.Temperature != nil {
		out[KeyTemperature] = strconv.FormatFloat(float64(*p.Temperature), 'f', -1, 32)
	}
	if p.MaxTokens != nil {
		out[KeyMaxTokens] = strconv.Itoa(*p.MaxTokens)
	}
	if p.ConfidenceThreshold != nil {
		out[KeyConfidenceThreshold] = strconv.FormatFloat(*p.ConfidenceThreshold, 'f', -1, 64)
	}
	if p.LMStudioURL != nil {
		out[KeyLMStudioURL] = *p.LMStudioURL
	}
	if p.OpenAIKey != nil {
		out[KeyOpenAIKey] = *p.OpenAIKey
	}
	if p.TimeoutSeconds != nil {
		out[KeyTimeoutSeconds] = strconv.Itoa(*p.TimeoutSeconds)
	}
	return out
}

// apply parses and validates one key into s.
func apply(s *Snapshot, key, value string) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("settings: %s: %s: %w", key, fmt.Sprintf(format, args...), ErrInvalidSetting)
	}
	switch key {
	case KeyLLMProvider:
		if strings.TrimSpace(value) == "" {
			return invalid("must not be empty")
		}
		s.LLMProvider = value
	case KeyModel:
		// Empty selects the backend's own default model.
		s.Model = strings.TrimSpace(value)
	case KeyTemperature:
		f, err := strconv.ParseFloat(value, 32)
		if err != nil || math.IsNaN(f) || f < 0 || f > 2 {
			return invalid("%q is not in [0,2]", value)
		}
		s.Temperature = float32(f)
	case KeyMaxTokens:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return invalid("%q is not a positive integer", value)
		}
		s.MaxTokens = n
	case KeyConfidenceThreshold:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) || f < 0 || f > 1 {
			return invalid("%q is not in [0,1]", value)
		}
		s.ConfidenceThreshold = f
	case KeyLMStudioURL:
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return invalid("%q is not an http(s) URL", value)
		}
		s.LMStudioURL = value
	case KeyOpenAIKey:
		s.OpenAIKey = value
	case KeyTimeoutSeconds:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return invalid("%q is not a positive integer", value)
		}
		s.Timeout = time.Duration(n) * time.Second
	default:
		return invalid("unknown key")
	}
	return nil
}
