// Package intake runs one inbound customer message through the system: the
// user and dialog are resolved, the message is recorded, and while the
// dialog is automatic a reply is generated and either sent or escalated to
// an operator.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/aiotvet-go/internal/dialog"
	"github.com/54b3r/aiotvet-go/internal/llmrouter"
	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// ErrEmptyMessage is returned for an inbound message with no text.
var ErrEmptyMessage = errors.New("intake: message text is empty")

// DefaultHistoryDepth is how many recent messages are fed to the generator.
const DefaultHistoryDepth = 20

// Outcome says what happened to an inbound message.
type Outcome string

const (
	// OutcomeSent means a bot reply was sent to the user.
	OutcomeSent Outcome = "sent"
	// OutcomeLowConfidence means the reply was recorded but scored below
	// the threshold, so an operator must follow up.
	OutcomeLowConfidence Outcome = "escalated_low_confidence"
	// OutcomeProviderFailure means generation failed and the dialog went
	// to an operator without a bot reply.
	OutcomeProviderFailure Outcome = "escalated_provider_failure"
	// OutcomeHumanMode means an operator owns the dialog; no reply was
	// generated.
	OutcomeHumanMode Outcome = "human_mode"
	// OutcomeDiscarded means an operator took over while the reply was
	// being generated, so the reply or the escalation was dropped.
	OutcomeDiscarded Outcome = "discarded"
)

// Dialogs is the part of the state machine intake drives.
type Dialogs interface {
	OpenForUser(ctx context.Context, profile store.User) (store.Dialog, store.User, error)
	HandleUserMessage(ctx context.Context, dialogID int64, text string) (store.Message, store.Dialog, error)
	History(ctx context.Context, dialogID int64, n int) ([]store.Message, error)
	HandleBotReply(ctx context.Context, dialogID int64, text string, score float64, providerName string) (store.Message, store.Dialog, error)
	Escalate(ctx context.Context, dialogID int64, reason string) (store.Dialog, error)
}

// Generator produces a scored reply for a dialog history.
type Generator interface {
	GenerateReply(ctx context.Context, history []store.Message, systemPrompt string) (*llmrouter.Reply, error)
}

// Inbound is one message from an end user.
type Inbound struct {
	ExternalUserID string `json:"external_user_id"`
	Username       string `json:"username,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Text           string `json:"message"`
}

// Result is what HandleInbound did.
type Result struct {
	Outcome     Outcome        `json:"outcome"`
	Dialog      store.Dialog   `json:"dialog"`
	UserMessage store.Message  `json:"user_message"`
	Reply       *store.Message `json:"reply,omitempty"`
	// Citations lists the knowledge chunks the reply drew on.
	Citations []provider.Citation `json:"citations,omitempty"`
}

// Config holds the Service's collaborators.
type Config struct {
	Dialogs   Dialogs
	Generator Generator
	// SystemPrompt defaults to llmrouter.SystemPrompt.
	SystemPrompt string
	// HistoryDepth defaults to DefaultHistoryDepth.
	HistoryDepth int
	// Metrics may be nil.
	Metrics *Metrics
}

// Service handles inbound messages.
type Service struct {
	dialogs Dialogs
	gen     Generator
	prompt  string
	depth   int
	metrics *Metrics
}

// New constructs a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Dialogs == nil || cfg.Generator == nil {
		return nil, errors.New("intake: dialogs and generator are required")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = llmrouter.SystemPrompt
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = DefaultHistoryDepth
	}
	return &Service{
		dialogs: cfg.Dialogs,
		gen:     cfg.Generator,
		prompt:  cfg.SystemPrompt,
		depth:   cfg.HistoryDepth,
		metrics: cfg.Metrics,
	}, nil
}

// HandleInbound records in and, for an automatic dialog, answers it.
// A provider failure escalates the dialog and is not returned as an error;
// any other generation error escalates and is returned. Neither escalates a
// dialog an operator has already taken.
func (s *Service) HandleInbound(ctx context.Context, in Inbound) (Result, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Result{}, ErrEmptyMessage
	}
	if in.ExternalUserID == "" {
		return Result{}, errors.New("intake: external user id is required")
	}

	d, _, err := s.dialogs.OpenForUser(ctx, store.User{
		ExternalID: in.ExternalUserID,
		Username:   in.Username,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
	})
	if err != nil {
		return Result{}, fmt.Errorf("intake: open dialog: %w", err)
	}
	log := logging.FromContext(ctx).With(slog.Int64("dialog_id", d.ID))

	msg, d, err := s.dialogs.HandleUserMessage(ctx, d.ID, in.Text)
	if err != nil {
		return Result{}, fmt.Errorf("intake: record message: %w", err)
	}
	res := Result{Dialog: d, UserMessage: msg}
	if d.Mode != store.ModeAuto {
		return s.done(res, OutcomeHumanMode), nil
	}

	history, err := s.dialogs.History(ctx, d.ID, s.depth)
	if err != nil {
		return Result{}, fmt.Errorf("intake: load history: %w", err)
	}

	start := time.Now()
	reply, genErr := s.gen.GenerateReply(ctx, history, s.prompt)
	s.metrics.observeGeneration(time.Since(start), genErr)
	if genErr != nil {
		log.Warn("intake: generation failed, escalating", slog.Any("error", genErr))
		escalated, err := s.dialogs.Escalate(ctx, d.ID, genErr.Error())
		if errors.Is(err, dialog.ErrInvalidState) {
			log.Info("intake: operator took over during generation, escalation skipped")
			res.Dialog = escalated
			return s.done(res, OutcomeDiscarded), nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("intake: escalate: %w", errors.Join(genErr, err))
		}
		res.Dialog = escalated
		res = s.done(res, OutcomeProviderFailure)
		if provider.IsFailure(genErr) {
			return res, nil
		}
		return res, fmt.Errorf("intake: generate: %w", genErr)
	}

	s.metrics.observeConfidence(reply.Confidence)
	botMsg, d, err := s.dialogs.HandleBotReply(ctx, d.ID, reply.Text, reply.Confidence, reply.ProviderName)
	if errors.Is(err, dialog.ErrInvalidState) {
		log.Info("intake: operator took over during generation, reply discarded")
		res.Dialog = d
		return s.done(res, OutcomeDiscarded), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("intake: record reply: %w", err)
	}
	res.Dialog = d
	res.Reply = &botMsg
	res.Citations = reply.Citations
	if d.Status == store.StatusWaitingOperator {
		log.Info("intake: low confidence reply escalated",
			slog.Float64("confidence", reply.Confidence), slog.String("provider", reply.ProviderName))
		return s.done(res, OutcomeLowConfidence), nil
	}
	return s.done(res, OutcomeSent), nil
}

func (s *Service) done(res Result, o Outcome) Result {
	s.metrics.outcome(o)
	res.Outcome = o
	return res
}
