// Package dialog is the state machine that owns every dialog mutation. Each
// public operation runs under a per-dialog lock, persists its change through
// the store in one atomic step and then publishes the matching events, so
// observers see events in the order the dialog changed.
//
// Status and mode are independent:
//
//	HandleUserMessage    appends USER; status and mode unchanged
//	HandleBotReply       appends BOT; WAITING_OPERATOR if score < threshold, else WAITING_USER
//	HandleOperatorReply  mode HUMAN, assigns operator, appends OPERATOR, WAITING_USER
//	AssignOperator       assigns operator only
//	Takeover             mode HUMAN, assigns operator, WAITING_OPERATOR
//	HandoffToAuto        mode AUTO; WAITING_OPERATOR becomes AUTO
//	Escalate             WAITING_OPERATOR, no message
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/aiotvet-go/internal/confidence"
	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/notify"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// ErrInvalidState is returned when an operation is not allowed in the
// dialog's current mode.
var ErrInvalidState = errors.New("invalid dialog state")

// DefaultIdleTimeout bounds how long an AUTO dialog is reused for new
// messages from the same user.
const DefaultIdleTimeout = 30 * time.Minute

// Store is the persistence the state machine needs.
type Store interface {
	EnsureUser(ctx context.Context, u store.User) (store.User, error)
	GetOperator(ctx context.Context, id int64) (store.Operator, error)
	CreateDialog(ctx context.Context, userID int64) (store.Dialog, error)
	GetDialog(ctx context.Context, id int64) (store.Dialog, error)
	LatestDialogForUser(ctx context.Context, userID int64) (store.Dialog, error)
	ListDialogs(ctx context.Context, status store.Status, limit int) ([]store.Dialog, error)
	UpdateDialog(ctx context.Context, d store.Dialog) error
	AppendMessage(ctx context.Context, d *store.Dialog, m *store.Message) error
	ListMessages(ctx context.Context, dialogID, beforeID int64, limit int) ([]store.Message, error)
	RecentMessages(ctx context.Context, dialogID int64, n int) ([]store.Message, error)
}

// Publisher receives dialog events.
type Publisher interface {
	Broadcast(ctx context.Context, event string, payload any) error
}

// ThresholdSource yields the live confidence threshold.
type ThresholdSource interface {
	Threshold() float64
}

// Config holds the Service's collaborators.
type Config struct {
	Store     Store
	Publisher Publisher
	Threshold ThresholdSource
	// IdleTimeout is DIALOG_IDLE_TIMEOUT; zero uses DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Service is the dialog state machine.
type Service struct {
	store     Store
	pub       Publisher
	threshold ThresholdSource
	idle      time.Duration
	now       func() time.Time

	dialogs *keyedMutex[int64]
	users   *keyedMutex[string]
}

// New constructs a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Publisher == nil || cfg.Threshold == nil {
		return nil, fmt.Errorf("dialog: store, publisher and threshold are required")
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Service{
		store:     cfg.Store,
		pub:       cfg.Publisher,
		threshold: cfg.Threshold,
		idle:      idle,
		now:       time.Now,
		dialogs:   newKeyedMutex[int64](),
		users:     newKeyedMutex[string](),
	}, nil
}

// OpenForUser records the user and returns the dialog new messages should go
// to. Dialogs waiting on someone are always reused. An AUTO dialog is also
// reused while its last message is younger than the idle timeout
// (DIALOG_IDLE_TIMEOUT), so a user chatting with the bot stays in one dialog;
// once idle, a new dialog is opened. Reuse is not limited to the WAITING
// statuses.
func (s *Service) OpenForUser(ctx context.Context, profile store.User) (store.Dialog, store.User, error) {
	unlock := s.users.lock(profile.ExternalID)
	defer unlock()

	user, err := s.store.EnsureUser(ctx, profile)
	if err != nil {
		return store.Dialog{}, store.User{}, fmt.Errorf("dialog: ensure user: %w", err)
	}
	d, err := s.store.LatestDialogForUser(ctx, user.ID)
	switch {
	case err == nil && s.reusable(d):
		return d, user, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return store.Dialog{}, store.User{}, fmt.Errorf("dialog: latest for user: %w", err)
	}
	d, err = s.store.CreateDialog(ctx, user.ID)
	if err != nil {
		return store.Dialog{}, store.User{}, fmt.Errorf("dialog: create: %w", err)
	}
	logging.FromContext(ctx).Info("dialog: opened", slog.Int64("dialog_id", d.ID), slog.Int64("user_id", user.ID))
	return d, user, nil
}

func (s *Service) reusable(d store.Dialog) bool {
	if d.Status == store.StatusWaitingOperator || d.Status == store.StatusWaitingUser {
		return true
	}
	return s.now().Sub(d.LastMessageAt) < s.idle
}

// Get returns one dialog.
func (s *Service) Get(ctx context.Context, id int64) (store.Dialog, error) {
	return s.store.GetDialog(ctx, id)
}

// List returns dialogs with the given status (all when empty), most recently
// active first.
func (s *Service) List(ctx context.Context, status store.Status, limit int) ([]store.Dialog, error) {
	return s.store.ListDialogs(ctx, status, limit)
}

// Messages pages backwards through a dialog, newest first. beforeID 0 starts
// at the newest message.
func (s *Service) Messages(ctx context.Context, dialogID, beforeID int64, limit int) ([]store.Message, error) {
	if _, err := s.store.GetDialog(ctx, dialogID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, dialogID, beforeID, limit)
}

// History returns the last n messages oldest first, as fed to the generator.
func (s *Service) History(ctx context.Context, dialogID int64, n int) ([]store.Message, error) {
	return s.store.RecentMessages(ctx, dialogID, n)
}

// HandleUserMessage appends a USER message.
func (s *Service) HandleUserMessage(ctx context.Context, dialogID int64, text string) (store.Message, store.Dialog, error) {
	unlock := s.dialogs.lock(dialogID)
	defer unlock()

	d, err := s.store.GetDialog(ctx, dialogID)
	if err != nil {
		return store.Message{}, store.Dialog{}, err
	}
	m, err := s.append(ctx, &d, store.Message{Sender: store.SenderUser, Text: text}, d.Status)
	return m, d, err
}

// HandleBotReply appends a BOT message carrying its score and moves the
// dialog to WAITING_OPERATOR when the score is below the threshold, else to
// WAITING_USER. A dialog taken over by an operator while the reply was
// being generated rejects it with ErrInvalidState.
func (s *Service) HandleBotReply(ctx context.Context, dialogID int64, text string, score float64, providerName string) (store.Message, store.Dialog, error) {
	unlock := s.dialogs.lock(dialogID)
	defer unlock()

	d, err := s.store.GetDialog(ctx, dialogID)
	if err != nil {
		return store.Message{}, store.Dialog{}, err
	}
	if d.Mode == store.ModeHuman {
		return store.Message{}, d, fmt.Errorf("dialog %d: bot reply in HUMAN mode: %w", dialogID, ErrInvalidState)
	}
	to := store.StatusWaitingUser
	if confidence.NewEvaluator(s.threshold.Threshold()).Escalate(score) {
		to = store.StatusWaitingOperator
	}
	m, err := s.append(ctx, &d, store.Message{
		Sender:      store.SenderBot,
		Text:        text,
		LLMProvider: providerName,
		Confidence:  &score,
	}, to)
	return m, d, err
}

// HandleOperatorReply hands the dialog to the operator and appends their
// message.
func (s *Service) HandleOperatorReply(ctx context.Context, dialogID, operatorID int64, text string) (store.Message, store.Dialog, error) {
	if _, err := s.store.GetOperator(ctx, operatorID); err != nil {
		return store.Message{}, store.Dialog{}, err
	}
	unlock := s.dialogs.lock(dialogID)
	defer unlock()

	d, err := s.store.GetDialog(ctx, dialogID)
	if err != nil {
		return store.Message{}, store.Dialog{}, err
	}
	d.Mode = store.ModeHuman
	d.AssignedOperatorID = &operatorID
	m, err := s.append(ctx, &d, store.Message{Sender: store.SenderOperator, Text: text}, store.StatusWaitingUser)
	return m, d, err
}

// AssignOperator routes the dialog to an operator without touching status
// or mode.
func (s *Service) AssignOperator(ctx context.Context, dialogID, operatorID int64) (store.Dialog, error) {
	if _, err := s.store.GetOperator(ctx, operatorID); err != nil {
		return store.Dialog{}, err
	}
	unlock := s.dialogs.lock(dialogID)
	defer unlock()

	d, err := s.store.GetDialog(ctx, dialogID)
	if err != nil {
		return store.Dialog{}, err
	}
	d.AssignedOperatorID = &operatorID
	if err := s.store.UpdateDialog(ctx, d); err != nil {
		return store.Dialog{}, fmt.Errorf("dialog: assign: %w", err)
	}
	s.publish(ctx, notify.EventDialogAssigned, notify.DialogAssigned{DialogID: d.ID, OperatorID: operatorID})
	return d, nil
}

// Takeover forces HUMAN mode; the operator must act next. dialog_assigned is
// published even when the status was already WAITING_OPERATOR.
func (s *Service) Takeover(ctx context.Context, dialogID, operatorID int64) (store.Dialog, error) {
	if _, err := s.store.GetOperator(ctx, operatorID); err != nil {
		return store.Dialog{}, err
	}
	unlock := s.dialogs.lock(dialogID)
	defer unlock()

	d, err := s.store.GetDialog(ctx, dialogID)
	if err != nil {
		return store.Dialog{}, err
	}
	d.Mode = store.ModeHuman
	d.AssignedOperatorID = &operatorID
	if err := s.transition(ctx, &d, store.StatusWaitingOperator); err != nil {
		return d, err
	}
	s.publish(ctx, notify.EventDialogAssigned, notify.DialogAssigned{DialogID: d.ID, OperatorID: operatorID})
	return d, nil
}

// HandoffToAuto returns the dialog to the bot. A dialog waiting on an
// operator goes back to AUTO; any other status is kept since the user may
// still expect a reply.
func (s *Service) HandoffToAuto(ctx context.Context, dialogID int64) (store.Dialog, error) {
	unlock := s.dialogs.lock(dialogID)
	defer unlock()

	d, err := s.store.GetDialog(ctx, dialogID)
	if err != nil {
		return store.Dialog{}, err
	}
	d.Mode = store.ModeAuto
	to := d.Status
	if to == store.StatusWaitingOperator {
		to = store.StatusAuto
	}
	return d, s.transition(ctx, &d, to)
}

// Escalate hands the dialog to a human without a message, used when the
// answer pipeline failed. A dialog already in HUMAN mode is returned
// unchanged with ErrInvalidState.
func (s *Service) Escalate(ctx context.Context, dialogID int64, reason string) (store.Dialog, error) {
	unlock := s.dialogs.lock(dialogID)
	defer unlock()

	d, err := s.store.GetDialog(ctx, dialogID)
	if err != nil {
		return store.Dialog{}, err
	}
	if d.Mode == store.ModeHuman {
		return d, fmt.Errorf("dialog %d: escalate in HUMAN mode: %w", dialogID, ErrInvalidState)
	}
	logging.FromContext(ctx).Warn("dialog: escalated",
		slog.Int64("dialog_id", dialogID),
		slog.String("reason", reason),
	)
	return d, s.transition(ctx, &d, store.StatusWaitingOperator)
}

// append persists m together with the dialog row moved to status to, then
// publishes message_created and, if the status changed, dialog_status.
// Callers hold the dialog lock.
func (s *Service) append(ctx context.Context, d *store.Dialog, m store.Message, to store.Status) (store.Message, error) {
	from := d.Status
	d.Status = to
	m.DialogID = d.ID
	m.CreatedAt = s.now()
	if err := s.store.AppendMessage(ctx, d, &m); err != nil {
		d.Status = from
		return store.Message{}, fmt.Errorf("dialog: append %s message: %w", m.Sender, err)
	}
	s.publish(ctx, notify.EventMessageCreated, notify.MessageCreated{DialogID: d.ID, MessageID: m.ID, Sender: m.Sender})
	if from != to {
		s.publish(ctx, notify.EventDialogStatus, notify.DialogStatus{DialogID: d.ID, From: from, To: to})
	}
	return m, nil
}

// transition persists d moved to status to and publishes dialog_status if it
// changed. Callers hold the dialog lock.
func (s *Service) transition(ctx context.Context, d *store.Dialog, to store.Status) error {
	from := d.Status
	d.Status = to
	if err := s.store.UpdateDialog(ctx, *d); err != nil {
		d.Status = from
		return fmt.Errorf("dialog: update: %w", err)
	}
	if from != to {
		s.publish(ctx, notify.EventDialogStatus, notify.DialogStatus{DialogID: d.ID, From: from, To: to})
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event string, payload any) {
	if err := s.pub.Broadcast(ctx, event, payload); err != nil {
		logging.FromContext(ctx).Error("dialog: publish failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
