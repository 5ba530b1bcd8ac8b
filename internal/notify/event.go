// Package notify is the in-process notification bus that keeps operator
// consoles in sync with dialog state. Events are fanned out synchronously to
// subscribers; live connections buffer and drop rather than block, and an
// optional Redis relay carries events between instances.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/54b3r/aiotvet-go/internal/store"
)

// Event names published by the dialog state machine.
const (
	EventMessageCreated = "message_created"
	EventDialogStatus   = "dialog_status"
	EventDialogAssigned = "dialog_assigned"

	// AllEvents subscribes a handler to every event name.
	AllEvents = "*"
)

// Event is one published notification. Payload is kept as encoded JSON so
// local and relayed events look the same to subscribers.
type Event struct {
	ID      string          `json:"id"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	// Origin is the id of the bus that first published the event.
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("notify: decode %s payload: %w", e.Name, err)
	}
	return nil
}

// MessageCreated is the payload of EventMessageCreated.
type MessageCreated struct {
	DialogID  int64        `json:"dialog_id"`
	MessageID int64        `json:"message_id"`
	Sender    store.Sender `json:"sender"`
}

// DialogStatus is the payload of EventDialogStatus.
type DialogStatus struct {
	DialogID int64        `json:"dialog_id"`
	From     store.Status `json:"from"`
	To       store.Status `json:"to"`
}

// DialogAssigned is the payload of EventDialogAssigned.
type DialogAssigned struct {
	DialogID   int64 `json:"dialog_id"`
	OperatorID int64 `json:"operator_id"`
}
