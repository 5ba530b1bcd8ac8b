package notify

import (
	"context"
	"fmt"

	"github.com/54b3r/aiotvet-go/internal/store"
)

// EventLog persists events.
type EventLog interface {
	RecordEvent(ctx context.Context, ev store.Event) error
}

// Recorder writes every locally published event to an EventLog. Relayed
// events are left to the instance that published them.
type Recorder struct {
	log    EventLog
	origin string
}

// NewRecorder records events whose origin is the given bus.
func NewRecorder(log EventLog, bus *Bus) *Recorder {
	return &Recorder{log: log, origin: bus.Origin()}
}

// Record is a Handler.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if ev.Origin != r.origin {
		return nil
	}
	err := r.log.RecordEvent(ctx, store.Event{
		EventID:   ev.ID,
		Name:      ev.Name,
		Payload:   string(ev.Payload),
		CreatedAt: ev.At,
	})
	if err != nil {
		return fmt.Errorf("notify: record %s: %w", ev.Name, err)
	}
	return nil
}
