// internal/notify/notify.go
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"repository-reconciler/internal/model"
)

// Action names what happened to a record.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Event is emitted once per successful record write.
type Event struct {
	ID         uuid.UUID    `json:"id"`
	Action     Action       `json:"action"`
	Record     model.Record `json:"record"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// NewEvent stamps a fresh event for rec.
func NewEvent(action Action, rec model.Record) Event {
	return Event{
		ID:         uuid.New(),
		Action:     action,
		Record:     rec,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier receives change events.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, ev Event)

func (f Func) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop drops every event.
var Nop Notifier = Func(func(context.Context, Event) {})

// Dispatcher fans events out to its subscribers in registration order.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers []Notifier
}

func NewDispatcher(subscribers ...Notifier) *Dispatcher {
	return &Dispatcher{subscribers: subscribers}
}

// Subscribe adds a subscriber for future events.
func (d *Dispatcher) Subscribe(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, n)
}

func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	d.mu.RLock()
	subs := append([]Notifier(nil), d.subscribers...)
	d.mu.RUnlock()

	for _, s := range subs {
		s.Notify(ctx, ev)
	}
}

// LogSubscriber writes one informational log line per event.
type LogSubscriber struct {
	logger *slog.Logger
}

func NewLogSubscriber(logger *slog.Logger) *LogSubscriber {
	return &LogSubscriber{logger: logger}
}

func (l *LogSubscriber) Notify(ctx context.Context, ev Event) {
	l.logger.InfoContext(ctx, Message(ev),
		"event_id", ev.ID.String(),
		"action", string(ev.Action),
		"account_id", ev.Record.OwnerAccountID,
		"machine_name", ev.Record.MachineName,
	)
}

// Message renders the human readable change notice for ev.
func Message(ev Event) string {
	return fmt.Sprintf("The repo named %s has been %s (%s). The repo is owned by account %d.",
		ev.Record.Label, ev.Action, ev.Record.CanonicalURL, ev.Record.OwnerAccountID)
}
