// Package audit keeps the persistent trail of every accepted state change.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// Record is one entry of the audit trail.
type Record struct {
	ID          string           `json:"id"`
	EventID     string           `json:"event_id"`
	EntityID    string           `json:"entity_id"`
	Kind        lifecycle.Kind   `json:"kind"`
	From        lifecycle.State  `json:"from"`
	To          lifecycle.State  `json:"to"`
	Action      lifecycle.Action `json:"action"`
	Reason      string           `json:"reason,omitempty"`
	Description string           `json:"description"`
	OccurredAt  time.Time        `json:"occurred_at"`
	RecordedAt  time.Time        `json:"recorded_at"`
}

// Store persists audit records. List returns the records of one entity in
// the order they were appended.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, kind lifecycle.Kind, entityID string) ([]*Record, error)
}

// Describe renders the human-readable description of a transition.
func Describe(from, to lifecycle.State, reason string) string {
	return fmt.Sprintf("state change: %s → %s. reason: %s", from, to, reason)
}

// Writer subscribes to every state change and appends it to the store.
type Writer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter creates a writer over store.
func NewWriter(store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, logger: logger, now: time.Now}
}

// Register subscribes the writer to every kind on bus.
func (w *Writer) Register(bus *events.Bus) {
	bus.SubscribeAll(w.Handle, events.WithName("audit"))
}

// Handle records evt. Store failures are logged and swallowed so that
// auditing never blocks or undoes a committed transition.
func (w *Writer) Handle(ctx context.Context, evt events.StateChangeEvent) error {
	rec := &Record{
		ID:          xid.New().String(),
		EventID:     evt.ID,
		EntityID:    evt.EntityID,
		Kind:        evt.Kind,
		From:        evt.From,
		To:          evt.To,
		Action:      evt.Action,
		Reason:      evt.Reason,
		Description: Describe(evt.From, evt.To, evt.Reason),
		OccurredAt:  evt.Timestamp,
		RecordedAt:  w.now().UTC(),
	}
	if err := w.store.Append(ctx, rec); err != nil {
		w.logger.ErrorContext(ctx, "audit write failed",
			slog.String("event_id", evt.ID),
			slog.String("kind", string(evt.Kind)),
			slog.String("entity_id", evt.EntityID),
			slog.String("error", err.Error()))
	}
	return nil
}

// History returns the audit trail of one entity.
func (w *Writer) History(ctx context.Context, kind lifecycle.Kind, entityID string) ([]*Record, error) {
	return w.store.List(ctx, kind, entityID)
}
