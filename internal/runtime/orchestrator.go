package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicetyped/campaignflow/internal/telemetry"
	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// Orchestrator is the entry point for every state change: it loads the
// entity, asks the guard, saves with an optimistic version check and only
// then publishes the event.
type Orchestrator struct {
	store   lifecycle.EntityStore
	guard   *lifecycle.Guard
	bus     *events.Bus
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records transition outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer overrides the tracer used for transition spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store lifecycle.EntityStore, guard *lifecycle.Guard, bus *events.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		guard:  guard,
		bus:    bus,
		tracer: telemetry.Tracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the registry behind the guard.
func (o *Orchestrator) Registry() *lifecycle.Registry {
	return o.guard.Registry()
}

// Create persists a new entity in the initial state of its kind. No event is
// published: creation is not a transition.
func (o *Orchestrator) Create(ctx context.Context, kind lifecycle.Kind, id, linkedID string) (*lifecycle.Record, error) {
	initial, ok := o.guard.Registry().InitialState(kind)
	if !ok {
		return nil, fmt.Errorf("create %s %s: %w", kind, id, lifecycle.ErrUnknownKind)
	}
	rec := &lifecycle.Record{
		Kind:      kind,
		ID:        id,
		State:     initial,
		LinkedID:  linkedID,
		UpdatedAt: o.now().UTC(),
	}
	if err := o.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create %s %s: %w", kind, id, err)
	}
	return rec, nil
}

// Get loads an entity and checks that its stored state is registered.
func (o *Orchestrator) Get(ctx context.Context, kind lifecycle.Kind, id string) (*lifecycle.Record, error) {
	rec, err := o.store.Load(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	if _, err := o.guard.Registry().ParseState(kind, string(rec.State)); err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return rec, nil
}

// RequestTransition moves entity id of kind to target. The returned error
// matches lifecycle.ErrTransitionRejected when the move is illegal or lost a
// concurrent update, lifecycle.ErrNotFound for unknown ids, and wraps
// *lifecycle.UnknownStateError when the stored state is not registered.
func (o *Orchestrator) RequestTransition(
	ctx context.Context,
	kind lifecycle.Kind,
	id string,
	target lifecycle.State,
	reason string,
) (events.StateChangeEvent, error) {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "campaignflow.lifecycle.transition",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("lifecycle.kind", string(kind)),
			attribute.String("lifecycle.entity_id", id),
			attribute.String("lifecycle.target", string(target)),
		),
	)
	defer span.End()

	evt, err := o.transition(ctx, kind, id, target, reason)
	outcome := outcomeOf(err)
	o.metrics.RecordTransition(string(kind), outcome, o.now().Sub(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if outcome == telemetry.OutcomeError {
			slog.ErrorContext(ctx, "transition failed",
				slog.String("kind", string(kind)),
				slog.String("entity_id", id),
				slog.String("target", string(target)),
				slog.String("error", err.Error()))
		}
		return events.StateChangeEvent{}, err
	}

	span.SetAttributes(
		attribute.String("lifecycle.from", string(evt.From)),
		attribute.String("lifecycle.action", string(evt.Action)),
		attribute.String("lifecycle.event_id", evt.ID),
	)
	span.SetStatus(codes.Ok, "")
	return evt, nil
}

func (o *Orchestrator) transition(
	ctx context.Context,
	kind lifecycle.Kind,
	id string,
	target lifecycle.State,
	reason string,
) (events.StateChangeEvent, error) {
	rec, err := o.Get(ctx, kind, id)
	if err != nil {
		return events.StateChangeEvent{}, err
	}

	evt, err := o.guard.RequestTransition(rec, target, reason)
	if err != nil {
		return events.StateChangeEvent{}, err
	}

	rec.UpdatedAt = o.now().UTC()
	if err := o.store.Save(ctx, rec); err != nil {
		return events.StateChangeEvent{}, fmt.Errorf("save %s %s: %w", kind, id, err)
	}

	return o.bus.Publish(ctx, evt), nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeAccepted
	case errors.Is(err, lifecycle.ErrConcurrencyConflict):
		return telemetry.OutcomeConflict
	case errors.Is(err, lifecycle.ErrTransitionRejected):
		return telemetry.OutcomeRejected
	default:
		return telemetry.OutcomeError
	}
}
