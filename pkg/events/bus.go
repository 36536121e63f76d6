package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// Handler reacts to a published state change. Returned errors are logged by
// the bus and never reach the publisher.
type Handler func(ctx context.Context, evt StateChangeEvent) error

// HandlerFailure describes a subscriber that returned an error or panicked.
type HandlerFailure struct {
	Subscriber string
	Event      StateChangeEvent
	Err        error
	Panic      any
}

func (f *HandlerFailure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("subscriber %s panicked on event %s: %v", f.Subscriber, f.Event.ID, f.Panic)
	}
	return fmt.Sprintf("subscriber %s failed on event %s: %v", f.Subscriber, f.Event.ID, f.Err)
}

func (f *HandlerFailure) Unwrap() error { return f.Err }

type subscription struct {
	name    string
	kind    lifecycle.Kind
	all     bool
	actions map[lifecycle.Action]bool
	handler Handler
}

func (s *subscription) matches(evt StateChangeEvent) bool {
	if !s.all && s.kind != evt.Kind {
		return false
	}
	if len(s.actions) > 0 && !s.actions[evt.Action] {
		return false
	}
	return true
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscription)

// WithAction restricts delivery to events carrying one of the given actions.
func WithAction(actions ...lifecycle.Action) SubscribeOption {
	return func(s *subscription) {
		if s.actions == nil {
			s.actions = make(map[lifecycle.Action]bool, len(actions))
		}
		for _, a := range actions {
			s.actions[a] = true
		}
	}
}

// WithName labels the subscription in failure logs.
func WithName(name string) SubscribeOption {
	return func(s *subscription) { s.name = name }
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler failures.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// WithFailureHook registers a callback invoked for every handler failure.
func WithFailureHook(fn func(context.Context, *HandlerFailure)) BusOption {
	return func(b *Bus) { b.hooks = append(b.hooks, fn) }
}

// Bus is an in-process, synchronous publish/subscribe channel for state
// changes. Handlers run on the publisher's goroutine in registration order;
// kind-specific and global subscriptions share one ordered list.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription

	logger   *slog.Logger
	now      func() time.Time
	hooks    []func(context.Context, *HandlerFailure)
	failures atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers h for events of the given kind.
func (b *Bus) Subscribe(kind lifecycle.Kind, h Handler, opts ...SubscribeOption) {
	b.add(&subscription{kind: kind, handler: h}, opts)
}

// SubscribeAll registers h for events of every kind.
func (b *Bus) SubscribeAll(h Handler, opts ...SubscribeOption) {
	b.add(&subscription{all: true, handler: h}, opts)
}

func (b *Bus) add(s *subscription, opts []SubscribeOption) {
	for _, o := range opts {
		o(s)
	}
	b.mu.Lock()
	if s.name == "" {
		s.name = fmt.Sprintf("subscriber-%d", len(b.subs)+1)
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

// Publish stamps evt with an id and UTC timestamp when they are unset, then
// delivers it to every matching subscriber before returning. A failing
// subscriber does not stop delivery to the rest. The stamped event is
// returned.
func (b *Bus) Publish(ctx context.Context, evt StateChangeEvent) StateChangeEvent {
	if evt.ID == "" {
		evt.ID = xid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.matches(evt) {
			continue
		}
		if f := b.deliver(ctx, s, evt); f != nil {
			b.fail(ctx, f)
		}
	}
	return evt
}

func (b *Bus) deliver(ctx context.Context, s *subscription, evt StateChangeEvent) (failure *HandlerFailure) {
	defer func() {
		if r := recover(); r != nil {
			failure = &HandlerFailure{Subscriber: s.name, Event: evt, Panic: r}
		}
	}()
	if err := s.handler(ctx, evt); err != nil {
		return &HandlerFailure{Subscriber: s.name, Event: evt, Err: err}
	}
	return nil
}

func (b *Bus) fail(ctx context.Context, f *HandlerFailure) {
	b.failures.Add(1)
	b.logger.ErrorContext(ctx, "event handler failed",
		slog.String("subscriber", f.Subscriber),
		slog.String("event_id", f.Event.ID),
		slog.String("kind", string(f.Event.Kind)),
		slog.String("entity_id", f.Event.EntityID),
		slog.String("from", string(f.Event.From)),
		slog.String("to", string(f.Event.To)),
		slog.String("action", string(f.Event.Action)),
		slog.String("error", f.Error()))
	for _, hook := range b.hooks {
		hook(ctx, f)
	}
}

// Failures returns the number of handler failures observed so far.
func (b *Bus) Failures() uint64 {
	return b.failures.Load()
}
