package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/rs/xid"
)

// EmitFunc delivers one envelope to the outbound transport.
type EmitFunc func(ctx context.Context, env Envelope) error

// Publisher relays accepted state changes to frame's queue so the
// integration service can fan them out to webhooks. It also supports local
// in-process subscriptions for event streaming.
type Publisher struct {
	emit   EmitFunc
	source string

	subMu       sync.RWMutex
	subscribers map[string]chan Envelope
}

// NewPublisher creates a publisher that emits events to the given queue reference.
func NewPublisher(queueMgr queue.Manager, source string, queueRef string) *Publisher {
	return NewPublisherFunc(source, func(ctx context.Context, env Envelope) error {
		return queueMgr.Publish(ctx, queueRef, env)
	})
}

// NewPublisherFunc creates a publisher over an arbitrary transport.
func NewPublisherFunc(source string, emit EmitFunc) *Publisher {
	return &Publisher{
		emit:        emit,
		source:      source,
		subscribers: make(map[string]chan Envelope),
	}
}

// Relay is a bus handler. Queue failures are logged and swallowed: the
// transition has already been committed and relaying is best-effort.
func (p *Publisher) Relay(ctx context.Context, evt StateChangeEvent) error {
	env, err := NewStateChangedEnvelope(p.source, evt)
	if err != nil {
		return err
	}
	if err := p.Emit(ctx, env); err != nil {
		slog.Error("relay state change",
			slog.String("event_id", evt.ID),
			slog.String("kind", string(evt.Kind)),
			slog.String("entity_id", evt.EntityID),
			slog.String("error", err.Error()))
	}
	return nil
}

// Emit fans env out to local subscribers and hands it to the transport.
// Source and ID are filled in when empty.
func (p *Publisher) Emit(ctx context.Context, env Envelope) error {
	if env.Source == "" {
		env.Source = p.source
	}
	if env.ID == "" {
		env.ID = xid.New().String()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	// Fan out to local subscribers (non-blocking).
	p.subMu.RLock()
	for id, ch := range p.subscribers {
		select {
		case ch <- env:
		default:
			slog.Warn("event dropped: subscriber buffer full",
				slog.String("subscriber", id), slog.String("event_id", env.ID))
		}
	}
	p.subMu.RUnlock()

	return p.emit(ctx, env)
}

// Subscribe creates a local in-process subscription for relayed envelopes.
// The caller must call Unsubscribe with the same id to clean up.
func (p *Publisher) Subscribe(id string, bufSize int) <-chan Envelope {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Envelope, bufSize)
	p.subMu.Lock()
	p.subscribers[id] = ch
	p.subMu.Unlock()
	return ch
}

// Unsubscribe removes a local subscription and closes its channel.
func (p *Publisher) Unsubscribe(id string) {
	p.subMu.Lock()
	if ch, ok := p.subscribers[id]; ok {
		close(ch)
		delete(p.subscribers, id)
	}
	p.subMu.Unlock()
}
