package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/voicetyped/campaignflow/pkg/events"
)

const defaultSeenCapacity = 4096

// EndpointLister finds the endpoints interested in an envelope.
type EndpointLister interface {
	ListForEnvelope(ctx context.Context, env events.Envelope) ([]WebhookEndpoint, error)
}

// Subscriber implements queue.SubscribeWorker. It routes relayed state
// changes to the endpoints whose filters accept them.
type Subscriber struct {
	Repo      EndpointLister
	Deliverer *Deliverer
	Pool      workerpool.WorkerPool

	seen *seenSet
}

// NewSubscriber creates a subscriber that drops queue redeliveries of an
// envelope it has already routed.
func NewSubscriber(repo EndpointLister, deliverer *Deliverer, pool workerpool.WorkerPool) *Subscriber {
	return &Subscriber{
		Repo:      repo,
		Deliverer: deliverer,
		Pool:      pool,
		seen:      newSeenSet(defaultSeenCapacity),
	}
}

// Handle is called by frame's pub/sub for each event message.
func (ws *Subscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("webhook subscriber: unmarshal envelope")
		return err
	}
	key := dedupKey(env)
	if ws.seen != nil && key != "" && ws.seen.contains(key) {
		slog.DebugContext(ctx, "webhook subscriber: duplicate envelope", slog.String("event_id", env.ID))
		return nil
	}

	webhooks, err := ws.Repo.ListForEnvelope(ctx, env)
	if err != nil {
		util.Log(ctx).WithError(err).Error("webhook subscriber: list webhooks")
		return err
	}
	if ws.seen != nil && key != "" {
		ws.seen.add(key)
	}

	for _, wh := range webhooks {
		if ws.Pool == nil {
			go ws.Deliverer.Deliver(ctx, wh, env)
			continue
		}
		if err := ws.Pool.Submit(ctx, func() { ws.Deliverer.Deliver(ctx, wh, env) }); err != nil {
			slog.WarnContext(ctx, "webhook pool full",
				slog.String("webhook_id", wh.ID),
				slog.String("event_id", env.ID))
		}
	}
	return nil
}

// dedupKey is the envelope id, qualified by the dead letter on replays.
func dedupKey(env events.Envelope) string {
	if env.ID == "" {
		return ""
	}
	if dl := env.Metadata[MetaReplayOf]; dl != "" {
		return env.ID + "/" + dl
	}
	return env.ID
}

// seenSet remembers the last cap ids in insertion order.
type seenSet struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, capacity), ring: make([]string, capacity)}
}

func (s *seenSet) contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
}
