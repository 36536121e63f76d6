// Package redisstore keeps script session checkpoints in Redis so agents can
// resume a call on any instance.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voicetyped/campaignflow/pkg/script"
)

const defaultTTL = 24 * time.Hour

// SnapshotStore is a script.Store backed by Redis. Entries expire after the
// configured TTL.
type SnapshotStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// Option configures a SnapshotStore.
type Option func(*SnapshotStore)

// WithTTL sets how long checkpoints are kept. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *SnapshotStore) { s.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "campaignflow".
func WithPrefix(prefix string) Option {
	return func(s *SnapshotStore) { s.prefix = prefix }
}

// New creates a snapshot store over client.
func New(client redis.UniversalClient, opts ...Option) *SnapshotStore {
	s := &SnapshotStore{
		client: client,
		ttl:    defaultTTL,
		prefix: "campaignflow",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect parses a redis:// URL and returns a store over a new client.
func Connect(ctx context.Context, url string, opts ...Option) (*SnapshotStore, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts...), nil
}

func (s *SnapshotStore) key(callID string) string {
	return s.prefix + ":script_session:" + callID
}

// Put stores snap, replacing any earlier checkpoint of the same call.
func (s *SnapshotStore) Put(ctx context.Context, snap script.Snapshot) error {
	if snap.CallID == "" {
		return fmt.Errorf("snapshot has no call id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.CallID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns the checkpoint of callID or script.ErrSnapshotNotFound.
func (s *SnapshotStore) Get(ctx context.Context, callID string) (script.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(callID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return script.Snapshot{}, script.ErrSnapshotNotFound
		}
		return script.Snapshot{}, fmt.Errorf("redis get failed: %w", err)
	}
	var snap script.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return script.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Delete removes the checkpoint of callID. Missing keys are not an error.
func (s *SnapshotStore) Delete(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, s.key(callID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}
