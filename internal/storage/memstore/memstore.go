// Package memstore provides in-memory implementations of the entity, audit
// and snapshot stores for tests and single-process deployments.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
	"github.com/voicetyped/campaignflow/pkg/script"
)

type entityKey struct {
	kind lifecycle.Kind
	id   string
}

// EntityStore is a lifecycle.EntityStore held in memory.
type EntityStore struct {
	mu      sync.Mutex
	records map[entityKey]lifecycle.Record
}

// NewEntityStore creates an empty entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{records: make(map[entityKey]lifecycle.Record)}
}

// Create stores rec at version 1.
func (s *EntityStore) Create(_ context.Context, rec *lifecycle.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entityKey{rec.Kind, rec.ID}
	if _, exists := s.records[k]; exists {
		return lifecycle.ErrAlreadyExists
	}
	rec.Version = 1
	s.records[k] = *rec
	return nil
}

// Load returns a copy of the stored record.
func (s *EntityStore) Load(_ context.Context, kind lifecycle.Kind, id string) (*lifecycle.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[entityKey{kind, id}]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	return &rec, nil
}

// Save replaces the stored record if its version still matches rec.Version.
func (s *EntityStore) Save(_ context.Context, rec *lifecycle.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entityKey{rec.Kind, rec.ID}
	cur, ok := s.records[k]
	if !ok {
		return lifecycle.ErrNotFound
	}
	if cur.Version != rec.Version {
		return &lifecycle.ConflictError{Kind: rec.Kind, EntityID: rec.ID, Version: rec.Version}
	}
	rec.Version++
	s.records[k] = *rec
	return nil
}

// ListLinked returns the records of kind linked to linkedID, ordered by id.
func (s *EntityStore) ListLinked(_ context.Context, kind lifecycle.Kind, linkedID string) ([]*lifecycle.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*lifecycle.Record
	for k, rec := range s.records {
		if k.kind == kind && rec.LinkedID == linkedID {
			r := rec
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put writes rec unconditionally. It lets tests seed records, including
// ones in states the registry does not know.
func (s *EntityStore) Put(rec lifecycle.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[entityKey{rec.Kind, rec.ID}] = rec
}

// AuditStore is an append-only audit.Store held in memory.
type AuditStore struct {
	mu      sync.RWMutex
	records []*audit.Record
}

// NewAuditStore creates an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(_ context.Context, rec *audit.Record) error {
	cp := *rec
	s.mu.Lock()
	s.records = append(s.records, &cp)
	s.mu.Unlock()
	return nil
}

func (s *AuditStore) List(_ context.Context, kind lifecycle.Kind, entityID string) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Record
	for _, r := range s.records {
		if r.Kind == kind && r.EntityID == entityID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *AuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SnapshotStore is a script.Store held in memory.
type SnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]script.Snapshot
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]script.Snapshot)}
}

func (s *SnapshotStore) Put(_ context.Context, snap script.Snapshot) error {
	snap.Answers = copyMap(snap.Answers)
	s.mu.Lock()
	s.snaps[snap.CallID] = snap
	s.mu.Unlock()
	return nil
}

func (s *SnapshotStore) Get(_ context.Context, callID string) (script.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[callID]
	if !ok {
		return script.Snapshot{}, script.ErrSnapshotNotFound
	}
	snap.Answers = copyMap(snap.Answers)
	return snap, nil
}

func (s *SnapshotStore) Delete(_ context.Context, callID string) error {
	s.mu.Lock()
	delete(s.snaps, callID)
	s.mu.Unlock()
	return nil
}

func copyMap(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
