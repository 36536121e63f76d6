// Package gormstore persists lifecycle records and the audit trail through
// the frame datastore pool (Postgres in production deployments).
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// Store implements lifecycle.EntityStore and audit.Store.
type Store struct {
	pool pool.Pool
}

// New creates a store over the given pool.
func New(pool pool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) db(ctx context.Context, readOnly bool) *gorm.DB {
	return s.pool.DB(ctx, readOnly)
}

// Migrate creates or updates the tables this store owns.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db(ctx, false).AutoMigrate(&LifecycleEntity{}, &AuditEntry{})
}

// Create inserts rec at revision 1.
func (s *Store) Create(ctx context.Context, rec *lifecycle.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	e := &LifecycleEntity{
		Kind:           string(rec.Kind),
		EntityID:       rec.ID,
		State:          string(rec.State),
		LinkedID:       rec.LinkedID,
		Revision:       1,
		StateChangedAt: rec.UpdatedAt,
	}
	e.ID = xid.New().String()

	if err := s.db(ctx, false).Create(e).Error; err != nil {
		if isDuplicate(err) {
			return lifecycle.ErrAlreadyExists
		}
		return fmt.Errorf("create %s %s: %w", rec.Kind, rec.ID, err)
	}
	rec.Version = 1
	return nil
}

func (s *Store) find(ctx context.Context, kind lifecycle.Kind, id string) (*LifecycleEntity, error) {
	var e LifecycleEntity
	err := s.db(ctx, true).
		Where("kind = ? AND entity_id = ?", string(kind), id).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return &e, nil
}

// Load returns the stored record with its state as persisted.
func (s *Store) Load(ctx context.Context, kind lifecycle.Kind, id string) (*lifecycle.Record, error) {
	e, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return e.toRecord(), nil
}

// Save writes rec when the stored revision still equals rec.Version.
func (s *Store) Save(ctx context.Context, rec *lifecycle.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	res := s.db(ctx, false).
		Model(&LifecycleEntity{}).
		Where("kind = ? AND entity_id = ? AND revision = ?", string(rec.Kind), rec.ID, rec.Version).
		Updates(map[string]any{
			"state":            string(rec.State),
			"linked_id":        rec.LinkedID,
			"state_changed_at": rec.UpdatedAt,
			"revision":         gorm.Expr("revision + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("save %s %s: %w", rec.Kind, rec.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.find(ctx, rec.Kind, rec.ID); err != nil {
			return err
		}
		return &lifecycle.ConflictError{Kind: rec.Kind, EntityID: rec.ID, Version: rec.Version}
	}
	rec.Version++
	return nil
}

// ListLinked returns the records of kind linked to linkedID, ordered by id.
func (s *Store) ListLinked(ctx context.Context, kind lifecycle.Kind, linkedID string) ([]*lifecycle.Record, error) {
	var rows []LifecycleEntity
	err := s.db(ctx, true).
		Where("kind = ? AND linked_id = ?", string(kind), linkedID).
		Order("entity_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s linked to %s: %w", kind, linkedID, err)
	}
	out := make([]*lifecycle.Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// Append persists an audit record.
func (s *Store) Append(ctx context.Context, rec *audit.Record) error {
	if rec.ID == "" {
		rec.ID = xid.New().String()
	}
	if err := s.db(ctx, false).Create(newAuditEntry(rec)).Error; err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// List returns the audit trail of one entity in append order.
func (s *Store) List(ctx context.Context, kind lifecycle.Kind, entityID string) ([]*audit.Record, error) {
	var rows []AuditEntry
	err := s.db(ctx, true).
		Where("kind = ? AND entity_id = ?", string(kind), entityID).
		Order("recorded_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	out := make([]*audit.Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
