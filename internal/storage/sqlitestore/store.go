// Package sqlitestore provides a SQLite-backed entity and audit store for
// single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/voicetyped/campaignflow/internal/storage/sqlitestore/migrations"
	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// Store persists lifecycle records and the audit trail in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// applyMigrations executes each embedded .sql file at most once.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, name := range files {
		var applied int
		if err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}
		body, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			name, toMillis(time.Now())); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Create inserts rec at version 1.
func (s *Store) Create(ctx context.Context, rec *lifecycle.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO lifecycle_entities (kind, id, state, linked_id, version, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?)`,
		string(rec.Kind), rec.ID, string(rec.State), rec.LinkedID, toMillis(rec.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return lifecycle.ErrAlreadyExists
		}
		return fmt.Errorf("create %s %s: %w", rec.Kind, rec.ID, err)
	}
	rec.Version = 1
	return nil
}

// Load returns the stored record. The state is returned as persisted; the
// caller validates it against the registry.
func (s *Store) Load(ctx context.Context, kind lifecycle.Kind, id string) (*lifecycle.Record, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT state, linked_id, version, updated_at
		   FROM lifecycle_entities
		  WHERE kind = ? AND id = ?`,
		string(kind), id,
	)
	rec := &lifecycle.Record{Kind: kind, ID: id}
	var state string
	var updated int64
	if err := row.Scan(&state, &rec.LinkedID, &rec.Version, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	rec.State = lifecycle.State(state)
	rec.UpdatedAt = fromMillis(updated)
	return rec, nil
}

// Save writes rec if the stored version still equals rec.Version.
func (s *Store) Save(ctx context.Context, rec *lifecycle.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE lifecycle_entities
		    SET state = ?, linked_id = ?, version = version + 1, updated_at = ?
		  WHERE kind = ? AND id = ? AND version = ?`,
		string(rec.State), rec.LinkedID, toMillis(rec.UpdatedAt),
		string(rec.Kind), rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", rec.Kind, rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save %s %s: %w", rec.Kind, rec.ID, err)
	}
	if n == 0 {
		if _, err := s.Load(ctx, rec.Kind, rec.ID); err != nil {
			return err
		}
		return &lifecycle.ConflictError{Kind: rec.Kind, EntityID: rec.ID, Version: rec.Version}
	}
	rec.Version++
	return nil
}

// ListLinked returns the records of kind linked to linkedID, ordered by id.
func (s *Store) ListLinked(ctx context.Context, kind lifecycle.Kind, linkedID string) ([]*lifecycle.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, state, version, updated_at
		   FROM lifecycle_entities
		  WHERE kind = ? AND linked_id = ?
		  ORDER BY id`,
		string(kind), linkedID,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s linked to %s: %w", kind, linkedID, err)
	}
	defer rows.Close()

	var out []*lifecycle.Record
	for rows.Next() {
		rec := &lifecycle.Record{Kind: kind, LinkedID: linkedID}
		var state string
		var updated int64
		if err := rows.Scan(&rec.ID, &state, &rec.Version, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		rec.State = lifecycle.State(state)
		rec.UpdatedAt = fromMillis(updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Append inserts an audit record.
func (s *Store) Append(ctx context.Context, rec *audit.Record) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO audit_records (
		   id, event_id, entity_id, kind, from_state, to_state,
		   action, reason, description, occurred_at, recorded_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EventID, rec.EntityID, string(rec.Kind),
		string(rec.From), string(rec.To), string(rec.Action),
		rec.Reason, rec.Description,
		toMillis(rec.OccurredAt), toMillis(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// List returns the audit trail of one entity in append order.
func (s *Store) List(ctx context.Context, kind lifecycle.Kind, entityID string) ([]*audit.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, event_id, from_state, to_state, action, reason,
		        description, occurred_at, recorded_at
		   FROM audit_records
		  WHERE kind = ? AND entity_id = ?
		  ORDER BY seq`,
		string(kind), entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []*audit.Record
	for rows.Next() {
		rec := &audit.Record{Kind: kind, EntityID: entityID}
		var from, to, action string
		var occurred, recorded int64
		if err := rows.Scan(&rec.ID, &rec.EventID, &from, &to, &action, &rec.Reason,
			&rec.Description, &occurred, &recorded); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.From = lifecycle.State(from)
		rec.To = lifecycle.State(to)
		rec.Action = lifecycle.Action(action)
		rec.OccurredAt = fromMillis(occurred)
		rec.RecordedAt = fromMillis(recorded)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
