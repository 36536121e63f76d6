package lifecycle

import "context"

// EntityStore persists lifecycle records. Save must be atomic relative to
// concurrent saves of the same identifier: it succeeds only when the stored
// version equals rec.Version, then increments it, and otherwise returns an
// error matching ErrConcurrencyConflict. Load returns ErrNotFound for unknown
// ids and *UnknownStateError when the stored name is not registered.
type EntityStore interface {
	Create(ctx context.Context, rec *Record) error
	Load(ctx context.Context, kind Kind, id string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	ListLinked(ctx context.Context, kind Kind, linkedID string) ([]*Record, error)
}
