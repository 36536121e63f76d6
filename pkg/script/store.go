package script

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound is returned by stores when no snapshot exists for a call.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store persists the latest checkpoint of each call's session.
type Store interface {
	Put(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, callID string) (Snapshot, error)
	Delete(ctx context.Context, callID string) error
}
