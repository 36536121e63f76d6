package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrTransitionRejected is matched by every error that means "the state
	// did not change": illegal transitions and lost concurrent updates.
	ErrTransitionRejected = errors.New("transition rejected")
	// ErrConcurrencyConflict is returned by stores when a save loses a race.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrNotFound is returned by stores for unknown identifiers.
	ErrNotFound = errors.New("entity not found")
	// ErrAlreadyExists is returned by stores when creating a duplicate id.
	ErrAlreadyExists = errors.New("entity already exists")
	// ErrUnknownKind is returned for kinds without a registered table.
	ErrUnknownKind = errors.New("unknown entity kind")
)

// IllegalTransitionError describes a rejected from → to pair.
type IllegalTransitionError struct {
	Kind     Kind
	EntityID string
	From     State
	To       State
}

func (e *IllegalTransitionError) Error() string {
	from, to := e.From, e.To
	if from == "" {
		from = "<none>"
	}
	if to == "" {
		to = "<none>"
	}
	return fmt.Sprintf("cannot move %s %s from %s to %s", e.Kind, e.EntityID, from, to)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrTransitionRejected
}

// UnknownStateError is returned when a persisted state name is not registered
// for its kind.
type UnknownStateError struct {
	Kind Kind
	Name string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown %s state %q", e.Kind, e.Name)
}

// ConflictError wraps ErrConcurrencyConflict with the entity identity.
type ConflictError struct {
	Kind     Kind
	EntityID string
	Version  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: stale version %d: %v", e.Kind, e.EntityID, e.Version, ErrConcurrencyConflict)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict || target == ErrTransitionRejected
}
