package domain

import "context"

// PersistentStore is a minimal abstraction over durable backends holding the
// snapshot of a single titration.
type PersistentStore interface {
	// Load returns the stored snapshot; ok is false when nothing was saved yet.
	Load(ctx context.Context) (state State, ok bool, err error)
	Save(ctx context.Context, state State) error
	Close() error
}
