// Package memory provides the in-memory persistent store and the bucket
// codec shared by the SQL backends.
package memory

import (
	"context"
	"maps"
	"sync"

	"shift2me/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// Store keeps encoded bucket payloads in memory. Snapshots go through the
// same codec as the durable backends, so loaded states never alias saved ones.
type Store struct {
	mu       sync.RWMutex
	payloads map[string][]byte
	saves    int
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{payloads: make(map[string][]byte)}
}

// Load returns the last saved snapshot.
func (s *Store) Load(ctx context.Context) (domain.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.State{}, false, err
	}
	s.mu.RLock()
	payloads := maps.Clone(s.payloads)
	s.mu.RUnlock()
	return DecodeState(payloads)
}

// Save replaces the stored snapshot.
func (s *Store) Save(ctx context.Context, state domain.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payloads, err := EncodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = payloads
	s.saves++
	return nil
}

// Saves reports how many snapshots have been written.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
