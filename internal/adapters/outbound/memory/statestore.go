// Package memory provides in-memory adapters for tests and local dry runs.
//
// All types are safe for concurrent use.
package memory

import (
	"context"
	"sync"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.StateRepository = (*StateStore)(nil)

// StateStore keeps the encoded state document in memory. Documents go
// through EncodeState/DecodeState so callers see the same copy semantics as
// the persistent stores.
type StateStore struct {
	mu       sync.Mutex
	data     []byte
	defaults entity.State
	saves    int

	// SaveErr, when set, is returned by Save and nothing is stored.
	SaveErr error
}

// NewStateStore creates an empty store.
func NewStateStore(defaults entity.State) *StateStore {
	return &StateStore{defaults: defaults}
}

// Load returns a decoded copy of the last saved document.
func (s *StateStore) Load(ctx context.Context) (*entity.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil, entity.ErrStateNotFound
	}
	return entity.DecodeState(s.data, s.defaults)
}

// Save encodes and stores st.
func (s *StateStore) Save(ctx context.Context, st *entity.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}
	data, err := entity.EncodeState(*st)
	if err != nil {
		return err
	}
	s.data = data
	s.saves++
	return nil
}

// Saves returns how many successful saves happened.
func (s *StateStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
