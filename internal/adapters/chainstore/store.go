// Package chainstore holds the latest observed on-chain account state,
// merging concurrent writes by (slot, write version) and exposing a
// cheap read path for the ring executor's hot loop.
package chainstore

import (
	"sync"

	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/ports"
)

// Store is a concurrency-safe, in-memory account cache. Reads take a
// read lock; writes are serialized behind a write lock, matching the
// RWMutex pattern the teacher uses for its interior mutable state.
type Store struct {
	mu          sync.RWMutex
	accounts    map[domain.Mint]ports.AccountRecord
	newestSlot  uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{accounts: make(map[domain.Mint]ports.AccountRecord)}
}

// UpdateAccount merges rec into the store, keeping the existing record if
// it is already at least as fresh by (slot, write version).
func (s *Store) UpdateAccount(rec ports.AccountRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[rec.Pubkey]
	if ok && !isNewer(rec, existing) {
		return
	}
	s.accounts[rec.Pubkey] = rec
}

// isNewer implements the merge rule spec.md §4.A describes: the highest
// write version wins within a slot, and a higher slot wins across slots
// unless doing so would discard an already-rooted (finalized) record in
// favor of one that is not yet rooted — an un-rooted higher slot may
// still be rolled back by a fork, so the rooted record is kept until the
// newer slot is rooted too.
func isNewer(incoming, existing ports.AccountRecord) bool {
	if incoming.Slot != existing.Slot {
		if incoming.Slot > existing.Slot {
			return incoming.Rooted || !existing.Rooted
		}
		return false
	}
	if incoming.WriteVersion != existing.WriteVersion {
		return incoming.WriteVersion > existing.WriteVersion
	}
	return incoming.Rooted && !existing.Rooted
}

// UpdateSlot advances the store's notion of the newest processed slot.
// It never moves backward.
func (s *Store) UpdateSlot(slot uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot > s.newestSlot {
		s.newestSlot = slot
	}
}

// Account returns the latest known record for pubkey, if any.
func (s *Store) Account(pubkey domain.Mint) (ports.AccountRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.accounts[pubkey]
	return rec, ok
}

// NewestSlot returns the highest slot UpdateSlot has observed.
func (s *Store) NewestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestSlot
}
