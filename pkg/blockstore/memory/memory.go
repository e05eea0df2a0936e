// Package memory is an in-memory blockstore.Store for unit tests.
package memory

import (
	"context"
	"sync"

	"github.com/netraid/netraid/pkg/blockstore"
)

type key struct {
	inum, stripe, version uint64
}

// Store keeps every written version in memory; nothing is ever evicted
// except by explicit PruneBelow.
type Store struct {
	mu     sync.RWMutex
	blocks map[key]blockstore.Block
	closed bool
}

// New creates an empty in-memory block store.
func New() *Store {
	return &Store{blocks: make(map[key]blockstore.Block)}
}

func (s *Store) WriteBlock(ctx context.Context, inum, stripe, version uint64, b blockstore.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return blockstore.ErrClosed
	}
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	b.Data = data
	s.blocks[key{inum, stripe, version}] = b
	return nil
}

func (s *Store) ReadCurrent(ctx context.Context, inum, stripe uint64) (blockstore.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blockstore.Block{}, blockstore.ErrClosed
	}
	max, ok := s.maxLocked(inum, stripe)
	if !ok {
		return blockstore.Block{}, blockstore.ErrNotFound
	}
	return s.blocks[key{inum, stripe, max}], nil
}

func (s *Store) MaxVersion(ctx context.Context, inum, stripe uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, blockstore.ErrClosed
	}
	max, _ := s.maxLocked(inum, stripe)
	return max, nil
}

func (s *Store) maxLocked(inum, stripe uint64) (uint64, bool) {
	var max uint64
	found := false
	for k := range s.blocks {
		if k.inum == inum && k.stripe == stripe && (!found || k.version > max) {
			max = k.version
			found = true
		}
	}
	return max, found
}

func (s *Store) PruneBelow(ctx context.Context, inum, stripe, hwm uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return blockstore.ErrClosed
	}
	for k := range s.blocks {
		if k.inum == inum && k.stripe == stripe && k.version < hwm {
			delete(s.blocks, k)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.blocks = nil
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blockstore.ErrClosed
	}
	return nil
}

var _ blockstore.Store = (*Store)(nil)
