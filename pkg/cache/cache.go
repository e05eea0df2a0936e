// Package cache implements the per-(inum,stripe) data-object cache: a
// current block, speculative unconfirmed/confirmed maps keyed by parity
// version, the stripe's version vector, and garbage collection against the
// block store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/blockstore"
)

var (
	// ErrClosed is returned when the cache has been shut down.
	ErrClosed = errors.New("cache: closed")
	// ErrNoCurrent is returned by operations that require an existing
	// current block when none has been set yet.
	ErrNoCurrent = errors.New("cache: no current block")
)

type key struct {
	inum, stripe uint64
}

// entry is one (inum, stripe) cache line. All mutation is serialized by mu,
// matching the spec's "per-cache-entry mutex for version-vector mutation
// and promotion."
type entry struct {
	mu          sync.Mutex
	groupSize   uint32
	current     *blockstore.Block
	unconfirmed map[uint64]*blockstore.Block
	confirmed   map[uint64]*blockstore.Block
	dirty       bool
}

func newEntry(groupSize uint32) *entry {
	return &entry{
		groupSize:   groupSize,
		unconfirmed: make(map[uint64]*blockstore.Block),
		confirmed:   make(map[uint64]*blockstore.Block),
	}
}

func (e *entry) paritySlot() uint64 {
	if e.current == nil {
		return blockstore.VersionNone
	}
	return e.current.ParitySlot()
}

// Cache owns every (inum, stripe) entry on a server node.
type Cache struct {
	store   blockstore.Store
	metrics Metrics

	mu      sync.RWMutex
	entries map[key]*entry

	closed atomic.Bool
}

// New creates a cache backed by store. metrics may be nil for zero-overhead
// operation (the same nil-safe pattern the ambient metrics package uses
// elsewhere).
func New(store blockstore.Store, metrics Metrics) *Cache {
	return &Cache{
		store:   store,
		metrics: metrics,
		entries: make(map[key]*entry),
	}
}

func (c *Cache) entryFor(k key, groupSize uint32) *entry {
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[k]; ok {
		return e
	}
	e = newEntry(groupSize)
	c.entries[k] = e
	return e
}

// NextVersionVector atomically increments slot myUnit of (inum, stripe)'s
// version vector, merges any caller-supplied non-zero slots into the
// result (last-writer-wins against zero slots), and returns the merged
// vector. groupSize sizes a freshly created entry's vector.
func (c *Cache) NextVersionVector(ctx context.Context, inum, stripe uint64, groupSize uint32, myUnit uint32, merge []uint64) ([]uint64, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	e := c.entryFor(key{inum, stripe}, groupSize)

	e.mu.Lock()
	defer e.mu.Unlock()

	vec := make([]uint64, groupSize)
	if e.current != nil {
		copy(vec, e.current.Metadata.VersionVector)
	}
	vec[myUnit]++
	for i, v := range merge {
		if i < len(vec) && v != 0 {
			vec[i] = v
		}
	}
	return vec, nil
}

// GetCurrent returns the entry's current block, if any.
func (c *Cache) GetCurrent(ctx context.Context, inum, stripe uint64) (*blockstore.Block, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.mu.RLock()
	e, ok := c.entries[key{inum, stripe}]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, nil
}

// GetLatestUnconfirmed returns the highest-versioned staged block for
// (inum, stripe) if one exists, else falls back to current.
func (c *Cache) GetLatestUnconfirmed(ctx context.Context, inum, stripe uint64) (*blockstore.Block, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.mu.RLock()
	e, ok := c.entries[key{inum, stripe}]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var best *blockstore.Block
	var bestVersion uint64
	for v, b := range e.unconfirmed {
		if best == nil || v > bestVersion {
			best, bestVersion = b, v
		}
	}
	if best != nil {
		return best, nil
	}
	return e.current, nil
}

// SetCurrent replaces the entry's current block, discarding the previous
// one, and sizes a freshly created entry's vector from groupSize.
func (c *Cache) SetCurrent(ctx context.Context, inum, stripe uint64, groupSize uint32, b blockstore.Block) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := c.entryFor(key{inum, stripe}, groupSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = &b
	e.dirty = true
	if c.metrics != nil {
		c.metrics.RecordCurrentVersion(inum, stripe, b.ParitySlot())
	}
	return nil
}

// ParityUnconfirmed inserts b into the unconfirmed map keyed by its own
// parity-slot version, awaiting ParityConfirm.
func (c *Cache) ParityUnconfirmed(ctx context.Context, inum, stripe uint64, groupSize uint32, b blockstore.Block) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := c.entryFor(key{inum, stripe}, groupSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.unconfirmed[b.ParitySlot()] = &b
	return nil
}

// ParityConfirm promotes the unconfirmed block at version to current when
// it is the immediate successor of current's parity slot, then repeatedly
// drains the confirmed map for any now-contiguous successors. If version is
// not yet contiguous, the staged block moves from unconfirmed to confirmed
// to await its turn — this is what keeps the current chain gap-free.
func (c *Cache) ParityConfirm(ctx context.Context, inum, stripe uint64, groupSize uint32, version uint64) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := c.entryFor(key{inum, stripe}, groupSize)

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.paritySlot() + 1
	if version != next {
		if b, ok := e.unconfirmed[version]; ok {
			e.confirmed[version] = b
			delete(e.unconfirmed, version)
		}
		return nil
	}

	b, ok := e.unconfirmed[version]
	if !ok {
		return fmt.Errorf("cache: parity_confirm: version %d not staged for (%d,%d)", version, inum, stripe)
	}
	delete(e.unconfirmed, version)
	e.current = b
	e.dirty = true
	if c.metrics != nil {
		c.metrics.RecordCurrentVersion(inum, stripe, version)
	}

	for {
		next = e.paritySlot() + 1
		b, ok := e.confirmed[next]
		if !ok {
			break
		}
		delete(e.confirmed, next)
		e.current = b
	}
	return nil
}

// GarbageCollect walks every dirty entry and prunes block-store versions
// below its current parity-slot version.
func (c *Cache) GarbageCollect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.RLock()
	snapshot := make(map[key]*entry, len(c.entries))
	for k, e := range c.entries {
		snapshot[k] = e
	}
	c.mu.RUnlock()

	var reclaimed int
	for k, e := range snapshot {
		e.mu.Lock()
		dirty := e.dirty
		hwm := e.paritySlot()
		e.dirty = false
		e.mu.Unlock()

		if !dirty || hwm == blockstore.VersionNone {
			continue
		}
		if err := c.store.PruneBelow(ctx, k.inum, k.stripe, hwm); err != nil {
			logger.Warn("cache gc: prune failed", "inum", k.inum, "stripe", k.stripe, "hwm", hwm, "error", err)
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 && c.metrics != nil {
		c.metrics.RecordGCSweep(reclaimed)
	}
	return nil
}

// Close marks the cache closed; further operations return ErrClosed.
func (c *Cache) Close() error {
	c.closed.Store(true)
	return nil
}

// Stats reports a snapshot of cache occupancy, mirroring the ambient
// Stats-method pattern the teacher's cache used for its own metrics.
type Stats struct {
	Entries     int
	Unconfirmed int
	Confirmed   int
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Entries: len(c.entries)}
	for _, e := range c.entries {
		e.mu.Lock()
		s.Unconfirmed += len(e.unconfirmed)
		s.Confirmed += len(e.confirmed)
		e.mu.Unlock()
	}
	return s
}
