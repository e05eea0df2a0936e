// Package index is a badger-backed (inum,stripe)->maxVersion index. The
// filesystem block store does not consult it: fs.Store.MaxVersion always
// scans the stripe directory, and the on-disk directory layout remains the
// durable source of truth. Rebuild overwrites one entry with a
// caller-supplied version; this package does not walk the directory layout.
package index

import (
	"context"
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/metrics"
)

// indexCacheType labels this index's metrics against other badger-backed
// caches that might share the same Prometheus registry.
const indexCacheType = "index"

// Index is a crash-tolerant cache of the highest known version per
// (inum, stripe).
type Index struct {
	db      *badger.DB
	metrics metrics.BadgerMetrics
}

// Open opens (creating if absent) a badger index rooted at dir. m may be
// nil, in which case metrics recording is skipped.
func Open(dir string, m metrics.BadgerMetrics) (*Index, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("blockstore/index: open badger at %s: %w", dir, err)
	}
	return &Index{db: db, metrics: m}, nil
}

func indexKey(inum, stripe uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], inum)
	binary.BigEndian.PutUint64(key[8:], stripe)
	return key
}

// RecordVersion stores version as the known max for (inum, stripe) if it is
// greater than what is currently indexed.
func (idx *Index) RecordVersion(ctx context.Context, inum, stripe, version uint64) error {
	return idx.db.Update(func(txn *badger.Txn) error {
		key := indexKey(inum, stripe)
		current, err := getVersion(txn, key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if version <= current {
			return nil
		}
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, version)
		return txn.Set(key, val)
	})
}

// MaxVersion returns the indexed max version for (inum, stripe), or
// (0, false) if nothing is indexed — callers should fall back to a
// directory scan in that case.
func (idx *Index) MaxVersion(ctx context.Context, inum, stripe uint64) (uint64, bool, error) {
	var version uint64
	var found bool
	err := idx.db.View(func(txn *badger.Txn) error {
		v, err := getVersion(txn, indexKey(inum, stripe))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		version, found = v, true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("blockstore/index: lookup: %w", err)
	}

	if idx.metrics != nil {
		if found {
			idx.metrics.RecordCacheHit(indexCacheType)
		} else {
			idx.metrics.RecordCacheMiss(indexCacheType)
		}
	}

	return version, found, nil
}

// PruneBelow removes the index entry if its recorded version falls below
// hwm; it is advisory bookkeeping only, never the source of truth for what
// is actually on disk.
func (idx *Index) PruneBelow(ctx context.Context, inum, stripe, hwm uint64) error {
	return idx.db.Update(func(txn *badger.Txn) error {
		key := indexKey(inum, stripe)
		v, err := getVersion(txn, key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if v < hwm {
			return txn.Delete(key)
		}
		return nil
	})
}

// Rebuild replaces the index entry for (inum, stripe) with an
// authoritatively-scanned version, used at startup or after a detected
// mismatch against the directory layout.
func (idx *Index) Rebuild(ctx context.Context, inum, stripe, scannedVersion uint64) error {
	logger.Debug("blockstore index rebuilding entry", "inum", inum, "stripe", stripe, "version", scannedVersion)
	return idx.db.Update(func(txn *badger.Txn) error {
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, scannedVersion)
		return txn.Set(indexKey(inum, stripe), val)
	})
}

func getVersion(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var version uint64
	err = item.Value(func(val []byte) error {
		version = binary.BigEndian.Uint64(val)
		return nil
	})
	return version, err
}

// Close closes the underlying badger database.
func (idx *Index) Close() error {
	return idx.db.Close()
}
