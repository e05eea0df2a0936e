// Package fs is the filesystem-backed blockstore.Store implementation: the
// durable source of truth for stripe block versions, laid out as
// <base>/serverid_<id>/<inum>/<stripe>/<version>.
package fs

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/netraid/netraid/pkg/parity"
)

// Store persists blocks as regular files under a per-server base directory.
// Each write goes to a temporary file that is renamed into place. Store
// takes no per-(inum, stripe) lock: its only mutex guards the closed flag,
// so concurrent writes to the same (inum, stripe) are not serialized here.
type Store struct {
	base   string
	fsync  bool
	mu     sync.Mutex
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithFsync enables an fsync before close on every write, trading latency
// for durability against a crash immediately after write.
func WithFsync(enabled bool) Option {
	return func(s *Store) { s.fsync = enabled }
}

// New creates a filesystem block store rooted at
// <base>/serverid_<serverID>.
func New(base string, serverID uint32, opts ...Option) (*Store, error) {
	root := filepath.Join(base, fmt.Sprintf("serverid_%d", serverID))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore/fs: create root %s: %w", root, err)
	}
	s := &Store{base: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) stripeDir(inum, stripe uint64) string {
	return filepath.Join(s.base, strconv.FormatUint(inum, 10), strconv.FormatUint(stripe, 10))
}

func (s *Store) WriteBlock(ctx context.Context, inum, stripe, version uint64, b blockstore.Block) error {
	if s.isClosed() {
		return blockstore.ErrClosed
	}

	dir := s.stripeDir(inum, stripe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blockstore/fs: mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, strconv.FormatUint(version, 10))
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("blockstore/fs: create %s: %w", tmp, err)
	}
	defer os.Remove(tmp)

	metaBytes := blockstore.EncodeMetadata(b.Metadata)
	checksum := parity.Checksum(metaBytes)

	if _, err := f.Write(metaBytes); err != nil {
		f.Close()
		return fmt.Errorf("blockstore/fs: write metadata: %w", err)
	}
	if _, err := f.Write(b.Data); err != nil {
		f.Close()
		return fmt.Errorf("blockstore/fs: write data: %w", err)
	}
	var checksumBuf [4]byte
	binary.BigEndian.PutUint32(checksumBuf[:], checksum)
	if _, err := f.Write(checksumBuf[:]); err != nil {
		f.Close()
		return fmt.Errorf("blockstore/fs: write checksum: %w", err)
	}

	if s.fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("blockstore/fs: fsync: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("blockstore/fs: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("blockstore/fs: rename into place: %w", err)
	}

	logger.Debug("blockstore wrote block", "inum", inum, "stripe", stripe, "version", version, "bytes", len(b.Data))
	return nil
}

func (s *Store) ReadCurrent(ctx context.Context, inum, stripe uint64) (blockstore.Block, error) {
	version, err := s.MaxVersion(ctx, inum, stripe)
	if err != nil {
		return blockstore.Block{}, err
	}
	if version == blockstore.VersionNone {
		return blockstore.Block{}, blockstore.ErrNotFound
	}
	return s.readVersion(inum, stripe, version)
}

func (s *Store) readVersion(inum, stripe, version uint64) (blockstore.Block, error) {
	path := filepath.Join(s.stripeDir(inum, stripe), strconv.FormatUint(version, 10))

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return blockstore.Block{}, blockstore.ErrNotFound
		}
		return blockstore.Block{}, fmt.Errorf("blockstore/fs: read %s: %w", path, err)
	}
	if len(raw) < 4 {
		return blockstore.Block{}, fmt.Errorf("%w: %s: truncated file", blockstore.ErrChecksumMismatch, path)
	}

	checksum := binary.BigEndian.Uint32(raw[len(raw)-4:])
	body := raw[:len(raw)-4]

	meta, metaLen, err := blockstore.DecodeMetadata(body)
	if err != nil {
		return blockstore.Block{}, fmt.Errorf("%w: %s: %v", blockstore.ErrChecksumMismatch, path, err)
	}
	metaBytes := body[:metaLen]
	if !parity.Verify(metaBytes, checksum) {
		return blockstore.Block{}, fmt.Errorf("%w: %s", blockstore.ErrChecksumMismatch, path)
	}

	data := body[metaLen:]
	if uint64(len(data)) != meta.DataLength {
		return blockstore.Block{}, fmt.Errorf("%w: %s: datalength mismatch", blockstore.ErrChecksumMismatch, path)
	}

	return blockstore.Block{Metadata: meta, Data: data, Checksum: checksum}, nil
}

func (s *Store) MaxVersion(ctx context.Context, inum, stripe uint64) (uint64, error) {
	dir := s.stripeDir(inum, stripe)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return blockstore.VersionNone, nil
		}
		return 0, fmt.Errorf("blockstore/fs: readdir %s: %w", dir, err)
	}

	var max uint64
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".tmp" {
			continue
		}
		v, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}

func (s *Store) PruneBelow(ctx context.Context, inum, stripe, hwm uint64) error {
	dir := s.stripeDir(inum, stripe)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("blockstore/fs: readdir %s: %w", dir, err)
	}

	versions := make([]uint64, 0, len(entries))
	names := make(map[uint64]string, len(entries))
	for _, e := range entries {
		v, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
		names[v] = e.Name()
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	var pruned int
	for _, v := range versions {
		if v >= hwm {
			break
		}
		path := filepath.Join(dir, names[v])
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("blockstore/fs: prune %s: %w", path, err)
		}
		pruned++
	}
	if pruned > 0 {
		logger.Debug("blockstore pruned versions", "inum", inum, "stripe", stripe, "hwm", hwm, "count", pruned)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if s.isClosed() {
		return blockstore.ErrClosed
	}
	probe := filepath.Join(s.base, ".health")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("blockstore/fs: health check: %w", err)
	}
	f.Close()
	return os.Remove(probe)
}

