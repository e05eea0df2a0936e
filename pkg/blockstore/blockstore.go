// Package blockstore implements the on-disk persistence primitives for
// versioned stripe blocks: write a new version, read the current (highest)
// version, and prune versions superseded by a high-water mark.
package blockstore

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/netraid/netraid/pkg/parity"
)

// VersionNone is the reserved "no version written yet" value.
const VersionNone uint64 = 0

var (
	// ErrNotFound is returned when no version of a stripe's block exists.
	ErrNotFound = errors.New("blockstore: no version present")
	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("blockstore: store is closed")
	// ErrChecksumMismatch is returned when a read block's recomputed
	// checksum does not match what was persisted alongside it.
	ErrChecksumMismatch = errors.New("blockstore: checksum mismatch")
)

// Metadata is the fixed header persisted ahead of a block's data bytes.
type Metadata struct {
	ClientSessionID uint64
	Sequence        uint64
	Inode           uint64
	Stripe          uint64
	Offset          uint64
	OperationLength uint64
	DataLength      uint64
	VersionVector   []uint64 // length G, one slot per stripe unit including parity
}

// Block is a persistent unit: metadata, its data, and a checksum computed
// over the metadata bytes.
type Block struct {
	Metadata Metadata
	Data     []byte
	Checksum uint32
}

// ParitySlot returns the block's own position in its version vector — for a
// block written by the parity server this is VersionVector[len-1]; callers
// that already know G-1 can index directly.
func (b Block) ParitySlot() uint64 {
	if len(b.Metadata.VersionVector) == 0 {
		return VersionNone
	}
	return b.Metadata.VersionVector[len(b.Metadata.VersionVector)-1]
}

// Verify recomputes the checksum over b's metadata and compares it against
// b.Checksum, the check every block undergoes before its data is trusted
// (on disk read and on client-side read fan-in alike).
func (b Block) Verify() bool {
	return parity.Verify(EncodeMetadata(b.Metadata), b.Checksum)
}

// EncodeMetadata serializes Metadata as a fixed field block followed by the
// version vector, length-prefixed. Field order and width are fixed so the
// checksum is endian-consistent with persistence across restarts and with
// what a reader recomputes from a block received over the wire.
func EncodeMetadata(m Metadata) []byte {
	buf := make([]byte, 7*8+4+len(m.VersionVector)*8)
	off := 0
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[off:], v)
		off += 8
	}
	putU64(m.ClientSessionID)
	putU64(m.Sequence)
	putU64(m.Inode)
	putU64(m.Stripe)
	putU64(m.Offset)
	putU64(m.OperationLength)
	putU64(m.DataLength)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(m.VersionVector)))
	off += 4
	for _, v := range m.VersionVector {
		putU64(v)
	}
	return buf
}

// DecodeMetadata parses the fixed field block written by EncodeMetadata and
// returns the number of bytes consumed.
func DecodeMetadata(b []byte) (Metadata, int, error) {
	const fixedLen = 7*8 + 4
	if len(b) < fixedLen {
		return Metadata{}, 0, io.ErrUnexpectedEOF
	}
	off := 0
	getU64 := func() uint64 {
		v := binary.BigEndian.Uint64(b[off:])
		off += 8
		return v
	}

	var m Metadata
	m.ClientSessionID = getU64()
	m.Sequence = getU64()
	m.Inode = getU64()
	m.Stripe = getU64()
	m.Offset = getU64()
	m.OperationLength = getU64()
	m.DataLength = getU64()
	vecLen := binary.BigEndian.Uint32(b[off:])
	off += 4

	needed := int(vecLen) * 8
	if len(b)-off < needed {
		return Metadata{}, 0, io.ErrUnexpectedEOF
	}
	m.VersionVector = make([]uint64, vecLen)
	for i := range m.VersionVector {
		m.VersionVector[i] = getU64()
	}
	return m, off, nil
}

// Store is the per-server persistence interface for versioned stripe
// blocks, implemented by fs.Store (production) and memory.Store (tests).
type Store interface {
	// WriteBlock persists block as the named version of (inum, stripe),
	// creating parent directories as needed. Returns ErrClosed if the
	// store has been closed.
	WriteBlock(ctx context.Context, inum, stripe, version uint64, block Block) error

	// ReadCurrent returns the block at the highest version present for
	// (inum, stripe). Returns ErrNotFound if no version exists, or
	// ErrChecksumMismatch if the highest-version file is corrupt.
	ReadCurrent(ctx context.Context, inum, stripe uint64) (Block, error)

	// MaxVersion returns the highest version present for (inum, stripe),
	// or VersionNone if none exists.
	MaxVersion(ctx context.Context, inum, stripe uint64) (uint64, error)

	// PruneBelow deletes every version of (inum, stripe) strictly below hwm.
	PruneBelow(ctx context.Context, inum, stripe, hwm uint64) error

	// Close releases resources held by the store.
	Close() error

	// HealthCheck verifies the store is reachable and writable.
	HealthCheck(ctx context.Context) error
}
