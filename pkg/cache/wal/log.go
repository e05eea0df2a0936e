// Package wal is a small mmap-backed write-ahead intent log recording
// "unconfirmed block written, awaiting Committed" entries, so a restarted
// node can detect in-flight operations it can no longer complete and fail
// them instead of silently losing its unconfirmed/confirmed maps.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	magic      = uint32(0x4e524c47) // "NRLG"
	recordSize = 40                 // inum(8) + stripe(8) + version(8) + ccoid_sess(8) + ccoid_seq(8)
	mapSize    = 64 * 1024 * 1024   // 64MiB; Append returns an error once it is full
)

// Entry is one in-flight-write intent recorded before a block is handed to
// the coordinator's unconfirmed map.
type Entry struct {
	Inode           uint64
	Stripe          uint64
	Version         uint64
	ClientSessionID uint64
	Sequence        uint64
}

// Log is an append-only, mmap-backed record of pending commit intents.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	data   []byte
	offset int64
}

// Open opens or creates the intent log at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}

	if info.Size() < mapSize {
		if err := f.Truncate(mapSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: mmap %s: %w", path, err)
	}

	l := &Log{file: f, data: data}
	l.offset = l.scanTail()
	return l, nil
}

// scanTail walks existing records to find the first unwritten offset,
// stopping at the first record whose magic doesn't match (uninitialized
// space). Records carry no checksum, so a torn record whose magic was
// already written is not detected.
func (l *Log) scanTail() int64 {
	var off int64
	for off+recordSize+8 <= int64(len(l.data)) {
		header := binary.BigEndian.Uint32(l.data[off:])
		if header != magic {
			break
		}
		off += 8 + recordSize
	}
	return off
}

// Append records an in-flight write intent.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.offset+8+recordSize > int64(len(l.data)) {
		return fmt.Errorf("wal: log full at offset %d", l.offset)
	}

	rec := make([]byte, 8+recordSize)
	binary.BigEndian.PutUint32(rec[0:4], magic)
	binary.BigEndian.PutUint64(rec[8:16], e.Inode)
	binary.BigEndian.PutUint64(rec[16:24], e.Stripe)
	binary.BigEndian.PutUint64(rec[24:32], e.Version)
	binary.BigEndian.PutUint64(rec[32:40], e.ClientSessionID)
	binary.BigEndian.PutUint64(rec[40:48], e.Sequence)

	copy(l.data[l.offset:], rec)
	l.offset += int64(len(rec))
	return nil
}

// Truncate resets the log to empty, called once every active intent has
// either committed or been confirmed failed.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.data {
		l.data[i] = 0
	}
	l.offset = 0
	return nil
}

// Pending returns every recorded intent not yet truncated, for replay at
// startup.
func (l *Log) Pending() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []Entry
	var off int64
	for off < l.offset {
		rec := l.data[off+8 : off+8+recordSize]
		entries = append(entries, Entry{
			Inode:           binary.BigEndian.Uint64(rec[0:8]),
			Stripe:          binary.BigEndian.Uint64(rec[8:16]),
			Version:         binary.BigEndian.Uint64(rec[16:24]),
			ClientSessionID: binary.BigEndian.Uint64(rec[24:32]),
			Sequence:        binary.BigEndian.Uint64(rec[32:40]),
		})
		off += 8 + recordSize
	}
	return entries
}

// Sync flushes the mapped pages to disk.
func (l *Log) Sync() error {
	return unix.Msync(l.data, unix.MS_SYNC)
}

// Close unmaps and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := unix.Munmap(l.data); err != nil {
		return fmt.Errorf("wal: munmap: %w", err)
	}
	return l.file.Close()
}
