package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intent.wal")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(Entry{Inode: 1, Stripe: 0, Version: 1, ClientSessionID: 7, Sequence: 1}))
	require.NoError(t, l.Append(Entry{Inode: 1, Stripe: 0, Version: 2, ClientSessionID: 7, Sequence: 2}))

	pending := l.Pending()
	require.Len(t, pending, 2)
	require.EqualValues(t, 1, pending[0].Version)
	require.EqualValues(t, 2, pending[1].Version)
}

func TestTruncateClearsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intent.wal")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(Entry{Inode: 1, Stripe: 0, Version: 1}))
	require.NoError(t, l.Truncate())
	require.Empty(t, l.Pending())
}

func TestReopenRecoversPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intent.wal")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Entry{Inode: 5, Stripe: 2, Version: 9}))
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	pending := l2.Pending()
	require.Len(t, pending, 1)
	require.EqualValues(t, 9, pending[0].Version)
}
