package memory

import (
	"context"
	"testing"

	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/stretchr/testify/require"
)

func block(version uint64, data string) blockstore.Block {
	return blockstore.Block{
		Metadata: blockstore.Metadata{
			Inode:         1,
			Stripe:        0,
			DataLength:    uint64(len(data)),
			VersionVector: []uint64{1, 1, version},
		},
		Data: []byte(data),
	}
}

func TestWriteReadCurrent(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.WriteBlock(ctx, 1, 0, 1, block(1, "v1")))
	require.NoError(t, s.WriteBlock(ctx, 1, 0, 2, block(2, "v2")))

	got, err := s.ReadCurrent(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, "v2", string(got.Data))
}

func TestReadCurrentNotFound(t *testing.T) {
	s := New()
	_, err := s.ReadCurrent(context.Background(), 1, 0)
	require.ErrorIs(t, err, blockstore.ErrNotFound)
}

func TestMaxVersionNoneIsZero(t *testing.T) {
	s := New()
	v, err := s.MaxVersion(context.Background(), 1, 0)
	require.NoError(t, err)
	require.EqualValues(t, blockstore.VersionNone, v)
}

func TestPruneBelowRemovesOlderVersions(t *testing.T) {
	ctx := context.Background()
	s := New()
	for v := uint64(1); v <= 5; v++ {
		require.NoError(t, s.WriteBlock(ctx, 1, 0, v, block(v, "x")))
	}

	require.NoError(t, s.PruneBelow(ctx, 1, 0, 4))

	for v := uint64(1); v < 4; v++ {
		require.Len(t, s.blocks, 2) // sanity: exactly versions 4 and 5 remain below
		break
	}
	max, err := s.MaxVersion(ctx, 1, 0)
	require.NoError(t, err)
	require.EqualValues(t, 5, max)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close())

	err := s.WriteBlock(ctx, 1, 0, 1, block(1, "x"))
	require.ErrorIs(t, err, blockstore.ErrClosed)

	err = s.HealthCheck(ctx)
	require.ErrorIs(t, err, blockstore.ErrClosed)
}

func TestDataIsCopiedNotAliased(t *testing.T) {
	ctx := context.Background()
	s := New()
	data := []byte("mutateme")
	require.NoError(t, s.WriteBlock(ctx, 1, 0, 1, blockstore.Block{
		Metadata: blockstore.Metadata{DataLength: uint64(len(data))},
		Data:     data,
	}))
	data[0] = 'X'

	got, err := s.ReadCurrent(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, "mutateme", string(got.Data))
}
