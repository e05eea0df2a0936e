package blockstore

import (
	"testing"

	"github.com/netraid/netraid/pkg/parity"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMetadataRoundTrips(t *testing.T) {
	m := Metadata{
		ClientSessionID: 1,
		Sequence:        2,
		Inode:           3,
		Stripe:          4,
		Offset:          5,
		OperationLength: 6,
		DataLength:      7,
		VersionVector:   []uint64{1, 2, 3, 4},
	}
	buf := EncodeMetadata(m)
	got, n, err := DecodeMetadata(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, m, got)
}

func TestDecodeMetadataTruncatedIsError(t *testing.T) {
	_, _, err := DecodeMetadata([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestBlockVerify(t *testing.T) {
	m := Metadata{Inode: 1, Stripe: 2, VersionVector: []uint64{1}}
	b := Block{Metadata: m, Data: []byte("data")}
	b.Checksum = parity.Checksum(EncodeMetadata(m))

	require.True(t, b.Verify())

	b.Checksum++
	require.False(t, b.Verify())
}

func TestParitySlotEmptyVectorIsVersionNone(t *testing.T) {
	b := Block{}
	require.Equal(t, VersionNone, b.ParitySlot())
}
