package parity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXORBasic(t *testing.T) {
	a := []byte{0x0f, 0xf0, 0xaa, 0x55, 0x01, 0x02, 0x03, 0x04, 0x09}
	b := []byte{0xff, 0x0f, 0xaa, 0x00, 0x10, 0x20, 0x30, 0x40, 0x01}

	got := XOR(nil, a, b)
	require.Len(t, got, len(a))
	for i := range a {
		require.Equal(t, a[i]^b[i], got[i])
	}
}

func TestXORIsSelfInverse(t *testing.T) {
	existing := []byte("abcdefghij")
	next := []byte("ABCDEFGHIJ")

	delta := Piece(nil, next, existing)
	recovered := XOR(nil, delta, existing)
	require.Equal(t, next, recovered)
}

func TestXORMismatchedLengthPanics(t *testing.T) {
	require.Panics(t, func() {
		XOR(nil, []byte{1, 2}, []byte{1})
	})
}

func TestPieceNoExisting(t *testing.T) {
	next := []byte("hello!!!")
	got := Piece(nil, next, nil)
	require.Equal(t, next, got)
}

func TestPartialStripeParityInvariant(t *testing.T) {
	// Property 7 of the spec: P' = P XOR E XOR N.
	existing := []byte{1, 2, 3, 4}
	next := []byte{5, 6, 7, 8}
	oldParity := []byte{9, 9, 9, 9}

	delta := Piece(nil, next, existing)
	newParity := XOR(nil, oldParity, delta)

	want := XOR(nil, XOR(nil, oldParity, existing), next)
	require.Equal(t, want, newParity)
}

func TestChecksumDeterministic(t *testing.T) {
	b := []byte("some metadata bytes of arbitrary length")
	require.Equal(t, Checksum(b), Checksum(append([]byte{}, b...)))
}

func TestChecksumVerify(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	sum := Checksum(b)
	require.True(t, Verify(b, sum))
	require.False(t, Verify(b, sum+1))
}

func TestChecksumShortTail(t *testing.T) {
	// Length not a multiple of 4; must not panic and must round-trip.
	b := []byte{1, 2, 3}
	sum := Checksum(b)
	require.True(t, Verify(b, sum))
}

func TestChecksumEmpty(t *testing.T) {
	require.Equal(t, uint32(0), Checksum(nil))
}
