package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Protocol:  ProtocolCCC,
		Type:      MsgCCCPrepare,
		Sequence:  42,
		CreatedAt: 1700000000,
	}
	data := []byte("stripe-unit payload bytes")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h, data))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, h.Protocol, got.Header.Protocol)
	require.Equal(t, h.Type, got.Header.Type)
	require.Equal(t, h.Sequence, got.Header.Sequence)
	require.Equal(t, h.CreatedAt, got.Header.CreatedAt)
	require.EqualValues(t, len(data), got.Header.Length)
	require.Equal(t, data, got.Data)
}

func TestEncodeDecodeZeroLengthRoundTrip(t *testing.T) {
	h := Header{Protocol: ProtocolSPN, Type: MsgPingpong, Sequence: 1}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h, nil))
	require.NoError(t, Encode(&buf, h, []byte{})) // must not write trailing bytes either way

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 0, got.Header.Length)
	require.Empty(t, got.Data)
}

func TestDecodeShortPayloadIsMalformed(t *testing.T) {
	h := Header{Protocol: ProtocolSPN, Type: MsgReadReq, Length: 10}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h, []byte("abcdefghij")))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-5])

	_, err := Decode(truncated)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestDecodeUnknownProtocolIsMalformed(t *testing.T) {
	h := Header{Protocol: ProtocolID(200), Type: MsgPingpong}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h, nil))

	_, err := Decode(&buf)
	require.ErrorIs(t, err, ErrMessageMalformed)
}

func TestDecodeEOFOnEmptyStream(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}
