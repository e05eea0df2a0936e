// Package wire implements the on-the-wire message framing shared by every
// NetRAID protocol: a fixed binary header followed by exactly Header.Length
// bytes of opaque payload.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/rasky/go-xdr/xdr2"

	"github.com/netraid/netraid/pkg/bufpool"
)

// ProtocolID identifies which NetRAID protocol a message belongs to.
type ProtocolID uint8

const (
	ProtocolSPN   ProtocolID = 0 // storage
	ProtocolSPNBC ProtocolID = 1 // storage back-channel
	ProtocolCPN   ProtocolID = 2 // control
	ProtocolPNFS  ProtocolID = 3 // metadata
	ProtocolDSC   ProtocolID = 4 // data-server control
	ProtocolTask  ProtocolID = 5 // internal task queue
	ProtocolCCC   ProtocolID = 6 // cluster coordination
)

// MessageType is the per-protocol message discriminator. Values below are
// the cluster-coordination and storage-protocol constants from the wire
// specification; other protocols define their own ranges.
type MessageType uint8

const (
	MsgPingpong         MessageType = 125
	MsgReadReq          MessageType = 124
	MsgWriteSU          MessageType = 122
	MsgWriteS           MessageType = 123
	MsgDirectWriteSU    MessageType = 126
	MsgCCCStripewriteCC MessageType = 248
	MsgCCCPingpong      MessageType = 247
	MsgCCCResult        MessageType = 249
	MsgCCCCommitted     MessageType = 250
	MsgCCCDoCommit      MessageType = 251
	MsgCCCCanCommit     MessageType = 252
	MsgCCCPrepare       MessageType = 253
	MsgCCCSmallWrite    MessageType = 254
	MsgResult           MessageType = 1
	MsgReadResponse     MessageType = 2
	MsgSPNPingpong      MessageType = 3
)

// ErrShortRead is returned when fewer than Header.Length payload bytes are
// available after a header has been decoded.
var ErrShortRead = errors.New("wire: short read on payload")

// ErrMessageMalformed marks a frame that failed validation: an undecodable
// header, an unknown protocol id, or a length that does not match what
// followed on the wire (also reported as ErrShortRead). Decode does not
// check the message type.
var ErrMessageMalformed = errors.New("wire: message malformed")

// Header is the fixed prefix of every NetRAID message. It intentionally
// excludes the datablock/ip-string pointers the original transport carried
// in-memory only — Go messages carry their payload as a trailing byte slice
// instead of a pointer, and the sender's address comes from the connection,
// not the frame.
type Header struct {
	Protocol  ProtocolID
	Type      MessageType
	Sequence  uint32
	CreatedAt int64 // unix seconds, mirrors the original's platform time_t
	Length    uint32
}

// Message is a decoded frame: its header plus the raw payload bytes.
type Message struct {
	Header Header
	Data   []byte
}

// Encode serializes a header and its payload into w. datalength == 0 frames
// round-trip with no trailing bytes.
func Encode(w io.Writer, h Header, data []byte) error {
	h.Length = uint32(len(data))
	if _, err := xdr2.Marshal(w, h); err != nil {
		return fmt.Errorf("wire: encode header: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// Decode reads one full frame (header plus payload) from r.
func Decode(r io.Reader) (Message, error) {
	var h Header
	if _, err := xdr2.Unmarshal(r, &h); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: decode header: %v", ErrMessageMalformed, err)
	}
	if !h.Protocol.valid() {
		return Message{}, fmt.Errorf("%w: unknown protocol id %d", ErrMessageMalformed, h.Protocol)
	}

	if h.Length == 0 {
		return Message{Header: h}, nil
	}

	// Drawn from the shared pool since a frame's payload is discarded the
	// moment its caller finishes decoding it into a typed message; callers
	// that decode promptly should return it with bufpool.Put.
	data := bufpool.Get(int(h.Length))
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, fmt.Errorf("%w: %w: %v", ErrMessageMalformed, ErrShortRead, err)
	}
	return Message{Header: h, Data: data}, nil
}

func (p ProtocolID) valid() bool {
	return p <= ProtocolCCC
}

// EncodeToBytes is a convenience wrapper around Encode that returns the
// whole frame as a single buffer.
func EncodeToBytes(h Header, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, h, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
