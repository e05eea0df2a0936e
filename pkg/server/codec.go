package server

import (
	"bytes"
	"fmt"

	xdr2 "github.com/rasky/go-xdr/xdr2"

	"github.com/netraid/netraid/pkg/ops"
	"github.com/netraid/netraid/pkg/wire"
)

// messageTypeOf maps an ops message value to its on-the-wire CCC message
// type constant (§6).
func messageTypeOf(v any) (wire.MessageType, error) {
	switch v.(type) {
	case ops.Received:
		return wire.MsgCCCSmallWrite, nil // received piggybacks on the small-write path
	case ops.Prepare:
		return wire.MsgCCCPrepare, nil
	case ops.CanCommit:
		return wire.MsgCCCCanCommit, nil
	case ops.StripewriteCanCommit:
		return wire.MsgCCCStripewriteCC, nil
	case ops.DoCommit:
		return wire.MsgCCCDoCommit, nil
	case ops.Committed:
		return wire.MsgCCCCommitted, nil
	case ops.Result:
		return wire.MsgCCCResult, nil
	default:
		return 0, fmt.Errorf("server: no wire message type for %T", v)
	}
}

// encodeOpMessage XDR-encodes msg's payload, matching the header codec in
// pkg/wire so the whole frame is marshaled consistently.
func encodeOpMessage(msg any) (wire.MessageType, []byte, error) {
	msgType, err := messageTypeOf(msg)
	if err != nil {
		return 0, nil, err
	}
	var buf bytes.Buffer
	if _, err := xdr2.Marshal(&buf, msg); err != nil {
		return 0, nil, fmt.Errorf("server: encode %T: %w", msg, err)
	}
	return msgType, buf.Bytes(), nil
}

// decodeOpMessage unmarshals data into a zero value of the message type
// that msgType identifies, returning it as any for the caller's dispatch
// switch.
func decodeOpMessage(msgType wire.MessageType, data []byte) (any, error) {
	var out any
	switch msgType {
	case wire.MsgCCCSmallWrite:
		var m ops.Received
		out = &m
	case wire.MsgCCCPrepare:
		var m ops.Prepare
		out = &m
	case wire.MsgCCCCanCommit:
		var m ops.CanCommit
		out = &m
	case wire.MsgCCCStripewriteCC:
		var m ops.StripewriteCanCommit
		out = &m
	case wire.MsgCCCDoCommit:
		var m ops.DoCommit
		out = &m
	case wire.MsgCCCCommitted:
		var m ops.Committed
		out = &m
	case wire.MsgCCCResult:
		var m ops.Result
		out = &m
	default:
		return nil, fmt.Errorf("server: unknown CCC message type %d", msgType)
	}

	if _, err := xdr2.Unmarshal(bytes.NewReader(data), out); err != nil {
		return nil, fmt.Errorf("server: decode message type %d: %w", msgType, err)
	}
	return out, nil
}

// encodeSPNMessage XDR-encodes a storage-protocol message. ops.WriteRequest
// maps to one of two wire types depending on its SubType, since the
// fast-path and full-exchange writes share a struct but not a wire
// identity (§6).
func encodeSPNMessage(msg any) (wire.MessageType, []byte, error) {
	var msgType wire.MessageType
	switch m := msg.(type) {
	case ops.WriteRequest:
		msgType = wire.MsgWriteSU
		if m.SubType == ops.FullStripeWrite {
			msgType = wire.MsgWriteS
		}
	case ops.ReadRequest:
		msgType = wire.MsgReadReq
	case ops.WriteReply:
		msgType = wire.MsgResult
	case ops.ReadReply:
		msgType = wire.MsgReadResponse
	default:
		return 0, nil, fmt.Errorf("server: no wire message type for %T", msg)
	}

	var buf bytes.Buffer
	if _, err := xdr2.Marshal(&buf, msg); err != nil {
		return 0, nil, fmt.Errorf("server: encode %T: %w", msg, err)
	}
	return msgType, buf.Bytes(), nil
}

// decodeSPNMessage unmarshals a storage-protocol payload into its matching
// message type.
func decodeSPNMessage(msgType wire.MessageType, data []byte) (any, error) {
	var out any
	switch msgType {
	case wire.MsgWriteSU, wire.MsgWriteS:
		var m ops.WriteRequest
		out = &m
	case wire.MsgReadReq:
		var m ops.ReadRequest
		out = &m
	case wire.MsgResult:
		var m ops.WriteReply
		out = &m
	case wire.MsgReadResponse:
		var m ops.ReadReply
		out = &m
	default:
		return nil, fmt.Errorf("server: unknown SPN message type %d", msgType)
	}

	if _, err := xdr2.Unmarshal(bytes.NewReader(data), out); err != nil {
		return nil, fmt.Errorf("server: decode SPN message type %d: %w", msgType, err)
	}
	return out, nil
}
