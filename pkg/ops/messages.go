package ops

import (
	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/netraid/netraid/pkg/geometry"
)

// Messages exchanged between participants, the primary coordinator, and
// the client, per §4.F. These are transport-agnostic: pkg/server's peer
// connection pool encodes/decodes them onto pkg/wire frames.

// Received is sent by a participant to the primary coordinator on first
// touch, carrying the participants bitmap and the sender's own bit.
type Received struct {
	CCOID        CCOID
	Stripe       uint64
	Participants Participants
	FromUnit     uint32
}

// Prepare is broadcast by the coordinator once received_from == participants.
type Prepare struct {
	CCOID  CCOID
	Stripe uint64
}

// CanCommit carries a participant's proposed next version and XOR parity
// delta for a partial-stripe write.
type CanCommit struct {
	CCOID       CCOID
	Stripe      uint64
	FromUnit    uint32
	NextVersion uint64
	ParityPiece []byte
}

// StripewriteCanCommit is the full-stripe fast-path equivalent of CanCommit:
// no parity piece, since the coordinator receives the data block directly
// in Data rather than computing an XOR delta against the old block.
type StripewriteCanCommit struct {
	CCOID       CCOID
	Stripe      uint64
	FromUnit    uint32
	NextVersion uint64
	Data        []byte
}

// DoCommit is broadcast by the coordinator after assembling final parity,
// carrying the stripe's new version vector.
type DoCommit struct {
	CCOID         CCOID
	Stripe        uint64
	VersionVector []uint64
}

// Committed is sent by a participant once it has written its new block to
// disk.
type Committed struct {
	CCOID    CCOID
	Stripe   uint64
	FromUnit uint32
}

// Result is the terminal broadcast from the coordinator to every
// participant (success or failure).
type Result struct {
	CCOID   CCOID
	Stripe  uint64
	Success bool
}

// WriteRequest is the storage-protocol message that originates a stripe
// sub-operation (§4.E client write): sent either by an external client or
// by another node's gateway fanning a full-stripe write out across the
// units it covers. SubType tells the receiving unit server which
// participant entry point to drive: StripeUnitWrite runs the full
// Prepare/CanCommit exchange, FullStripeWrite skips straight to the
// stripewrite_cancommit fast path.
type WriteRequest struct {
	CCOID         CCOID
	Inode         uint64
	Offset        uint64
	Length        uint64
	Layout        geometry.Layout
	Unit          uint32
	SubType       SubOpType
	Participants  Participants
	CoordinatorID uint32
	Data          []byte
}

// WriteReply is the terminal success/failure reply to a WriteRequest, sent
// once the stripe's commit protocol resolves or the watchdog times it out.
type WriteReply struct {
	CCOID   CCOID
	Success bool
	Reason  string
}

// ReadRequest asks a stripe unit's owning server for its current block.
type ReadRequest struct {
	Inode  uint64
	Stripe uint64
	Unit   uint32
}

// ReadReply carries the requested block back to the caller. Found is false
// when the unit has never been written.
type ReadReply struct {
	Found  bool
	Block  blockstore.Block
	Reason string
}
