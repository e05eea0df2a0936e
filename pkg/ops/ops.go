// Package ops implements the three operation state machines that drive the
// commit protocol: the participant (every non-parity unit touched), the
// primary coordinator (the parity server), and the client's composite
// write/read fan-out, plus the StripeManager that tracks per-operation
// state on each node.
package ops

import (
	"fmt"

	"github.com/netraid/netraid/pkg/geometry"
)

// CCOID is the cluster-wide unique id of one operation: a client session id
// plus a per-session sequence number.
type CCOID struct {
	ClientSessionID uint64
	Sequence        uint64
}

func (id CCOID) String() string {
	return fmt.Sprintf("%d:%d", id.ClientSessionID, id.Sequence)
}

// SubOpType distinguishes the two write shapes a stripe sub-operation can
// take.
type SubOpType int

const (
	// StripeUnitWrite is a partial-stripe write touching fewer than G-1
	// data units; it runs the full Prepare/CanCommit exchange.
	StripeUnitWrite SubOpType = iota
	// FullStripeWrite covers every data unit of the stripe; it skips
	// Prepare and sends stripewrite_cancommit directly.
	FullStripeWrite
	// DirectWrite names the subtype that bypasses the commit protocol.
	// No code path in this module dispatches it, and no config setting
	// enables it.
	DirectWrite
)

// Status is the terminal or in-flight status of an operation.
type Status int

const (
	StatusInit Status = iota
	StatusPrepare
	StatusCanCommit
	StatusDoCommit
	StatusCommitted
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusPrepare:
		return "prepare"
	case StatusCanCommit:
		return "cancommit"
	case StatusDoCommit:
		return "docommit"
	case StatusCommitted:
		return "committed"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Head is the common header shared by every operation kind.
type Head struct {
	CCOID   CCOID
	Inode   uint64
	Offset  uint64
	Length  uint64
	SubType SubOpType
	Layout  geometry.Layout
	Status  Status
}

// Participants is a bitmap over stripe-unit ids (bit i set means unit i is
// part of this operation).
type Participants uint32

func (p Participants) Set(unit uint32) Participants { return p | (1 << unit) }
func (p Participants) Has(unit uint32) bool          { return p&(1<<unit) != 0 }
func (p Participants) Equal(other Participants) bool { return p == other }
func (p Participants) Count() int {
	n := 0
	for v := uint32(p); v != 0; v >>= 1 {
		n += int(v & 1)
	}
	return n
}
