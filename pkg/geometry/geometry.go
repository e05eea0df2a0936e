// Package geometry implements the pure stripe-geometry functions that map a
// file offset onto a stripe, a stripe unit, and the server that owns it.
package geometry

import (
	"errors"
	"fmt"
)

// Role describes what a server is with respect to an operation's stripe.
type Role int

const (
	// RoleParticipant is any non-coordinating unit server touched by an operation.
	RoleParticipant Role = iota
	// RoleSecondary is the data-unit server addressed by an operation's offset.
	// It originates participant<->coordinator traffic toward the client.
	RoleSecondary
	// RoleParity is the parity server of the stripe; it is the stripe's primary coordinator.
	RoleParity
)

func (r Role) String() string {
	switch r {
	case RoleParity:
		return "parity"
	case RoleSecondary:
		return "secondary"
	default:
		return "participant"
	}
}

var (
	// ErrInvalidLayout is returned when a FileLayout's invariants don't hold.
	ErrInvalidLayout = errors.New("geometry: invalid file layout")
)

// Layout is the immutable per-file RAID-4 geometry: group size (including
// the parity unit), stripe unit size in bytes, and the ordered server ids
// a stripe's units are assigned to.
type Layout struct {
	GroupSize   uint32   // G, including the parity unit
	StripeUnit  uint64   // U, bytes
	ServerCount uint32   // N
	ServerIDs   []uint32 // length N, ordered
}

// Validate checks the invariants stripe/unit/server math depends on.
func (l Layout) Validate() error {
	if l.GroupSize < 2 {
		return fmt.Errorf("%w: group size %d must be >= 2 (at least one data unit plus parity)", ErrInvalidLayout, l.GroupSize)
	}
	if l.StripeUnit == 0 {
		return fmt.Errorf("%w: stripe unit size must be > 0", ErrInvalidLayout)
	}
	if l.ServerCount == 0 || l.ServerCount%l.GroupSize != 0 {
		return fmt.Errorf("%w: server count %d must be a positive multiple of group size %d", ErrInvalidLayout, l.ServerCount, l.GroupSize)
	}
	if uint32(len(l.ServerIDs)) != l.ServerCount {
		return fmt.Errorf("%w: have %d server ids, want %d", ErrInvalidLayout, len(l.ServerIDs), l.ServerCount)
	}
	return nil
}

// StripeSize returns (G-1)*U, the number of content bytes in one stripe.
func (l Layout) StripeSize() uint64 {
	return uint64(l.GroupSize-1) * l.StripeUnit
}

// StripeOf returns the stripe id containing offset.
func (l Layout) StripeOf(offset uint64) uint64 {
	return offset / l.StripeSize()
}

// UnitOf returns the stripe-unit id in [0, G-1) that offset falls in.
func (l Layout) UnitOf(offset uint64) uint32 {
	rel := offset - l.StripeOf(offset)*l.StripeSize()
	return uint32(rel / l.StripeUnit)
}

// GroupOf returns the server-group index that owns stripe: (stripe/G) mod (N/G).
func (l Layout) GroupOf(stripe uint64) uint32 {
	groups := uint64(l.ServerCount / l.GroupSize)
	return uint32((stripe / uint64(l.GroupSize)) % groups)
}

// parityUnit is the stripe-unit id reserved for the parity slot, G-1.
func (l Layout) parityUnit() uint32 {
	return l.GroupSize - 1
}

// ParityServer returns the server id that owns the parity unit of stripe.
// That server is the stripe's primary coordinator.
func (l Layout) ParityServer(stripe uint64) uint32 {
	return l.ServerIDs[l.GroupOf(stripe)*l.GroupSize+l.parityUnit()]
}

// ServerOf returns the server id owning a non-parity unit of stripe.
// unit must be in [0, G-1); use ParityServer for the parity slot.
func (l Layout) ServerOf(stripe uint64, unit uint32) uint32 {
	return l.ServerIDs[l.GroupOf(stripe)*l.GroupSize+unit]
}

// IsCoordinator classifies myID's role for the stripe an offset falls in.
func (l Layout) IsCoordinator(offset uint64, myID uint32) Role {
	stripe := l.StripeOf(offset)
	if l.ParityServer(stripe) == myID {
		return RoleParity
	}
	if l.ServerOf(stripe, l.UnitOf(offset)) == myID {
		return RoleSecondary
	}
	return RoleParticipant
}

// StripeUnitRef names one stripe unit touched by a range: its id, the byte
// range within the stripe-unit's own address space, and its owning server.
type StripeUnitRef struct {
	Unit        uint32
	StartInUnit uint64
	EndInUnit   uint64 // exclusive
	ServerID    uint32
}

// StripeSpan is one stripe touched by an operation's [offset, offset+length)
// range: its id, the stripe units it touches, and whether the whole stripe
// (every data unit) is covered by the range.
type StripeSpan struct {
	StripeID uint64
	Units    []StripeUnitRef
	IsFull   bool
}

// StripesOf enumerates, in order, every stripe touched by [offset,
// offset+length), the units within each stripe the range covers, and
// whether each stripe is fully covered (every data unit touched end to
// end). length == 0 yields no stripes. A range ending exactly on a stripe
// boundary never emits a phantom trailing stripe.
func (l Layout) StripesOf(offset, length uint64) []StripeSpan {
	if length == 0 {
		return nil
	}

	var spans []StripeSpan
	end := offset + length
	stripeSize := l.StripeSize()

	for pos := offset; pos < end; {
		stripeID := l.StripeOf(pos)
		stripeStart := stripeID * stripeSize
		stripeEnd := stripeStart + stripeSize
		rangeEndInStripe := end
		if rangeEndInStripe > stripeEnd {
			rangeEndInStripe = stripeEnd
		}

		var units []StripeUnitRef
		for up := pos; up < rangeEndInStripe; {
			unit := l.UnitOf(up)
			unitStart := stripeStart + uint64(unit)*l.StripeUnit
			unitEnd := unitStart + l.StripeUnit
			segEnd := rangeEndInStripe
			if segEnd > unitEnd {
				segEnd = unitEnd
			}
			units = append(units, StripeUnitRef{
				Unit:        unit,
				StartInUnit: up - unitStart,
				EndInUnit:   segEnd - unitStart,
				ServerID:    l.ServerOf(stripeID, unit),
			})
			up = segEnd
		}

		isFull := pos == stripeStart && rangeEndInStripe == stripeEnd
		spans = append(spans, StripeSpan{StripeID: stripeID, Units: units, IsFull: isFull})
		pos = rangeEndInStripe
	}

	return spans
}
