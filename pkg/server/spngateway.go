package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/netraid/netraid/pkg/bufpool"
	"github.com/netraid/netraid/pkg/geometry"
	"github.com/netraid/netraid/pkg/ops"
	"github.com/netraid/netraid/pkg/registry"
	"github.com/netraid/netraid/pkg/wire"
)

// SPNGateway implements ops.SubWriter and ops.SubReader over the
// storage-protocol wire format: it is the client-facing counterpart to
// spnlistener.go. A full-stripe write is split here, one WriteRequest per
// data unit sent directly to that unit's owning server — the "parityServer"
// parameter the SubWriter interface carries for a full-stripe span is not
// addressed at all, since the parity block is derived by the coordinator
// from participants' stripewrite_cancommit payloads, not written by the
// client (§9 open question: resolved in DESIGN.md).
type SPNGateway struct {
	reg    *registry.Registry
	selfID uint64

	mu    sync.Mutex
	conns map[uint32]*spnConn

	seq atomic.Uint64
}

type spnConn struct {
	mu       sync.Mutex
	conn     net.Conn
	sequence uint32
}

// NewSPNGateway creates a gateway that tags every operation it originates
// with selfID as the CCOID's client session id, mirroring how the
// peer connection pool dials lazily and keeps one connection per server.
func NewSPNGateway(reg *registry.Registry, selfID uint32) *SPNGateway {
	return &SPNGateway{reg: reg, selfID: uint64(selfID), conns: make(map[uint32]*spnConn)}
}

// Close drops every outstanding connection.
func (g *SPNGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, c := range g.conns {
		c.conn.Close()
		delete(g.conns, id)
	}
}

func (g *SPNGateway) nextCCOID() ops.CCOID {
	return ops.CCOID{ClientSessionID: g.selfID, Sequence: g.seq.Add(1)}
}

func (g *SPNGateway) connFor(ctx context.Context, serverID uint32) (*spnConn, error) {
	g.mu.Lock()
	c, ok := g.conns[serverID]
	g.mu.Unlock()
	if ok {
		c.mu.Lock()
		if c.conn != nil {
			c.mu.Unlock()
			return c, nil
		}
		c.mu.Unlock()
	}

	server, err := g.reg.GetServer(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("spngateway: resolve server %d: %w", serverID, err)
	}
	addr := fmt.Sprintf("%s:%d", server.Address, server.SPNPort)

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("spngateway: dial %s: %w", addr, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.conns[serverID]; ok && existing.conn != nil {
		conn.Close()
		return existing, nil
	}
	c = &spnConn{conn: conn}
	g.conns[serverID] = c
	return c, nil
}

func (g *SPNGateway) dropLocked(serverID uint32, c *spnConn) {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	g.mu.Lock()
	delete(g.conns, serverID)
	g.mu.Unlock()
}

// roundTrip sends req over the connection owned by serverID and returns the
// decoded reply, serializing every caller against that connection the way
// peerpool.go's send does for CCC traffic.
func (g *SPNGateway) roundTrip(ctx context.Context, serverID uint32, req any) (any, error) {
	c, err := g.connFor(ctx, serverID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msgType, payload, err := encodeSPNMessage(req)
	if err != nil {
		return nil, err
	}
	c.sequence++
	header := wire.Header{
		Protocol:  wire.ProtocolSPN,
		Type:      msgType,
		Sequence:  c.sequence,
		CreatedAt: time.Now().Unix(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Now().Add(defaultWriteTimeout + DialTimeout))
	}

	if err := wire.Encode(c.conn, header, payload); err != nil {
		g.dropLocked(serverID, c)
		return nil, fmt.Errorf("spngateway: send to server %d: %w", serverID, err)
	}

	frame, err := wire.Decode(c.conn)
	if err != nil {
		g.dropLocked(serverID, c)
		return nil, fmt.Errorf("spngateway: read reply from server %d: %w", serverID, err)
	}
	reply, err := decodeSPNMessage(frame.Header.Type, frame.Data)
	bufpool.Put(frame.Data)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (g *SPNGateway) sendWrite(ctx context.Context, server uint32, req ops.WriteRequest) error {
	reply, err := g.roundTrip(ctx, server, req)
	if err != nil {
		return err
	}
	wr, ok := reply.(*ops.WriteReply)
	if !ok {
		return fmt.Errorf("spngateway: unexpected reply type %T for write", reply)
	}
	if !wr.Success {
		return fmt.Errorf("spngateway: write to server %d failed: %s", server, wr.Reason)
	}
	return nil
}

// absoluteOffset recovers a stripe unit segment's offset in the file's
// overall address space: StripeSpan and StripeUnitRef only carry
// unit-relative coordinates, since geometry.Layout computes everything else
// on demand.
func absoluteOffset(layout geometry.Layout, span geometry.StripeSpan, u geometry.StripeUnitRef) uint64 {
	stripeStart := span.StripeID * layout.StripeSize()
	unitBase := stripeStart + uint64(u.Unit)*layout.StripeUnit
	return unitBase + u.StartInUnit
}

// WriteStripeUnit sends a partial-stripe write for one unit of span to the
// server that owns it, running the full Prepare/CanCommit exchange on the
// remote node. span carries every unit this partial-stripe write touches
// (possibly several, per §4.F), so the participants bitmap shared with
// every sibling unit reflects the whole operation, not just this call.
func (g *SPNGateway) WriteStripeUnit(ctx context.Context, server uint32, inode uint64, layout geometry.Layout, span geometry.StripeSpan, unit geometry.StripeUnitRef, data []byte) error {
	participants := ops.Participants(0)
	for _, u := range span.Units {
		participants = participants.Set(u.Unit)
	}

	req := ops.WriteRequest{
		CCOID:         g.nextCCOID(),
		Inode:         inode,
		Offset:        absoluteOffset(layout, span, unit),
		Length:        uint64(len(data)),
		Layout:        layout,
		Unit:          unit.Unit,
		SubType:       ops.StripeUnitWrite,
		Participants:  participants,
		CoordinatorID: layout.ParityServer(span.StripeID),
		Data:          data,
	}
	return g.sendWrite(ctx, server, req)
}

// WriteFullStripe fans the stripe's data out to every data unit it covers,
// one WriteRequest per unit, and waits for all of them to resolve. The
// parity block itself is never written by the client: the coordinator
// derives it from each participant's stripewrite_cancommit payload.
func (g *SPNGateway) WriteFullStripe(ctx context.Context, parityServer uint32, inode uint64, layout geometry.Layout, span geometry.StripeSpan, data []byte) error {
	participants := ops.Participants(0)
	for _, u := range span.Units {
		participants = participants.Set(u.Unit)
	}

	errs := make(chan error, len(span.Units))
	for _, u := range span.Units {
		u := u
		// data is the whole stripe's concatenated content; each unit's
		// slice lives at its own cumulative offset within it, not at
		// [StartInUnit:EndInUnit) (those are unit-relative, and identical
		// across every full unit).
		chunkStart := uint64(u.Unit)*layout.StripeUnit + u.StartInUnit
		chunkEnd := uint64(u.Unit)*layout.StripeUnit + u.EndInUnit
		go func() {
			req := ops.WriteRequest{
				CCOID:         g.nextCCOID(),
				Inode:         inode,
				Offset:        absoluteOffset(layout, span, u),
				Length:        u.EndInUnit - u.StartInUnit,
				Layout:        layout,
				Unit:          u.Unit,
				SubType:       ops.FullStripeWrite,
				Participants:  participants,
				CoordinatorID: parityServer,
				Data:          data[chunkStart:chunkEnd],
			}
			errs <- g.sendWrite(ctx, u.ServerID, req)
		}()
	}

	var firstErr error
	for range span.Units {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadStripeUnit fetches one stripe unit's current block from the server
// that owns it.
func (g *SPNGateway) ReadStripeUnit(ctx context.Context, server uint32, inode, stripe uint64, unit uint32) (blockstore.Block, error) {
	req := ops.ReadRequest{Inode: inode, Stripe: stripe, Unit: unit}
	reply, err := g.roundTrip(ctx, server, req)
	if err != nil {
		return blockstore.Block{}, err
	}
	rr, ok := reply.(*ops.ReadReply)
	if !ok {
		return blockstore.Block{}, fmt.Errorf("spngateway: unexpected reply type %T for read", reply)
	}
	if !rr.Found {
		return blockstore.Block{}, fmt.Errorf("spngateway: unit %d of stripe %d not found: %s", unit, stripe, rr.Reason)
	}
	return rr.Block, nil
}

var (
	_ ops.SubWriter = (*SPNGateway)(nil)
	_ ops.SubReader = (*SPNGateway)(nil)
)
