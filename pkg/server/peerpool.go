package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/ops"
	"github.com/netraid/netraid/pkg/registry"
	"github.com/netraid/netraid/pkg/wire"
)

// DialTimeout bounds how long PeerPool waits to establish a new connection
// to a peer server before giving up on a send.
const DialTimeout = 5 * time.Second

// peerConn owns one outbound CCC connection. Its send mutex serializes
// writes; a broken connection fails the current send and is dropped, to be
// lazily re-established on the next send (§5, socket ownership).
type peerConn struct {
	mu       sync.Mutex
	conn     net.Conn
	sequence uint32
}

func (pc *peerConn) nextSequence() uint32 {
	return atomic.AddUint32(&pc.sequence, 1)
}

// PeerPool is the ServerManager's table of outbound CCC connections, one
// per peer server id, and implements ops.Transport over them.
type PeerPool struct {
	reg *registry.Registry

	mu    sync.Mutex
	conns map[uint32]*peerConn
}

// NewPeerPool creates a pool that resolves peer addresses through reg.
func NewPeerPool(reg *registry.Registry) *PeerPool {
	return &PeerPool{reg: reg, conns: make(map[uint32]*peerConn)}
}

// Close drops every connection in the pool.
func (p *PeerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pc := range p.conns {
		pc.mu.Lock()
		if pc.conn != nil {
			_ = pc.conn.Close()
		}
		pc.mu.Unlock()
		delete(p.conns, id)
	}
}

func (p *PeerPool) connFor(ctx context.Context, serverID uint32) (*peerConn, error) {
	p.mu.Lock()
	pc, ok := p.conns[serverID]
	if !ok {
		pc = &peerConn{}
		p.conns[serverID] = pc
	}
	p.mu.Unlock()

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.conn != nil {
		return pc, nil
	}

	server, err := p.reg.GetServer(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("server: resolve server %d: %w", serverID, err)
	}

	addr := fmt.Sprintf("%s:%d", server.Address, server.CCCPort)
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: dial server %d at %s: %w", serverID, addr, err)
	}

	logger.Debug("peer connection established", "server", serverID, "addr", addr)
	pc.conn = conn
	return pc, nil
}

// dropLocked closes and clears pc's connection; caller must hold pc.mu.
func (pc *peerConn) dropLocked() {
	if pc.conn != nil {
		_ = pc.conn.Close()
		pc.conn = nil
	}
}

func (p *PeerPool) send(ctx context.Context, serverID uint32, msg any) error {
	msgType, payload, err := encodeOpMessage(msg)
	if err != nil {
		return err
	}

	pc, err := p.connFor(ctx, serverID)
	if err != nil {
		return err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.conn == nil {
		return fmt.Errorf("server: no connection to server %d", serverID)
	}

	header := wire.Header{
		Protocol:  wire.ProtocolCCC,
		Type:      msgType,
		Sequence:  pc.nextSequence(),
		CreatedAt: time.Now().Unix(),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = pc.conn.SetWriteDeadline(deadline)
	}

	if err := wire.Encode(pc.conn, header, payload); err != nil {
		pc.dropLocked()
		return fmt.Errorf("server: send to %d: %w", serverID, err)
	}
	return nil
}

func (p *PeerPool) SendReceived(ctx context.Context, toServer uint32, msg ops.Received) error {
	return p.send(ctx, toServer, msg)
}

func (p *PeerPool) SendPrepare(ctx context.Context, toServer uint32, msg ops.Prepare) error {
	return p.send(ctx, toServer, msg)
}

func (p *PeerPool) SendCanCommit(ctx context.Context, toServer uint32, msg ops.CanCommit) error {
	return p.send(ctx, toServer, msg)
}

func (p *PeerPool) SendStripewriteCanCommit(ctx context.Context, toServer uint32, msg ops.StripewriteCanCommit) error {
	return p.send(ctx, toServer, msg)
}

func (p *PeerPool) SendDoCommit(ctx context.Context, toServer uint32, msg ops.DoCommit) error {
	return p.send(ctx, toServer, msg)
}

func (p *PeerPool) SendCommitted(ctx context.Context, toServer uint32, msg ops.Committed) error {
	return p.send(ctx, toServer, msg)
}

func (p *PeerPool) SendResult(ctx context.Context, toServer uint32, msg ops.Result) error {
	return p.send(ctx, toServer, msg)
}

var _ ops.Transport = (*PeerPool)(nil)
