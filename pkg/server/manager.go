package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/netraid/netraid/pkg/bufpool"
	"github.com/netraid/netraid/pkg/cache"
	"github.com/netraid/netraid/pkg/config"
	"github.com/netraid/netraid/pkg/ops"
	"github.com/netraid/netraid/pkg/registry"
	"github.com/netraid/netraid/pkg/wire"
)

// QueueCapacity bounds each priority queue other than maintenance, per
// §4.H. A node that outruns this capacity rejects new receive-side work
// rather than growing memory unbounded.
const QueueCapacity = 4096

// Manager is the ServerManager: the cluster-coordination node that owns
// this server's in-flight operations, dispatch pool, peer connections, and
// periodic maintenance. One Manager runs per NetRAID server process.
type Manager struct {
	cfg config.Config

	Store    blockstore.Store
	Cache    *cache.Cache
	Registry *registry.Registry
	Stripes  *ops.StripeManager
	Peers    *PeerPool
	Gateway  *SPNGateway
	Queues   *Queues
	Dispatch *Dispatcher

	cccListener net.Listener
	spnListener net.Listener

	pendingMu   sync.Mutex
	pendingData map[ops.CCOID][]byte

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager wires a Manager from its already-constructed collaborators.
func NewManager(cfg config.Config, store blockstore.Store, cc *cache.Cache, reg *registry.Registry) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	queues := NewQueues(QueueCapacity)
	return &Manager{
		cfg:      cfg,
		Store:    store,
		Cache:    cc,
		Registry: reg,
		Stripes:     ops.NewStripeManager(),
		Peers:       NewPeerPool(reg),
		Gateway:     NewSPNGateway(reg, cfg.Node.ServerID),
		Queues:      queues,
		Dispatch:    NewDispatcher(queues, cfg.Dispatch),
		pendingData: make(map[ops.CCOID][]byte),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// stagePending records a client's write payload against its CCOID so the
// participant's later Prepare handling can recover it without a second
// round trip to the client. Dropped once the operation reaches a terminal
// status.
func (m *Manager) stagePending(ccoid ops.CCOID, data []byte) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pendingData[ccoid] = data
}

func (m *Manager) fetchPending(ccoid ops.CCOID) ([]byte, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	data, ok := m.pendingData[ccoid]
	return data, ok
}

func (m *Manager) dropPending(ccoid ops.CCOID) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	delete(m.pendingData, ccoid)
}

// Start launches the dispatch pool, the cluster-coordination listener, and
// the maintenance tickers (GC and the coordinator watchdog). poolSize is
// conventionally BASE_THREADNUMBER*2 (§4.H).
func (m *Manager) Start(poolSize int) error {
	m.Dispatch.Start(poolSize)

	addr := fmt.Sprintf(":%d", m.cfg.Node.ClusterCoordinationBase+int(m.cfg.Node.ServerID))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen ccc on %s: %w", addr, err)
	}
	m.cccListener = ln
	logger.Info("cluster-coordination listener started", "addr", addr)

	go m.acceptLoop(ln)

	if err := m.startSPNListener(); err != nil {
		return err
	}

	if m.cfg.Storage.GCInterval > 0 {
		go m.Dispatch.RunMaintenance(m.ctx, m.cfg.Storage.GCInterval, m.gcTick)
	}
	watchdogInterval := m.cfg.Dispatch.PhaseTimeout
	if watchdogInterval <= 0 {
		watchdogInterval = 2 * time.Second
	}
	go m.Dispatch.RunMaintenance(m.ctx, watchdogInterval, m.watchdogTick)

	return nil
}

// Stop closes the listener, cancels maintenance tickers, drains the
// dispatch pool, and drops every peer connection.
func (m *Manager) Stop() {
	m.cancel()
	if m.cccListener != nil {
		_ = m.cccListener.Close()
	}
	if m.spnListener != nil {
		_ = m.spnListener.Close()
	}
	m.Queues.Close()
	m.Dispatch.Stop()
	m.Peers.Close()
	m.Gateway.Close()
}

func (m *Manager) gcTick() {
	if err := m.Cache.GarbageCollect(m.ctx); err != nil {
		logger.Error("garbage collection pass failed", "error", err)
	}
}

func (m *Manager) watchdogTick() {
	for _, c := range m.Stripes.PendingCoordinators() {
		if c.CheckTimeout(m.ctx, m.Peers) {
			logger.Warn("coordinator operation timed out", "ccoid", c.Head.CCOID)
			m.Stripes.ReleaseCoordinator(c.Head.Inode, c.Stripe)
			m.Stripes.ReleaseCCOID(c.Head.CCOID)
		}
	}
}

func (m *Manager) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-m.ctx.Done():
				return
			default:
				logger.Warn("ccc accept failed", "error", err)
				return
			}
		}
		go m.serveConn(conn)
	}
}

// serveConn reads frames from one inbound CCC connection for its lifetime,
// enqueuing each decoded message as a dispatch job. Reads run on the
// connection's owning goroutine, matching the socket-ownership policy
// peerpool.go uses for writes.
func (m *Manager) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := wire.Decode(conn)
		if err != nil {
			return
		}
		if frame.Header.Protocol != wire.ProtocolCCC {
			logger.Warn("ccc listener received non-ccc frame", "protocol", frame.Header.Protocol)
			continue
		}

		msg, err := decodeOpMessage(frame.Header.Type, frame.Data)
		bufpool.Put(frame.Data)
		if err != nil {
			logger.Warn("ccc message decode failed", "error", err)
			continue
		}
		if !m.enqueue(frame.Header.Type, msg) {
			logger.Warn("ccc dispatch queue full, message dropped", "type", frame.Header.Type)
		}
	}
}

// enqueue routes a decoded message onto the priority queue matching its
// direction (§4.H): messages that address the coordinator go on
// primary-receive, messages that address a participant go on
// secondary-receive.
func (m *Manager) enqueue(msgType wire.MessageType, msg any) bool {
	switch v := msg.(type) {
	case *ops.Received:
		return m.Queues.Push(PriorityPrimaryReceive, func() { m.handleReceived(*v) })
	case *ops.CanCommit:
		return m.Queues.Push(PriorityPrimaryReceive, func() { m.handleCanCommit(*v) })
	case *ops.StripewriteCanCommit:
		return m.Queues.Push(PriorityPrimaryReceive, func() { m.handleStripewriteCanCommit(*v) })
	case *ops.Committed:
		return m.Queues.Push(PriorityPrimaryReceive, func() { m.handleCommitted(*v) })
	case *ops.Prepare:
		return m.Queues.Push(PrioritySecondaryReceive, func() { m.handlePrepare(*v) })
	case *ops.DoCommit:
		return m.Queues.Push(PrioritySecondaryReceive, func() { m.handleDoCommit(*v) })
	case *ops.Result:
		return m.Queues.Push(PrioritySecondaryReceive, func() { m.handleResult(*v) })
	default:
		logger.Warn("ccc message has no dispatch route", "type", msgType)
		return true
	}
}

func (m *Manager) handleReceived(msg ops.Received) {
	inode, ok := m.Stripes.LookupCCOID(msg.CCOID)
	if !ok {
		logger.Warn("received for unknown operation", "ccoid", msg.CCOID)
		return
	}
	c, ok := m.Stripes.LookupCoordinator(inode, msg.Stripe)
	if !ok {
		logger.Warn("received for unknown coordinator", "ccoid", msg.CCOID)
		return
	}
	if err := c.OnReceived(m.ctx, m.Peers, msg); err != nil {
		logger.Warn("coordinator OnReceived failed", "ccoid", msg.CCOID, "error", err)
	}
}

func (m *Manager) handleCanCommit(msg ops.CanCommit) {
	inode, ok := m.Stripes.LookupCCOID(msg.CCOID)
	if !ok {
		logger.Warn("cancommit for unknown operation", "ccoid", msg.CCOID)
		return
	}
	c, ok := m.Stripes.LookupCoordinator(inode, msg.Stripe)
	if !ok {
		logger.Warn("cancommit for unknown coordinator", "ccoid", msg.CCOID)
		return
	}
	if err := c.OnCanCommit(m.ctx, m.Store, m.Cache, m.Peers, msg); err != nil {
		logger.Warn("coordinator OnCanCommit failed", "ccoid", msg.CCOID, "error", err)
	}
}

func (m *Manager) handleStripewriteCanCommit(msg ops.StripewriteCanCommit) {
	inode, ok := m.Stripes.LookupCCOID(msg.CCOID)
	if !ok {
		logger.Warn("stripewrite cancommit for unknown operation", "ccoid", msg.CCOID)
		return
	}
	c, ok := m.Stripes.LookupCoordinator(inode, msg.Stripe)
	if !ok {
		logger.Warn("stripewrite cancommit for unknown coordinator", "ccoid", msg.CCOID)
		return
	}
	if err := c.OnStripewriteCanCommit(m.ctx, m.Store, m.Cache, m.Peers, msg, msg.Data); err != nil {
		logger.Warn("coordinator OnStripewriteCanCommit failed", "ccoid", msg.CCOID, "error", err)
	}
}

func (m *Manager) handleCommitted(msg ops.Committed) {
	inode, ok := m.Stripes.LookupCCOID(msg.CCOID)
	if !ok {
		logger.Warn("committed for unknown operation", "ccoid", msg.CCOID)
		return
	}
	c, ok := m.Stripes.LookupCoordinator(inode, msg.Stripe)
	if !ok {
		logger.Warn("committed for unknown coordinator", "ccoid", msg.CCOID)
		return
	}
	var committed ops.Participants
	if err := c.OnCommitted(m.ctx, m.Cache, m.Peers, msg, &committed); err != nil {
		logger.Warn("coordinator OnCommitted failed", "ccoid", msg.CCOID, "error", err)
		return
	}
	if c.Head.Status == ops.StatusSuccess {
		m.Stripes.ReleaseCoordinator(inode, msg.Stripe)
		m.Stripes.ReleaseCCOID(msg.CCOID)
	}
}

func (m *Manager) handlePrepare(msg ops.Prepare) {
	inode, ok := m.Stripes.LookupCCOID(msg.CCOID)
	if !ok {
		logger.Warn("prepare for unknown operation", "ccoid", msg.CCOID)
		return
	}
	p, ok := m.Stripes.LookupParticipant(inode, msg.Stripe)
	if !ok {
		logger.Warn("prepare for unknown participant", "ccoid", msg.CCOID)
		return
	}
	newData, ok := m.fetchPending(msg.CCOID)
	if !ok {
		logger.Warn("prepare has no staged write payload", "ccoid", msg.CCOID)
		return
	}
	if err := p.OnPrepare(m.ctx, m.Cache, m.Peers, newData); err != nil {
		logger.Warn("participant OnPrepare failed", "ccoid", msg.CCOID, "error", err)
	}
}

func (m *Manager) handleDoCommit(msg ops.DoCommit) {
	inode, ok := m.Stripes.LookupCCOID(msg.CCOID)
	if !ok {
		logger.Warn("docommit for unknown operation", "ccoid", msg.CCOID)
		return
	}
	p, ok := m.Stripes.LookupParticipant(inode, msg.Stripe)
	if !ok {
		logger.Warn("docommit for unknown participant", "ccoid", msg.CCOID)
		return
	}
	if err := p.OnDoCommit(m.ctx, m.Store, m.Peers, msg); err != nil {
		logger.Warn("participant OnDoCommit failed", "ccoid", msg.CCOID, "error", err)
	}
}

func (m *Manager) handleResult(msg ops.Result) {
	inode, ok := m.Stripes.LookupCCOID(msg.CCOID)
	if !ok {
		logger.Warn("result for unknown operation", "ccoid", msg.CCOID)
		return
	}
	p, ok := m.Stripes.LookupParticipant(inode, msg.Stripe)
	if !ok {
		logger.Warn("result for unknown participant", "ccoid", msg.CCOID)
		return
	}
	if err := p.OnResult(m.ctx, m.Cache, msg); err != nil {
		logger.Warn("participant OnResult failed", "ccoid", msg.CCOID, "error", err)
	}
	m.Stripes.ReleaseParticipant(inode, msg.Stripe)
	m.Stripes.ReleaseCCOID(msg.CCOID)
}
