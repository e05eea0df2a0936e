package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/bufpool"
	"github.com/netraid/netraid/pkg/ops"
	"github.com/netraid/netraid/pkg/wire"
)

// defaultWriteTimeout bounds how long a storage-protocol write request
// blocks its connection waiting for the commit protocol to resolve, when
// the configured phase timeout is unset.
const defaultWriteTimeout = 10 * time.Second

// startSPNListener opens the storage-protocol listener on this node's
// StorageBase+ServerID port (§6 port scheme). Separate from the
// cluster-coordination listener: SPN carries client-originated
// WriteRequest/ReadRequest traffic, CCC carries the inter-server commit
// protocol.
func (m *Manager) startSPNListener() error {
	addr := fmt.Sprintf(":%d", m.cfg.Node.StorageBase+int(m.cfg.Node.ServerID))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen spn on %s: %w", addr, err)
	}
	m.spnListener = ln
	logger.Info("storage-protocol listener started", "addr", addr)

	go m.acceptSPNLoop(ln)
	return nil
}

func (m *Manager) acceptSPNLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-m.ctx.Done():
				return
			default:
				logger.Warn("spn accept failed", "error", err)
				return
			}
		}
		go m.serveSPNConn(conn)
	}
}

// serveSPNConn handles every request on one client connection sequentially:
// a request blocks the connection until its reply is ready. pkg/server's
// own SPNGateway keeps one connection per server, so its requests to the
// same server run one at a time.
func (m *Manager) serveSPNConn(conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := wire.Decode(conn)
		if err != nil {
			return
		}
		if frame.Header.Protocol != wire.ProtocolSPN {
			logger.Warn("spn listener received non-spn frame", "protocol", frame.Header.Protocol)
			continue
		}

		replyType, payload, err := m.handleSPNFrame(frame)
		bufpool.Put(frame.Data)
		if err != nil {
			logger.Warn("spn request failed", "type", frame.Header.Type, "error", err)
			return
		}

		header := wire.Header{
			Protocol:  wire.ProtocolSPN,
			Type:      replyType,
			Sequence:  frame.Header.Sequence,
			CreatedAt: time.Now().Unix(),
		}
		if err := wire.Encode(conn, header, payload); err != nil {
			logger.Warn("spn reply write failed", "error", err)
			return
		}
	}
}

func (m *Manager) handleSPNFrame(frame wire.Message) (wire.MessageType, []byte, error) {
	msg, err := decodeSPNMessage(frame.Header.Type, frame.Data)
	if err != nil {
		return 0, nil, err
	}

	switch req := msg.(type) {
	case *ops.WriteRequest:
		reply := m.handleSPNWrite(*req)
		return encodeSPNMessage(reply)
	case *ops.ReadRequest:
		reply := m.handleSPNRead(*req)
		return encodeSPNMessage(reply)
	default:
		return 0, nil, fmt.Errorf("server: spn listener cannot originate reply for %T", msg)
	}
}

// handleSPNWrite creates (or reuses) this node's participant for the
// request's stripe, stages the payload for the Prepare phase, drives the
// participant's entry point, and blocks until the commit protocol
// resolves.
func (m *Manager) handleSPNWrite(req ops.WriteRequest) ops.WriteReply {
	stripe := req.Layout.StripeOf(req.Offset)

	p := m.Stripes.Participant(req.Inode, stripe, func() *ops.Participant {
		head := ops.Head{
			CCOID:   req.CCOID,
			Inode:   req.Inode,
			Offset:  req.Offset,
			Length:  req.Length,
			SubType: req.SubType,
			Layout:  req.Layout,
		}
		return ops.NewParticipant(head, req.Unit, req.CoordinatorID, false)
	})
	m.Stripes.IndexCCOID(req.CCOID, req.Inode, stripe)

	var err error
	if req.SubType == ops.FullStripeWrite {
		err = p.OnFullStripeInsert(m.ctx, m.Cache, m.Peers, req.Data)
	} else {
		m.stagePending(req.CCOID, req.Data)
		err = p.OnInsert(m.ctx, m.Peers, req.Participants)
	}
	if err != nil {
		m.Stripes.ReleaseParticipant(req.Inode, stripe)
		m.Stripes.ReleaseCCOID(req.CCOID)
		m.dropPending(req.CCOID)
		return ops.WriteReply{CCOID: req.CCOID, Success: false, Reason: err.Error()}
	}

	waitCtx, cancel := context.WithTimeout(m.ctx, m.writeTimeout())
	defer cancel()
	status, err := p.Wait(waitCtx)
	m.dropPending(req.CCOID)
	if err != nil {
		return ops.WriteReply{CCOID: req.CCOID, Success: false, Reason: "timed out waiting for commit"}
	}
	return ops.WriteReply{CCOID: req.CCOID, Success: status == ops.StatusSuccess}
}

func (m *Manager) handleSPNRead(req ops.ReadRequest) ops.ReadReply {
	block, err := m.Cache.GetCurrent(m.ctx, req.Inode, req.Stripe)
	if err != nil {
		return ops.ReadReply{Reason: err.Error()}
	}
	if block == nil {
		return ops.ReadReply{Found: false}
	}
	return ops.ReadReply{Found: true, Block: *block}
}

func (m *Manager) writeTimeout() time.Duration {
	if m.cfg.Dispatch.PhaseTimeout > 0 {
		return 5 * m.cfg.Dispatch.PhaseTimeout
	}
	return defaultWriteTimeout
}
