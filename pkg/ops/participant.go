package ops

import (
	"context"
	"fmt"
	"sync"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/netraid/netraid/pkg/cache"
	"github.com/netraid/netraid/pkg/parity"
)

// Participant is the state machine that runs on every non-parity unit
// server touched by an operation: init -> prepare -> cancommit -> committed
// -> {success|failure}.
type Participant struct {
	mu sync.Mutex

	Head          Head
	MyUnit        uint32
	CoordinatorID uint32
	IsSecondary   bool // addressed directly by the client's offset

	nextVersion  uint64
	parityPiece  []byte
	newData      []byte
	writtenBlock *blockstore.Block

	done      chan struct{}
	closeOnce sync.Once
}

// NewParticipant creates a participant operation in state init.
func NewParticipant(head Head, myUnit, coordinatorID uint32, isSecondary bool) *Participant {
	head.Status = StatusInit
	return &Participant{Head: head, MyUnit: myUnit, CoordinatorID: coordinatorID, IsSecondary: isSecondary, done: make(chan struct{})}
}

// Wait blocks until the operation reaches a terminal status (StatusSuccess
// or StatusFailure) and returns it, or returns ctx's error if it is done
// first. The storage-protocol listener uses this to hold a client's
// connection open across the whole commit protocol before replying.
func (p *Participant) Wait(ctx context.Context) (Status, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		st := p.Head.Status
		p.mu.Unlock()
		return st, nil
	case <-ctx.Done():
		return StatusInit, ctx.Err()
	}
}

// OnInsert is called when the client's stripe-unit or stripe write message
// first arrives: it sends Received to the primary coordinator.
func (p *Participant) OnInsert(ctx context.Context, t Transport, participants Participants) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return t.SendReceived(ctx, p.CoordinatorID, Received{
		CCOID:        p.Head.CCOID,
		Stripe:       p.Head.Layout.StripeOf(p.Head.Offset),
		Participants: participants,
		FromUnit:     p.MyUnit,
	})
}

// OnPrepare handles the coordinator's Prepare for a partial-stripe write:
// reads the existing block from cache, computes the XOR parity delta, and
// sends CanCommit. Transition init -> prepare -> cancommit.
func (p *Participant) OnPrepare(ctx context.Context, c *cache.Cache, t Transport, newData []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Head.Status != StatusInit {
		return Fail(KindNoSuchOperation, p.Head.CCOID, fmt.Errorf("participant: prepare received in state %s", p.Head.Status))
	}
	p.Head.Status = StatusPrepare

	stripe := p.Head.Layout.StripeOf(p.Head.Offset)
	existing, err := c.GetCurrent(ctx, p.Head.Inode, stripe)
	if err != nil {
		return Fail(KindDiskError, p.Head.CCOID, err)
	}

	var existingData []byte
	if existing != nil {
		existingData = existing.Data
	}
	p.newData = newData
	p.parityPiece = parity.Piece(nil, newData, existingData)

	vec, err := c.NextVersionVector(ctx, p.Head.Inode, stripe, p.Head.Layout.GroupSize, p.MyUnit, nil)
	if err != nil {
		return Fail(KindDiskError, p.Head.CCOID, err)
	}
	p.nextVersion = vec[p.MyUnit]
	p.Head.Status = StatusCanCommit

	return t.SendCanCommit(ctx, p.CoordinatorID, CanCommit{
		CCOID:       p.Head.CCOID,
		Stripe:      stripe,
		FromUnit:    p.MyUnit,
		NextVersion: p.nextVersion,
		ParityPiece: p.parityPiece,
	})
}

// OnFullStripeInsert is the fast path for a full-stripe write: it skips
// Prepare entirely, allocating the unit's next version immediately and
// sending stripewrite_cancommit.
func (p *Participant) OnFullStripeInsert(ctx context.Context, c *cache.Cache, t Transport, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stripe := p.Head.Layout.StripeOf(p.Head.Offset)
	vec, err := c.NextVersionVector(ctx, p.Head.Inode, stripe, p.Head.Layout.GroupSize, p.MyUnit, nil)
	if err != nil {
		return Fail(KindDiskError, p.Head.CCOID, err)
	}
	p.nextVersion = vec[p.MyUnit]
	p.newData = data
	p.Head.Status = StatusCanCommit

	return t.SendStripewriteCanCommit(ctx, p.CoordinatorID, StripewriteCanCommit{
		CCOID:       p.Head.CCOID,
		Stripe:      stripe,
		FromUnit:    p.MyUnit,
		NextVersion: p.nextVersion,
		Data:        data,
	})
}

// OnDoCommit merges the coordinator's new version vector into this
// participant's block, writes it to disk, and sends Committed.
func (p *Participant) OnDoCommit(ctx context.Context, store blockstore.Store, t Transport, msg DoCommit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Head.Status != StatusCanCommit {
		return Fail(KindNoSuchOperation, p.Head.CCOID, fmt.Errorf("participant: docommit received in state %s", p.Head.Status))
	}
	p.Head.Status = StatusDoCommit

	block := blockstore.Block{
		Metadata: blockstore.Metadata{
			ClientSessionID: p.Head.CCOID.ClientSessionID,
			Sequence:        p.Head.CCOID.Sequence,
			Inode:           p.Head.Inode,
			Stripe:          msg.Stripe,
			Offset:          p.Head.Offset,
			OperationLength: p.Head.Length,
			DataLength:      uint64(len(p.newData)),
			VersionVector:   msg.VersionVector,
		},
		Data: p.newData,
	}

	if err := store.WriteBlock(ctx, p.Head.Inode, msg.Stripe, p.nextVersion, block); err != nil {
		return Fail(KindDiskError, p.Head.CCOID, err)
	}
	p.writtenBlock = &block
	p.Head.Status = StatusCommitted

	return t.SendCommitted(ctx, p.CoordinatorID, Committed{
		CCOID:    p.Head.CCOID,
		Stripe:   msg.Stripe,
		FromUnit: p.MyUnit,
	})
}

// OnResult finalizes the operation: on success, installs the written block
// as current in the cache. Always terminates the state machine.
func (p *Participant) OnResult(ctx context.Context, c *cache.Cache, msg Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.closeOnce.Do(func() { close(p.done) })

	if !msg.Success {
		p.Head.Status = StatusFailure
		logger.Warn("participant operation failed", "ccoid", p.Head.CCOID, "unit", p.MyUnit)
		return nil
	}

	if p.writtenBlock != nil {
		if err := c.SetCurrent(ctx, p.Head.Inode, msg.Stripe, p.Head.Layout.GroupSize, *p.writtenBlock); err != nil {
			return Fail(KindDiskError, p.Head.CCOID, err)
		}
	}
	p.Head.Status = StatusSuccess
	return nil
}
