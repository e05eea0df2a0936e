package ops

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/netraid/netraid/pkg/cache"
	"github.com/netraid/netraid/pkg/parity"
)

// phaseTimeout is how long a coordinator operation may sit in one phase
// before the watchdog fails it (§5: OPERATION_TIMEOUT_LEVEL_A).
const phaseTimeout = 2 * time.Second

type canCommitEntry struct {
	version uint64
	piece   []byte // nil for full-stripe fast path
}

// Coordinator is the primary-coordinator state machine run on the parity
// server of a stripe: init -> prepare -> docommit -> committed ->
// {success|failure}.
type Coordinator struct {
	mu sync.Mutex

	Head         Head
	Stripe       uint64
	Participants Participants
	UnitServers  map[uint32]uint32 // unit id -> server id, excluding parity

	receivedFrom   Participants
	canCommits     map[uint32]canCommitEntry
	pendingVersion uint64

	lastPhaseAt time.Time
}

// NewCoordinator creates a coordinator operation in state init.
func NewCoordinator(head Head, stripe uint64, participants Participants, unitServers map[uint32]uint32) *Coordinator {
	head.Status = StatusInit
	return &Coordinator{
		Head:         head,
		Stripe:       stripe,
		Participants: participants,
		UnitServers:  unitServers,
		canCommits:   make(map[uint32]canCommitEntry),
		lastPhaseAt:  time.Now(),
	}
}

// OnReceived records a participant's Received message. Once received_from
// equals participants, broadcasts Prepare to every unit of the stripe.
// A sender bit that is already set, or a reported participants bitmap that
// names a unit outside this operation's participants, is rejected with
// KindMessageMalformed; the operation's state is left unchanged.
func (c *Coordinator) OnReceived(ctx context.Context, t Transport, msg Received) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.receivedFrom.Has(msg.FromUnit) {
		return Fail(KindMessageMalformed, c.Head.CCOID, fmt.Errorf("received duplicate Received from unit %d", msg.FromUnit))
	}
	if (msg.Participants &^ c.Participants) != 0 {
		return Fail(KindMessageMalformed, c.Head.CCOID, errMultiBitReceivedFrom)
	}

	c.receivedFrom = c.receivedFrom.Set(msg.FromUnit)
	c.lastPhaseAt = time.Now()

	if !c.receivedFrom.Equal(c.Participants) {
		return nil
	}

	c.Head.Status = StatusPrepare
	for unit, server := range c.UnitServers {
		if err := t.SendPrepare(ctx, server, Prepare{CCOID: c.Head.CCOID, Stripe: c.Stripe}); err != nil {
			logger.Warn("coordinator: prepare send failed", "ccoid", c.Head.CCOID, "unit", unit, "error", err)
		}
	}
	return nil
}

// OnCanCommit records a participant's proposed version and parity delta.
// Once every participant has responded, assembles final parity, allocates
// the coordinator's own parity-slot version, writes the parity block, and
// broadcasts DoCommit.
func (c *Coordinator) OnCanCommit(ctx context.Context, store blockstore.Store, cc *cache.Cache, t Transport, msg CanCommit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Head.Status != StatusPrepare {
		return Fail(KindNoSuchOperation, c.Head.CCOID, fmt.Errorf("coordinator: cancommit received in state %s", c.Head.Status))
	}
	c.canCommits[msg.FromUnit] = canCommitEntry{version: msg.NextVersion, piece: msg.ParityPiece}
	c.lastPhaseAt = time.Now()

	if len(c.canCommits) < c.Participants.Count() {
		return nil
	}
	return c.assembleAndDoCommit(ctx, store, cc, t)
}

// OnStripewriteCanCommit is the full-stripe fast-path equivalent of
// OnCanCommit: no parity piece, since the data blocks are delivered to the
// coordinator directly and it XORs the raw new data in place of a delta.
func (c *Coordinator) OnStripewriteCanCommit(ctx context.Context, store blockstore.Store, cc *cache.Cache, t Transport, msg StripewriteCanCommit, newData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.canCommits[msg.FromUnit] = canCommitEntry{version: msg.NextVersion, piece: newData}
	c.lastPhaseAt = time.Now()

	if len(c.canCommits) < c.Participants.Count() {
		return nil
	}
	return c.assembleAndDoCommit(ctx, store, cc, t)
}

func (c *Coordinator) assembleAndDoCommit(ctx context.Context, store blockstore.Store, cc *cache.Cache, t Transport) error {
	var finalParity []byte

	// Full-stripe fast path: every data unit's raw new content is present,
	// so the new parity is N0 XOR ... XOR N(G-2) with no prior-parity term.
	// Folding in the existing parity here would leave it XORed into the
	// result a second time.
	if c.Head.SubType != FullStripeWrite {
		// P' = P XOR E XOR N: fold in the stripe's existing parity block
		// before XORing every participant's delta piece on top of it.
		existing, err := cc.GetCurrent(ctx, c.Head.Inode, c.Stripe)
		if err != nil {
			return Fail(KindDiskError, c.Head.CCOID, err)
		}
		if existing != nil {
			finalParity = append([]byte(nil), existing.Data...)
		}
	}
	for _, entry := range c.canCommits {
		if entry.piece == nil {
			continue
		}
		if finalParity == nil {
			finalParity = append([]byte(nil), entry.piece...)
		} else {
			finalParity = parity.XOR(finalParity, finalParity, entry.piece)
		}
	}

	parityUnit := c.Head.Layout.GroupSize - 1
	vec, err := cc.NextVersionVector(ctx, c.Head.Inode, c.Stripe, c.Head.Layout.GroupSize, parityUnit, nil)
	if err != nil {
		return Fail(KindDiskError, c.Head.CCOID, err)
	}
	for unit, entry := range c.canCommits {
		if int(unit) < len(vec) {
			vec[unit] = entry.version
		}
	}

	block := blockstore.Block{
		Metadata: blockstore.Metadata{
			ClientSessionID: c.Head.CCOID.ClientSessionID,
			Sequence:        c.Head.CCOID.Sequence,
			Inode:           c.Head.Inode,
			Stripe:          c.Stripe,
			Offset:          c.Head.Offset,
			OperationLength: c.Head.Length,
			DataLength:      uint64(len(finalParity)),
			VersionVector:   vec,
		},
		Data: finalParity,
	}
	if err := store.WriteBlock(ctx, c.Head.Inode, c.Stripe, vec[parityUnit], block); err != nil {
		return Fail(KindDiskError, c.Head.CCOID, err)
	}
	if err := cc.ParityUnconfirmed(ctx, c.Head.Inode, c.Stripe, c.Head.Layout.GroupSize, block); err != nil {
		return Fail(KindDiskError, c.Head.CCOID, err)
	}
	c.pendingVersion = vec[parityUnit]

	c.Head.Status = StatusDoCommit
	c.lastPhaseAt = time.Now()

	for unit, server := range c.UnitServers {
		if err := t.SendDoCommit(ctx, server, DoCommit{CCOID: c.Head.CCOID, Stripe: c.Stripe, VersionVector: vec}); err != nil {
			logger.Warn("coordinator: docommit send failed", "ccoid", c.Head.CCOID, "unit", unit, "error", err)
		}
	}
	return nil
}

// OnCommitted records a participant's Committed message into committed,
// owned by the caller since it restarts fresh for every operation the
// dispatcher tracks. Once every participant has confirmed, promotes the
// parity block to current and broadcasts Result(success).
func (c *Coordinator) OnCommitted(ctx context.Context, cc *cache.Cache, t Transport, msg Committed, committed *Participants) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Head.Status != StatusDoCommit {
		return Fail(KindNoSuchOperation, c.Head.CCOID, fmt.Errorf("coordinator: committed received in state %s", c.Head.Status))
	}
	*committed = committed.Set(msg.FromUnit)
	c.lastPhaseAt = time.Now()

	if !committed.Equal(c.Participants) {
		return nil
	}

	if err := cc.ParityConfirm(ctx, c.Head.Inode, c.Stripe, c.Head.Layout.GroupSize, c.pendingVersion); err != nil {
		return Fail(KindDiskError, c.Head.CCOID, err)
	}

	c.Head.Status = StatusCommitted
	for unit, server := range c.UnitServers {
		if err := t.SendResult(ctx, server, Result{CCOID: c.Head.CCOID, Stripe: c.Stripe, Success: true}); err != nil {
			logger.Warn("coordinator: result send failed", "ccoid", c.Head.CCOID, "unit", unit, "error", err)
		}
	}
	c.Head.Status = StatusSuccess
	return nil
}

// CheckTimeout fails the operation if its current phase has been open
// longer than phaseTimeout, broadcasting Result(failure). Intended to be
// called by the watchdog's periodic maintenance-queue sweep (§5, §9).
func (c *Coordinator) CheckTimeout(ctx context.Context, t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Head.Status == StatusSuccess || c.Head.Status == StatusFailure {
		return false
	}
	if time.Since(c.lastPhaseAt) < phaseTimeout {
		return false
	}

	c.Head.Status = StatusFailure
	for unit, server := range c.UnitServers {
		if err := t.SendResult(ctx, server, Result{CCOID: c.Head.CCOID, Stripe: c.Stripe, Success: false}); err != nil {
			logger.Warn("coordinator: timeout result send failed", "ccoid", c.Head.CCOID, "unit", unit, "error", err)
		}
	}
	return true
}
