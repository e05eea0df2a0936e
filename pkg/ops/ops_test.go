package ops

import (
	"context"
	"testing"

	"github.com/netraid/netraid/pkg/blockstore"
	"github.com/netraid/netraid/pkg/blockstore/memory"
	"github.com/netraid/netraid/pkg/cache"
	"github.com/netraid/netraid/pkg/geometry"
	"github.com/stretchr/testify/require"
)

// fakeTransport routes every Send call straight into in-process handler
// functions, letting the commit protocol run end to end without a real
// network.
type fakeTransport struct {
	onPrepare              func(uint32, Prepare)
	onCanCommit            func(uint32, CanCommit)
	onStripewriteCanCommit func(uint32, StripewriteCanCommit)
	onDoCommit             func(uint32, DoCommit)
	onCommitted            func(uint32, Committed)
	onResult               func(uint32, Result)
	onReceived             func(uint32, Received)
}

func (f *fakeTransport) SendReceived(ctx context.Context, to uint32, msg Received) error {
	if f.onReceived != nil {
		f.onReceived(to, msg)
	}
	return nil
}
func (f *fakeTransport) SendPrepare(ctx context.Context, to uint32, msg Prepare) error {
	if f.onPrepare != nil {
		f.onPrepare(to, msg)
	}
	return nil
}
func (f *fakeTransport) SendCanCommit(ctx context.Context, to uint32, msg CanCommit) error {
	if f.onCanCommit != nil {
		f.onCanCommit(to, msg)
	}
	return nil
}
func (f *fakeTransport) SendStripewriteCanCommit(ctx context.Context, to uint32, msg StripewriteCanCommit) error {
	if f.onStripewriteCanCommit != nil {
		f.onStripewriteCanCommit(to, msg)
	}
	return nil
}
func (f *fakeTransport) SendDoCommit(ctx context.Context, to uint32, msg DoCommit) error {
	if f.onDoCommit != nil {
		f.onDoCommit(to, msg)
	}
	return nil
}
func (f *fakeTransport) SendCommitted(ctx context.Context, to uint32, msg Committed) error {
	if f.onCommitted != nil {
		f.onCommitted(to, msg)
	}
	return nil
}
func (f *fakeTransport) SendResult(ctx context.Context, to uint32, msg Result) error {
	if f.onResult != nil {
		f.onResult(to, msg)
	}
	return nil
}

func testLayout() geometry.Layout {
	ids := make([]uint32, 4)
	for i := range ids {
		ids[i] = uint32(i)
	}
	return geometry.Layout{GroupSize: 4, StripeUnit: 64, ServerCount: 4, ServerIDs: ids}
}

// TestPartialStripeWriteCommitsAcrossParticipantsAndCoordinator drives one
// full cycle of a partial-stripe write through Received/Prepare/CanCommit/
// DoCommit/Committed/Result across a 3-data-unit + 1-parity group, and
// checks that every state machine succeeds and the coordinator ends with a
// current parity block.
func TestPartialStripeWriteCommitsAcrossParticipantsAndCoordinator(t *testing.T) {
	ctx := context.Background()
	layout := testLayout()
	head := Head{CCOID: CCOID{ClientSessionID: 1, Sequence: 1}, Inode: 42, Offset: 0, Length: 64, Layout: layout}

	coordStore := memory.New()
	coordCache := cache.New(coordStore, nil)
	unitServers := map[uint32]uint32{0: 0, 1: 1, 2: 2}
	coord := NewCoordinator(head, 0, Participants(0).Set(0).Set(1).Set(2), unitServers)

	participantStores := map[uint32]blockstore.Store{0: memory.New(), 1: memory.New(), 2: memory.New()}
	participantCaches := map[uint32]*cache.Cache{0: cache.New(participantStores[0], nil), 1: cache.New(participantStores[1], nil), 2: cache.New(participantStores[2], nil)}
	participants := map[uint32]*Participant{
		0: NewParticipant(head, 0, 3, false),
		1: NewParticipant(head, 1, 3, false),
		2: NewParticipant(head, 2, 3, false),
	}

	// Each send is queued and delivered after the sender returns: the state
	// machines hold their own mutex while sending, so delivering inline
	// would re-enter a lock that is still held.
	var pending []func()
	deliver := func(f func()) { pending = append(pending, f) }

	tr := &fakeTransport{}
	tr.onReceived = func(to uint32, msg Received) {
		deliver(func() { require.NoError(t, coord.OnReceived(ctx, tr, msg)) })
	}
	tr.onPrepare = func(to uint32, msg Prepare) {
		deliver(func() { require.NoError(t, participants[to].OnPrepare(ctx, participantCaches[to], tr, []byte("newdata!"))) })
	}
	tr.onCanCommit = func(to uint32, msg CanCommit) {
		deliver(func() { require.NoError(t, coord.OnCanCommit(ctx, coordStore, coordCache, tr, msg)) })
	}
	tr.onDoCommit = func(to uint32, msg DoCommit) {
		deliver(func() { require.NoError(t, participants[to].OnDoCommit(ctx, participantStores[to], tr, msg)) })
	}

	committed := Participants(0)
	tr.onCommitted = func(to uint32, msg Committed) {
		deliver(func() { require.NoError(t, coord.OnCommitted(ctx, coordCache, tr, msg, &committed)) })
	}
	tr.onResult = func(to uint32, msg Result) {
		deliver(func() { require.NoError(t, participants[to].OnResult(ctx, participantCaches[to], msg)) })
	}

	for _, p := range participants {
		require.NoError(t, p.OnInsert(ctx, tr, Participants(0).Set(0).Set(1).Set(2)))
	}
	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]
		next()
	}

	require.Equal(t, StatusSuccess, coord.Head.Status)
	for _, p := range participants {
		require.Equal(t, StatusSuccess, p.Head.Status)
	}

	parityBlock, err := coordCache.GetCurrent(ctx, 42, 0)
	require.NoError(t, err)
	require.NotNil(t, parityBlock)
}

func TestCoordinatorRejectsDuplicateReceived(t *testing.T) {
	ctx := context.Background()
	layout := testLayout()
	head := Head{CCOID: CCOID{ClientSessionID: 1, Sequence: 2}, Inode: 1, Layout: layout}
	coord := NewCoordinator(head, 0, Participants(0).Set(0).Set(1), map[uint32]uint32{0: 0, 1: 1})
	tr := &fakeTransport{}

	require.NoError(t, coord.OnReceived(ctx, tr, Received{FromUnit: 0}))
	err := coord.OnReceived(ctx, tr, Received{FromUnit: 0})
	require.Error(t, err)
}

func TestCoordinatorRejectsMultiBitParticipants(t *testing.T) {
	ctx := context.Background()
	layout := testLayout()
	head := Head{CCOID: CCOID{ClientSessionID: 1, Sequence: 3}, Inode: 1, Layout: layout}
	coord := NewCoordinator(head, 0, Participants(0).Set(0).Set(1), map[uint32]uint32{0: 0, 1: 1})
	tr := &fakeTransport{}

	err := coord.OnReceived(ctx, tr, Received{FromUnit: 0, Participants: Participants(0).Set(0).Set(5)})
	require.Error(t, err)
}

func TestCoordinatorCheckTimeoutFailsStaleOperation(t *testing.T) {
	ctx := context.Background()
	layout := testLayout()
	head := Head{CCOID: CCOID{ClientSessionID: 1, Sequence: 4}, Inode: 1, Layout: layout}
	coord := NewCoordinator(head, 0, Participants(0).Set(0), map[uint32]uint32{0: 0})
	coord.lastPhaseAt = coord.lastPhaseAt.Add(-phaseTimeout * 2)

	var gotFailure bool
	tr := &fakeTransport{onResult: func(to uint32, msg Result) {
		gotFailure = !msg.Success
	}}

	require.True(t, coord.CheckTimeout(ctx, tr))
	require.True(t, gotFailure)
	require.Equal(t, StatusFailure, coord.Head.Status)
}

func TestParticipantOnDoCommitRejectsWrongState(t *testing.T) {
	ctx := context.Background()
	layout := testLayout()
	head := Head{CCOID: CCOID{ClientSessionID: 1, Sequence: 5}, Inode: 1, Layout: layout}
	p := NewParticipant(head, 0, 3, false)
	store := memory.New()

	err := p.OnDoCommit(ctx, store, &fakeTransport{}, DoCommit{})
	require.Error(t, err)
}
