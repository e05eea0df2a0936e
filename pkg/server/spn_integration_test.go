package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netraid/netraid/pkg/blockstore/fs"
	"github.com/netraid/netraid/pkg/cache"
	"github.com/netraid/netraid/pkg/config"
	"github.com/netraid/netraid/pkg/geometry"
	"github.com/netraid/netraid/pkg/ops"
	"github.com/netraid/netraid/pkg/registry"
)

// testLayout is a 2-server, group-of-2 layout: one data unit, one parity
// unit, matching the two nodes testCluster brings up.
func testLayout() geometry.Layout {
	return geometry.Layout{GroupSize: 2, StripeUnit: 64, ServerCount: 2, ServerIDs: []uint32{0, 1}}
}

// testNode is one in-process NetRAID node for the integration test: its
// own block store, cache and Manager, listening on fixed loopback ports.
type testNode struct {
	mgr *Manager
}

func newTestNode(t *testing.T, reg *registry.Registry, serverID uint32, ccBase, spnBase int) *testNode {
	t.Helper()

	store, err := fs.New(t.TempDir(), serverID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cc := cache.New(store, nil)

	cfg := config.Config{
		Node: config.NodeConfig{
			ServerID:                serverID,
			ClusterCoordinationBase: ccBase,
			StorageBase:             spnBase,
		},
		Dispatch: config.DispatchConfig{
			USleep:       time.Millisecond,
			Backoff:      2,
			MaxIter:      5,
			PhaseTimeout: 2 * time.Second,
		},
	}

	mgr := NewManager(cfg, store, cc, reg)
	require.NoError(t, mgr.Start(4))
	t.Cleanup(mgr.Stop)

	return &testNode{mgr: mgr}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(config.RegistryConfig{Type: "sqlite", SQLitePath: ":memory:", AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestPartialStripeWriteAndReadRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	const ccBase, spnBase = 19100, 19200
	dataNode := newTestNode(t, reg, 0, ccBase, spnBase)
	parityNode := newTestNode(t, reg, 1, ccBase, spnBase)

	require.NoError(t, reg.UpsertServer(ctx, registry.ServerRecord{
		ID: 0, Address: "127.0.0.1", CCCPort: ccBase, SPNPort: spnBase, Status: registry.ServerStatusUp,
	}))
	require.NoError(t, reg.UpsertServer(ctx, registry.ServerRecord{
		ID: 1, Address: "127.0.0.1", CCCPort: ccBase + 1, SPNPort: spnBase + 1, Status: registry.ServerStatusUp,
	}))

	layout := testLayout()
	gw := NewSPNGateway(reg, 99)
	t.Cleanup(gw.Close)

	data := []byte("partial stripe payload")
	require.NoError(t, ops.Write(ctx, gw, layout, 42, 0, data))

	_ = dataNode
	_ = parityNode

	got, err := ops.Read(ctx, gw, layout, 42, 0, uint64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// bigLayout is the spec's canonical end-to-end layout: 16 servers in two
// groups of 8, one parity unit per group.
func bigLayout() geometry.Layout {
	ids := make([]uint32, 16)
	for i := range ids {
		ids[i] = uint32(i)
	}
	return geometry.Layout{GroupSize: 8, StripeUnit: 10, ServerCount: 16, ServerIDs: ids}
}

// newBigCluster brings up one testNode per id in serverIDs (not the full
// 16-server cluster — only the servers an operation actually touches need
// to be live) and registers all of them.
func newBigCluster(t *testing.T, ccBase, spnBase int, serverIDs []uint32) *registry.Registry {
	t.Helper()
	reg := newTestRegistry(t)
	ctx := context.Background()
	for _, id := range serverIDs {
		newTestNode(t, reg, id, ccBase, spnBase)
		require.NoError(t, reg.UpsertServer(ctx, registry.ServerRecord{
			ID: id, Address: "127.0.0.1", CCCPort: ccBase + int(id), SPNPort: spnBase + int(id), Status: registry.ServerStatusUp,
		}))
	}
	return reg
}

// TestSingleStripeUnitWriteAndRead is scenario 1: a write entirely within
// one unit of stripe 0.
func TestSingleStripeUnitWriteAndRead(t *testing.T) {
	const ccBase, spnBase = 19500, 19600
	reg := newBigCluster(t, ccBase, spnBase, []uint32{0, 7})
	layout := bigLayout()
	gw := NewSPNGateway(reg, 1)
	t.Cleanup(gw.Close)

	ctx := context.Background()
	data := []byte("abcdefghij")
	require.NoError(t, ops.Write(ctx, gw, layout, 100, 0, data))

	got, err := ops.Read(ctx, gw, layout, 100, 0, uint64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// TestTwoUnitPartialStripeWriteAndRead is scenario 2: a write spanning
// units 0 and 1 of stripe 0 — the multi-unit partial-stripe fan-out path.
func TestTwoUnitPartialStripeWriteAndRead(t *testing.T) {
	const ccBase, spnBase = 19700, 19800
	reg := newBigCluster(t, ccBase, spnBase, []uint32{0, 1, 7})
	layout := bigLayout()
	gw := NewSPNGateway(reg, 2)
	t.Cleanup(gw.Close)

	ctx := context.Background()
	data := []byte("abcdefghijABCDEFGHIJ")
	require.NoError(t, ops.Write(ctx, gw, layout, 101, 0, data))

	got, err := ops.Read(ctx, gw, layout, 101, 0, uint64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// TestThreeUnitPartialStripeWriteAndRead is scenario 3: a write spanning
// units 0, 1 and 2 of stripe 0, still short of the layout's seven data
// units, so it stays on the partial-stripe path.
func TestThreeUnitPartialStripeWriteAndRead(t *testing.T) {
	const ccBase, spnBase = 19900, 20000
	reg := newBigCluster(t, ccBase, spnBase, []uint32{0, 1, 2, 7})
	layout := bigLayout()
	gw := NewSPNGateway(reg, 3)
	t.Cleanup(gw.Close)

	ctx := context.Background()
	data := []byte("abcdefghijABCDEFGHIJ0123456789")
	require.NoError(t, ops.Write(ctx, gw, layout, 102, 0, data))

	got, err := ops.Read(ctx, gw, layout, 102, 0, uint64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFullStripeWriteSucceeds(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	const ccBase, spnBase = 19300, 19400
	newTestNode(t, reg, 0, ccBase, spnBase)
	newTestNode(t, reg, 1, ccBase, spnBase)

	require.NoError(t, reg.UpsertServer(ctx, registry.ServerRecord{
		ID: 0, Address: "127.0.0.1", CCCPort: ccBase, SPNPort: spnBase, Status: registry.ServerStatusUp,
	}))
	require.NoError(t, reg.UpsertServer(ctx, registry.ServerRecord{
		ID: 1, Address: "127.0.0.1", CCCPort: ccBase + 1, SPNPort: spnBase + 1, Status: registry.ServerStatusUp,
	}))

	layout := testLayout()
	gw := NewSPNGateway(reg, 7)
	t.Cleanup(gw.Close)

	data := make([]byte, layout.StripeSize())
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, ops.Write(ctx, gw, layout, 7, 0, data))

	got, err := ops.Read(ctx, gw, layout, 7, 0, uint64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// wideFullStripeLayout has three data units, wide enough that a unit's
// slice of the stripe's concatenated payload no longer coincides with
// [0:StripeUnit) for every unit — unlike testLayout's single data unit,
// this catches a full-stripe write that hands every unit the same bytes.
func wideFullStripeLayout() geometry.Layout {
	return geometry.Layout{GroupSize: 4, StripeUnit: 8, ServerCount: 4, ServerIDs: []uint32{0, 1, 2, 3}}
}

func TestFullStripeWriteWithMultipleDataUnitsPlacesDistinctBytes(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	const ccBase, spnBase = 20100, 20200
	for _, id := range []uint32{0, 1, 2, 3} {
		newTestNode(t, reg, id, ccBase, spnBase)
		require.NoError(t, reg.UpsertServer(ctx, registry.ServerRecord{
			ID: id, Address: "127.0.0.1", CCCPort: ccBase + int(id), SPNPort: spnBase + int(id), Status: registry.ServerStatusUp,
		}))
	}

	layout := wideFullStripeLayout()
	gw := NewSPNGateway(reg, 9)
	t.Cleanup(gw.Close)

	data := []byte("AAAAAAAABBBBBBBBCCCCCCCC") // unit 0, unit 1, unit 2
	require.Equal(t, int(layout.StripeSize()), len(data))
	require.NoError(t, ops.Write(ctx, gw, layout, 9, 0, data))

	got, err := ops.Read(ctx, gw, layout, 9, 0, uint64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, got)
}
