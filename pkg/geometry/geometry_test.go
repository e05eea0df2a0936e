package geometry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testLayout(t *testing.T) Layout {
	t.Helper()
	ids := make([]uint32, 16)
	for i := range ids {
		ids[i] = uint32(i)
	}
	l := Layout{GroupSize: 8, StripeUnit: 10, ServerCount: 16, ServerIDs: ids}
	require.NoError(t, l.Validate())
	return l
}

func TestValidate(t *testing.T) {
	l := testLayout(t)
	require.NoError(t, l.Validate())

	bad := l
	bad.GroupSize = 1
	require.ErrorIs(t, bad.Validate(), ErrInvalidLayout)

	bad = l
	bad.ServerCount = 15
	require.ErrorIs(t, bad.Validate(), ErrInvalidLayout)

	bad = l
	bad.ServerIDs = ids3()
	require.ErrorIs(t, bad.Validate(), ErrInvalidLayout)
}

func ids3() []uint32 { return []uint32{0, 1, 2} }

func TestStripeAndUnitOf(t *testing.T) {
	l := testLayout(t) // stripe size = 7*10 = 70

	require.EqualValues(t, 0, l.StripeOf(0))
	require.EqualValues(t, 0, l.StripeOf(69))
	require.EqualValues(t, 1, l.StripeOf(70))

	require.EqualValues(t, 0, l.UnitOf(0))
	require.EqualValues(t, 0, l.UnitOf(9))
	require.EqualValues(t, 1, l.UnitOf(10))
	require.EqualValues(t, 6, l.UnitOf(69))
}

func TestGroupAndServerAssignment(t *testing.T) {
	l := testLayout(t) // N/G = 2 groups

	require.EqualValues(t, 0, l.GroupOf(0))
	require.EqualValues(t, 1, l.GroupOf(8))
	require.EqualValues(t, 0, l.GroupOf(2))

	require.EqualValues(t, 7, l.ParityServer(0))
	require.EqualValues(t, 15, l.ParityServer(8))
	require.EqualValues(t, 0, l.ServerOf(0, 0))
	require.EqualValues(t, 6, l.ServerOf(0, 6))
	require.EqualValues(t, 8, l.ServerOf(8, 0))
}

func TestIsCoordinator(t *testing.T) {
	l := testLayout(t)

	require.Equal(t, RoleParity, l.IsCoordinator(0, 7))
	require.Equal(t, RoleSecondary, l.IsCoordinator(0, 0))
	require.Equal(t, RoleParticipant, l.IsCoordinator(0, 3))
}

func TestStripesOfSingleUnit(t *testing.T) {
	l := testLayout(t)

	spans := l.StripesOf(0, 10)
	require.Len(t, spans, 1)
	require.EqualValues(t, 0, spans[0].StripeID)
	require.False(t, spans[0].IsFull)
	require.Len(t, spans[0].Units, 1)
	require.EqualValues(t, 0, spans[0].Units[0].Unit)
	require.EqualValues(t, 0, spans[0].Units[0].StartInUnit)
	require.EqualValues(t, 10, spans[0].Units[0].EndInUnit)
	require.EqualValues(t, 0, spans[0].Units[0].ServerID)
}

func TestStripesOfTwoUnits(t *testing.T) {
	l := testLayout(t)

	spans := l.StripesOf(0, 20)
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Units, 2)
	require.EqualValues(t, 1, spans[0].Units[1].Unit)
}

func TestStripesOfFullStripe(t *testing.T) {
	l := testLayout(t)

	spans := l.StripesOf(0, 70)
	require.Len(t, spans, 1)
	require.True(t, spans[0].IsFull)
	require.Len(t, spans[0].Units, 7)
}

func TestStripesOfBoundaryNoPhantomStripe(t *testing.T) {
	l := testLayout(t)

	spans := l.StripesOf(0, 70)
	require.Len(t, spans, 1, "a range ending exactly on a stripe boundary must not emit a phantom next stripe")
}

func TestStripesOfSpanningTwoStripes(t *testing.T) {
	l := testLayout(t)

	spans := l.StripesOf(60, 20) // last 10 of stripe 0, first 10 of stripe 1
	require.Len(t, spans, 2)
	require.EqualValues(t, 0, spans[0].StripeID)
	require.False(t, spans[0].IsFull)
	require.EqualValues(t, 1, spans[1].StripeID)
	require.False(t, spans[1].IsFull)
}

func TestStripesOfZeroLength(t *testing.T) {
	l := testLayout(t)
	require.Empty(t, l.StripesOf(0, 0))
}
