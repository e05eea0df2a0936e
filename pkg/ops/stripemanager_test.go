package ops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripeManagerCreatesOnFirstTouch(t *testing.T) {
	m := NewStripeManager()
	calls := 0
	newFn := func() *Participant {
		calls++
		return NewParticipant(Head{}, 0, 1, false)
	}

	p1 := m.Participant(1, 2, newFn)
	p2 := m.Participant(1, 2, newFn)

	require.Same(t, p1, p2)
	require.Equal(t, 1, calls)
}

func TestStripeManagerDistinctKeysGetDistinctOperations(t *testing.T) {
	m := NewStripeManager()
	a := m.Coordinator(1, 0, func() *Coordinator { return NewCoordinator(Head{}, 0, 0, nil) })
	b := m.Coordinator(1, 1, func() *Coordinator { return NewCoordinator(Head{}, 1, 0, nil) })

	require.NotSame(t, a, b)
}

func TestStripeManagerReleaseRemovesEntry(t *testing.T) {
	m := NewStripeManager()
	newFn := func() *Coordinator { return NewCoordinator(Head{}, 0, 0, nil) }

	first := m.Coordinator(1, 0, newFn)
	m.ReleaseCoordinator(1, 0)
	second := m.Coordinator(1, 0, newFn)

	require.NotSame(t, first, second)
}

func TestStripeManagerPendingCoordinatorsSnapshot(t *testing.T) {
	m := NewStripeManager()
	m.Coordinator(1, 0, func() *Coordinator { return NewCoordinator(Head{}, 0, 0, nil) })
	m.Coordinator(1, 1, func() *Coordinator { return NewCoordinator(Head{}, 1, 0, nil) })

	require.Len(t, m.PendingCoordinators(), 2)
}
