package ops

import "sync"

// stripeKey identifies one (inode, stripe) operation slot.
type stripeKey struct {
	inode, stripe uint64
}

// StripeManager owns every in-flight coordinator and participant operation
// on a node, one per (inode, stripe). Lookups and inserts are guarded by a
// single map mutex; each entry then owns its own finer-grained mutex, so
// callers acquire locks outer (manager) to inner (operation) and never the
// reverse, matching the node -> inode -> stripe -> entry ordering used
// throughout the cluster to rule out lock-order cycles.
type StripeManager struct {
	mu           sync.Mutex
	coordinators map[stripeKey]*Coordinator
	participants map[stripeKey]*Participant
	byCCOID      map[CCOID]stripeKey
}

// NewStripeManager creates an empty manager.
func NewStripeManager() *StripeManager {
	return &StripeManager{
		coordinators: make(map[stripeKey]*Coordinator),
		participants: make(map[stripeKey]*Participant),
		byCCOID:      make(map[CCOID]stripeKey),
	}
}

// IndexCCOID records which (inode, stripe) an operation id belongs to, so a
// CCC message that carries only the CCOID and stripe number (not the inode)
// can be routed to the right entry. pkg/server's storage-protocol write
// handler calls it for every write request it accepts.
func (m *StripeManager) IndexCCOID(ccoid CCOID, inode, stripe uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCCOID[ccoid] = stripeKey{inode, stripe}
}

// LookupCCOID resolves a previously indexed operation id to its inode.
func (m *StripeManager) LookupCCOID(ccoid CCOID) (inode uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byCCOID[ccoid]
	return k.inode, ok
}

// ReleaseCCOID drops the CCOID index entry alongside the operation itself.
func (m *StripeManager) ReleaseCCOID(ccoid CCOID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byCCOID, ccoid)
}

// Coordinator returns the coordinator operation for (inode, stripe),
// creating it via newFn on first touch.
func (m *StripeManager) Coordinator(inode, stripe uint64, newFn func() *Coordinator) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := stripeKey{inode, stripe}
	if c, ok := m.coordinators[k]; ok {
		return c
	}
	c := newFn()
	m.coordinators[k] = c
	return c
}

// Participant returns the participant operation for (inode, stripe),
// creating it via newFn on first touch.
func (m *StripeManager) Participant(inode, stripe uint64, newFn func() *Participant) *Participant {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := stripeKey{inode, stripe}
	if p, ok := m.participants[k]; ok {
		return p
	}
	p := newFn()
	m.participants[k] = p
	return p
}

// LookupCoordinator returns the existing coordinator for (inode, stripe),
// if any, without creating one.
func (m *StripeManager) LookupCoordinator(inode, stripe uint64) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coordinators[stripeKey{inode, stripe}]
	return c, ok
}

// LookupParticipant returns the existing participant for (inode, stripe),
// if any, without creating one.
func (m *StripeManager) LookupParticipant(inode, stripe uint64) (*Participant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[stripeKey{inode, stripe}]
	return p, ok
}

// ReleaseCoordinator drops a completed coordinator operation from the
// table. Called once its terminal Result has been broadcast.
func (m *StripeManager) ReleaseCoordinator(inode, stripe uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coordinators, stripeKey{inode, stripe})
}

// ReleaseParticipant drops a completed participant operation from the table.
func (m *StripeManager) ReleaseParticipant(inode, stripe uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participants, stripeKey{inode, stripe})
}

// PendingCoordinators returns a snapshot of every in-flight coordinator
// operation, for the watchdog's timeout sweep.
func (m *StripeManager) PendingCoordinators() []*Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Coordinator, 0, len(m.coordinators))
	for _, c := range m.coordinators {
		out = append(out, c)
	}
	return out
}
