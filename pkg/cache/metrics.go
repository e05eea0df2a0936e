package cache

// Metrics receives cache version and GC events. No implementation ships in
// this module (cmd/netraid passes nil); a nil Metrics means metrics are
// disabled, and every call site here guards with a nil check rather than
// requiring callers to know whether metrics are enabled.
type Metrics interface {
	RecordCurrentVersion(inum, stripe, version uint64)
	RecordGCSweep(reclaimed int)
}
