package registry

import "time"

// FileLayoutRecord is the persisted form of a file's immutable RAID-4
// geometry: group size, stripe unit size, and the ordered server ids its
// stripes are assigned to. Once written for an inode it never changes —
// striping geometry is fixed at file creation, per the MDS's allocation
// decision (an external collaborator this registry does not make).
type FileLayoutRecord struct {
	Inode       uint64 `gorm:"primaryKey"`
	GroupSize   uint32 `gorm:"not null"`
	StripeUnit  uint64 `gorm:"not null"`
	ServerCount uint32 `gorm:"not null"`
	ServerIDs   string `gorm:"column:server_ids;not null"` // comma-separated, ordered

	CreatedAt time.Time
}

func (FileLayoutRecord) TableName() string { return "file_layouts" }

// ServerStatus is the last-known reachability of a registered data server.
type ServerStatus string

const (
	ServerStatusUnknown ServerStatus = "unknown"
	ServerStatusUp      ServerStatus = "up"
	ServerStatusDown    ServerStatus = "down"
)

// ServerRecord is a data server's entry in the cluster's server directory:
// its id, network address, and the ports it derives its CCC/SPN listeners
// from (§6 port scheme, CCC_BASE/SPN_BASE + ServerID).
type ServerRecord struct {
	ID      uint32 `gorm:"primaryKey"`
	Address string `gorm:"not null"`
	CCCPort int    `gorm:"not null"`
	SPNPort int    `gorm:"not null"`

	Status     ServerStatus `gorm:"not null;default:unknown"`
	LastSeenAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ServerRecord) TableName() string { return "servers" }

// AllModels lists every model migrated/auto-migrated by this package,
// mirroring the teacher's pkg/controlplane/models.AllModels aggregation.
func AllModels() []any {
	return []any{
		&FileLayoutRecord{},
		&ServerRecord{},
	}
}
