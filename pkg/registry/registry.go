// Package registry persists the small slice of cluster-wide state NetRAID
// itself owns: each file's immutable striping geometry and the server
// directory data servers register themselves into. The metadata server
// proper (sessions, locks, namespace) stays an external collaborator; this
// package never reaches into that domain.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver used only for migrations
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/config"
	"github.com/netraid/netraid/pkg/geometry"
	"github.com/netraid/netraid/pkg/registry/migrations"
)

// ErrLayoutNotFound is returned when no layout is registered for an inode.
var ErrLayoutNotFound = errors.New("registry: file layout not found")

// ErrServerNotFound is returned when no server is registered under an id.
var ErrServerNotFound = errors.New("registry: server not found")

// ErrLayoutExists is returned by RegisterFileLayout on a duplicate inode,
// since geometry is fixed for the lifetime of a file.
var ErrLayoutExists = errors.New("registry: file layout already registered")

// Registry is the gorm-backed cluster registry.
type Registry struct {
	db *gorm.DB
}

func dsn(cfg config.RegistryConfig) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
}

// New opens the registry's database connection, applies pending schema
// migrations when cfg.AutoMigrate is set, and returns a ready Registry. cfg.Type selects the backend:
// "postgres" for production clusters, "sqlite" for a single-node or local
// development server.
func New(cfg config.RegistryConfig) (*Registry, error) {
	if cfg.Type == "sqlite" {
		return newSQLite(cfg)
	}
	return newPostgres(cfg)
}

func newPostgres(cfg config.RegistryConfig) (*Registry, error) {
	if cfg.AutoMigrate {
		if err := runMigrations(dsn(cfg)); err != nil {
			return nil, fmt.Errorf("registry: migration failed: %w", err)
		}
	}

	db, err := gorm.Open(postgres.Open(dsn(cfg)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: failed to connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("registry: failed to get underlying connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return &Registry{db: db}, nil
}

// newSQLite opens a single-file SQLite registry for local development and
// single-node deployments. golang-migrate's postgres driver doesn't apply
// here, so schema setup goes through gorm's AutoMigrate instead, mirroring
// how the wider pack's dual-backend store bootstraps its SQLite leg.
func newSQLite(cfg config.RegistryConfig) (*Registry, error) {
	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open sqlite database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(AllModels()...); err != nil {
			return nil, fmt.Errorf("registry: auto-migrate failed: %w", err)
		}
	}

	return &Registry{db: db}, nil
}

// runMigrations applies every pending schema migration using golang-migrate,
// relying on Postgres advisory locks to serialize concurrent server startups.
func runMigrations(connString string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    "netraid_registry",
	})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		logger.Warn("registry schema is in a dirty migration state", "version", version)
	}

	return nil
}

// Close releases the underlying database connection.
func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RegisterFileLayout persists an inode's immutable striping geometry.
// Returns ErrLayoutExists if one is already registered for the inode.
func (r *Registry) RegisterFileLayout(ctx context.Context, inode uint64, layout geometry.Layout) error {
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	record := &FileLayoutRecord{
		Inode:       inode,
		GroupSize:   layout.GroupSize,
		StripeUnit:  layout.StripeUnit,
		ServerCount: layout.ServerCount,
		ServerIDs:   encodeServerIDs(layout.ServerIDs),
		CreatedAt:   time.Now(),
	}

	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil && isUniqueViolation(err) {
		return ErrLayoutExists
	}
	return err
}

// GetFileLayout looks up an inode's striping geometry.
func (r *Registry) GetFileLayout(ctx context.Context, inode uint64) (geometry.Layout, error) {
	var record FileLayoutRecord
	err := r.db.WithContext(ctx).Where("inode = ?", inode).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return geometry.Layout{}, ErrLayoutNotFound
	}
	if err != nil {
		return geometry.Layout{}, err
	}

	ids, err := decodeServerIDs(record.ServerIDs)
	if err != nil {
		return geometry.Layout{}, fmt.Errorf("registry: corrupt server_ids for inode %d: %w", inode, err)
	}

	return geometry.Layout{
		GroupSize:   record.GroupSize,
		StripeUnit:  record.StripeUnit,
		ServerCount: record.ServerCount,
		ServerIDs:   ids,
	}, nil
}

// UpsertServer registers or updates a data server's directory entry.
func (r *Registry) UpsertServer(ctx context.Context, server ServerRecord) error {
	return r.db.WithContext(ctx).Save(&server).Error
}

// GetServer looks up a data server by id.
func (r *Registry) GetServer(ctx context.Context, id uint32) (ServerRecord, error) {
	var record ServerRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ServerRecord{}, ErrServerNotFound
	}
	return record, err
}

// ListServers returns the full server directory.
func (r *Registry) ListServers(ctx context.Context) ([]ServerRecord, error) {
	var records []ServerRecord
	err := r.db.WithContext(ctx).Order("id").Find(&records).Error
	return records, err
}

// MarkServerSeen updates a server's status and last-seen timestamp. No
// component in this module calls it; the peer pool has no liveness check.
func (r *Registry) MarkServerSeen(ctx context.Context, id uint32, status ServerStatus) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&ServerRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "last_seen_at": now, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrServerNotFound
	}
	return nil
}

func encodeServerIDs(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

func decodeServerIDs(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uint32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, err
		}
		ids[i] = uint32(v)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") || // postgres
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}
