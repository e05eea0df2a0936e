package config

import (
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a Config's struct tags via go-playground/validator and
// applies the cross-field rules tags can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if net.ParseIP(cfg.MDS.Address).To4() == nil {
		return fmt.Errorf("mds.address %q is not a valid IPv4 address", cfg.MDS.Address)
	}

	if cfg.Node.ClusterCoordinationBase == cfg.Node.StorageBase {
		return fmt.Errorf("node.ccc_base and node.spn_base must not collide: both %d", cfg.Node.ClusterCoordinationBase)
	}

	if cfg.Registry.MaxIdleConns > cfg.Registry.MaxOpenConns {
		return fmt.Errorf("registry.max_idle_conns (%d) cannot exceed registry.max_open_conns (%d)",
			cfg.Registry.MaxIdleConns, cfg.Registry.MaxOpenConns)
	}

	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive.enabled is true")
	}

	if cfg.Registry.Type == "sqlite" && cfg.Registry.SQLitePath == "" {
		return fmt.Errorf("registry.sqlite_path is required when registry.type is sqlite")
	}

	return nil
}
