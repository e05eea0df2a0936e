package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/netraid/netraid/internal/bytesize"
	"github.com/netraid/netraid/pkg/api"
)

// ApplyDefaults fills in zero-valued fields with sensible defaults after a
// config file and environment variables have been merged in.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyNodeDefaults(&cfg.Node)
	applyStorageDefaults(&cfg.Storage)
	applyCacheDefaults(&cfg.Cache)
	applyMDSDefaults(&cfg.MDS)
	applyRegistryDefaults(&cfg.Registry)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
	applyDispatchDefaults(&cfg.Dispatch)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

func applyNodeDefaults(cfg *NodeConfig) {
	if cfg.ClusterCoordinationBase == 0 {
		cfg.ClusterCoordinationBase = 20000
	}
	if cfg.StorageBase == 0 {
		cfg.StorageBase = 30000
	}
	if cfg.ClientBackchannelPort == 0 {
		cfg.ClientBackchannelPort = 40000
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.GCInterval == 0 {
		cfg.GCInterval = 5 * time.Second
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Size == 0 {
		cfg.Size = bytesize.GiB
	}
}

func applyMDSDefaults(cfg *MDSConfig) {
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
}

func applyRegistryDefaults(cfg *RegistryConfig) {
	if cfg.Type == "" {
		cfg.Type = "postgres"
	}
	if cfg.Type == "sqlite" && cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(getConfigDir(), "registry.db")
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "prefer"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 3
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Enabled == nil {
		enabled := true
		cfg.Enabled = &enabled
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyDispatchDefaults(cfg *DispatchConfig) {
	if cfg.USleep == 0 {
		cfg.USleep = 10 * time.Millisecond
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 2.0
	}
	if cfg.MaxIter == 0 {
		cfg.MaxIter = 6
	}
	if cfg.PhaseTimeout == 0 {
		cfg.PhaseTimeout = 2 * time.Second
	}
}

// GetDefaultConfig returns a Config with all defaults applied, usable
// directly when no configuration file is present.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Storage: StorageConfig{BaseDir: "/var/lib/netraid/blocks"},
		MDS:     MDSConfig{Address: "127.0.0.1"},
		Registry: RegistryConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "netraid",
			User:     "netraid",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
