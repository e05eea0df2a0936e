// Package config loads and validates the NetRAID server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/netraid/netraid/internal/bytesize"
	"github.com/netraid/netraid/internal/telemetry"
	"github.com/netraid/netraid/pkg/api"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full NetRAID server configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (NETRAID_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// No CLI flag is bound into this layering; --config only selects the file.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Node describes this server's identity and listener ports within the
	// cluster.
	Node NodeConfig `mapstructure:"node" yaml:"node"`

	// Storage configures the on-disk block store.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Cache configures the per-server data-object cache.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// MDS configures the metadata-server collaborator this server consumes.
	MDS MDSConfig `mapstructure:"mds" yaml:"mds"`

	// Registry configures the cluster registry database (FileLayout and
	// server directory persistence).
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`

	// Archive configures the optional cold-archive tier.
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the read-only admin HTTP server configuration.
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Dispatch configures the priority queue drain loop's backoff.
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
}

// NodeConfig identifies this server within the cluster and its listeners.
type NodeConfig struct {
	// ServerID is this node's cluster-wide server id, used to derive its
	// listener ports and to tag blocks it owns on disk.
	ServerID uint32 `mapstructure:"server_id" yaml:"server_id"`

	// ClusterCoordinationBase + ServerID is the cluster-coordination
	// listener port. Default: 20000.
	ClusterCoordinationBase int `mapstructure:"ccc_base" yaml:"ccc_base"`

	// StorageBase + ServerID is the storage listener port. Default: 30000.
	StorageBase int `mapstructure:"spn_base" yaml:"spn_base"`

	// ClientBackchannelPort is the fixed port for the client back-channel
	// listener. Default: 40000.
	ClientBackchannelPort int `mapstructure:"client_backchannel_port" yaml:"client_backchannel_port"`

	// AllowDirectWrite is the switch for the direct-write benchmarking
	// bypass (§9 SP_DIRECT_Write_SU). Off by default. It is parsed but no
	// package reads it, and no server path performs direct writes.
	AllowDirectWrite bool `mapstructure:"allow_direct_write" yaml:"allow_direct_write"`
}

// StorageConfig configures the on-disk block store.
type StorageConfig struct {
	// BaseDir is the base directory for the block store
	// (<base>/serverid_<id>/<inum>/<stripe_id>/<version>).
	BaseDir string `mapstructure:"base_dir" validate:"required" yaml:"base_dir"`

	// Fsync controls whether every block write is flushed before close.
	Fsync bool `mapstructure:"fsync" yaml:"fsync"`

	// GCInterval is the interval between garbage-collector passes.
	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`
}

// CacheConfig configures the per-server data-object cache.
type CacheConfig struct {
	// Size is parsed and defaulted (1GiB), but pkg/cache does not read it:
	// the cache's resident block memory is not bounded by size.
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size"`
}

// MDSConfig configures the metadata-server collaborator.
type MDSConfig struct {
	// Address is the metadata server's IPv4 address.
	Address string `mapstructure:"address" validate:"required" yaml:"address"`

	// OperationTimeout bounds how long a client composite write waits on
	// sub-operation status before abandoning with failure.
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// RegistryConfig configures the cluster registry's database connection.
// Type selects the backend: "postgres" for production clusters, "sqlite"
// for a single-node or local development server.
type RegistryConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=postgres sqlite" yaml:"type"`

	// SQLitePath is the database file path, used only when Type is sqlite.
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path,omitempty"`

	Host     string `mapstructure:"host" validate:"required_if=Type postgres" yaml:"host"`
	Port     int    `mapstructure:"port" validate:"required_if=Type postgres" yaml:"port"`
	Database string `mapstructure:"database" validate:"required_if=Type postgres" yaml:"database"`
	User     string `mapstructure:"user" validate:"required_if=Type postgres" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode  string `mapstructure:"ssl_mode" validate:"oneof=disable require verify-ca verify-full prefer" yaml:"ssl_mode"`

	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	AutoMigrate  bool          `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// ArchiveConfig configures the optional S3 cold-archive tier.
type ArchiveConfig struct {
	// Enabled requires Bucket to be set (see Validate). The block store's
	// prune path does not read this section, so pruned versions are
	// deleted without being archived to S3.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Region   string `mapstructure:"region" yaml:"region"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// DispatchConfig configures the priority-queue drain loop's bounded
// exponential backoff.
type DispatchConfig struct {
	// USleep is the base sleep between empty drain attempts.
	USleep time.Duration `mapstructure:"usleep" yaml:"usleep"`

	// Backoff is the exponential multiplier applied per consecutive
	// empty drain attempt.
	Backoff float64 `mapstructure:"backoff" validate:"omitempty,gt=1" yaml:"backoff"`

	// MaxIter caps the number of backoff steps before resetting to USleep.
	MaxIter int `mapstructure:"max_iter" yaml:"max_iter"`

	// PhaseTimeout sets how often the coordinator watchdog sweeps, and five
	// times it bounds how long a storage-protocol write waits for its
	// commit. The per-phase age at which a coordinator operation is failed
	// is the fixed 2s in pkg/ops, not this value.
	PhaseTimeout time.Duration `mapstructure:"phase_timeout" yaml:"phase_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing and Pyroscope profiling.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// ToTelemetryConfig converts to internal/telemetry's tracer config.
func (t TelemetryConfig) ToTelemetryConfig(serviceName, serviceVersion string) telemetry.Config {
	return telemetry.Config{
		Enabled:        t.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       t.Endpoint,
		Insecure:       t.Insecure,
		SampleRate:     t.SampleRate,
	}
}

// ToProfilingConfig converts to internal/telemetry's profiling config.
func (t TelemetryConfig) ToProfilingConfig(serviceName, serviceVersion string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        t.Profiling.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       t.Profiling.Endpoint,
		ProfileTypes:   t.Profiling.ProfileTypes,
	}
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, returning an actionable error if no
// configuration file exists at the resolved path.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first:\n"+
				"  netraid init\n\n"+
				"or specify a custom config file:\n"+
				"  netraid <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"create it with:\n  netraid init --config %s", configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML with restricted permissions, since
// it may carry the registry database password.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NETRAID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "netraid")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "netraid")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
