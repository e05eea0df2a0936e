package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
logging:
  level: "INFO"

storage:
  base_dir: "` + filepath.ToSlash(tmpDir) + `/blocks"

mds:
  address: "127.0.0.1"

registry:
  host: "localhost"
  port: 5432
  database: "netraid"
  user: "netraid"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected default format text, got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Node.ClusterCoordinationBase != 20000 {
		t.Errorf("expected default ccc_base 20000, got %d", cfg.Node.ClusterCoordinationBase)
	}
	if cfg.Node.StorageBase != 30000 {
		t.Errorf("expected default spn_base 30000, got %d", cfg.Node.StorageBase)
	}
	if cfg.Node.ClientBackchannelPort != 40000 {
		t.Errorf("expected default client_backchannel_port 40000, got %d", cfg.Node.ClientBackchannelPort)
	}
	if cfg.Storage.GCInterval != 5*time.Second {
		t.Errorf("expected default gc_interval 5s, got %v", cfg.Storage.GCInterval)
	}
}

func TestLoadMissingConfigFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing config, got %v", err)
	}
	if cfg.Storage.BaseDir == "" {
		t.Error("expected default storage base_dir to be set")
	}
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Node.ServerID = 3
	cfg.MDS.Address = "10.0.0.5"

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if reloaded.Node.ServerID != 3 {
		t.Errorf("expected server_id 3, got %d", reloaded.Node.ServerID)
	}
	if reloaded.MDS.Address != "10.0.0.5" {
		t.Errorf("expected mds address 10.0.0.5, got %q", reloaded.MDS.Address)
	}
}

func TestCacheSizeAcceptsHumanReadableStrings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
storage:
  base_dir: "` + filepath.ToSlash(tmpDir) + `"
mds:
  address: "127.0.0.1"
registry:
  host: "localhost"
  port: 5432
  database: "netraid"
  user: "netraid"
cache:
  size: "512Mi"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Cache.Size.Uint64() != 512*1024*1024 {
		t.Errorf("expected cache size 512MiB, got %d", cfg.Cache.Size.Uint64())
	}
}
