package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/internal/telemetry"
	"github.com/netraid/netraid/pkg/api"
	"github.com/netraid/netraid/pkg/blockstore/fs"
	"github.com/netraid/netraid/pkg/cache"
	"github.com/netraid/netraid/pkg/config"
	"github.com/netraid/netraid/pkg/metrics"
	"github.com/netraid/netraid/pkg/registry"
	"github.com/netraid/netraid/pkg/server"

	// Registers this node's Prometheus collectors via their init()
	// functions.
	_ "github.com/netraid/netraid/pkg/metrics/prometheus"
)

const dispatchPoolSize = 16 // BASE_THREADNUMBER*2 equivalent (§4.H)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this NetRAID node",
	Long: `Start this NetRAID cluster node in the foreground: its block store,
data-object cache, cluster-coordination listener, dispatch pool, maintenance
tickers, and read-only admin HTTP server.

Examples:
  # Start with the default config location
  netraid start

  # Start with a custom config file
  netraid start --config /etc/netraid/node1.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.ToTelemetryConfig("netraid", Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry(nil)
		logger.Info("metrics enabled")
	} else {
		logger.Info("metrics disabled")
	}

	reg, err := registry.New(cfg.Registry)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("registry close error", "error", err)
		}
	}()

	store, err := fs.New(cfg.Storage.BaseDir, cfg.Node.ServerID, fs.WithFsync(cfg.Storage.Fsync))
	if err != nil {
		return fmt.Errorf("failed to initialize block store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("block store close error", "error", err)
		}
	}()

	cc := cache.New(store, nil)
	defer func() {
		if err := cc.Close(); err != nil {
			logger.Error("cache close error", "error", err)
		}
	}()

	mgr := server.NewManager(*cfg, store, cc, reg)
	if err := mgr.Start(dispatchPoolSize); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer mgr.Stop()

	logger.Info("node started",
		"server_id", cfg.Node.ServerID,
		"ccc_port", cfg.Node.ClusterCoordinationBase+int(cfg.Node.ServerID),
		"spn_port", cfg.Node.StorageBase+int(cfg.Node.ServerID))

	var apiServer *api.Server
	apiDone := make(chan error, 1)
	if cfg.API.IsEnabled() {
		apiServer = api.NewServer(cfg.API, reg, redactedSnapshot(cfg))
		go func() { apiDone <- apiServer.Start(ctx) }()
		logger.Info("admin API enabled", "port", apiServer.Port())
	} else {
		logger.Info("admin API disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("node is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, stopping node")
		cancel()
		if apiServer != nil {
			<-apiDone
		}
	case err := <-apiDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("admin API stopped with error", "error", err)
			return err
		}
	}

	logger.Info("node stopped")
	return nil
}

// redactedSnapshot copies cfg with secrets cleared, for the admin API's
// /config endpoint.
func redactedSnapshot(cfg *config.Config) any {
	snapshot := *cfg
	snapshot.Registry.Password = ""
	return snapshot
}
