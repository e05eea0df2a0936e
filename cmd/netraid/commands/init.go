package commands

import (
	"fmt"
	"os"

	"github.com/netraid/netraid/pkg/config"
	"github.com/spf13/cobra"
)

var (
	initForce    bool
	initServerID uint32
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample NetRAID node configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/netraid/config.yaml. Use --config to specify a custom path.

Examples:
  # Initialize node 0 at the default location
  netraid init --server-id 0

  # Initialize with a custom path
  netraid init --server-id 1 --config /etc/netraid/node1.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().Uint32Var(&initServerID, "server-id", 0, "This node's cluster-wide server id")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	var cfg config.Config
	cfg.Node.ServerID = initServerID
	config.ApplyDefaults(&cfg)

	if err := config.SaveConfig(&cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to set this node's registry and MDS connection details")
	fmt.Printf("  2. Start the node with: netraid start --config %s\n", configPath)

	return nil
}
