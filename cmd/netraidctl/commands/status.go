package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/netraid/netraid/internal/cli/output"
	"github.com/netraid/netraid/pkg/api"
	"github.com/netraid/netraid/pkg/api/handlers"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a node's liveness and server directory",
	Long: `Query a node's /healthz and /status admin endpoints and display its
liveness and the cluster server directory as it knows it.

Examples:
  netraidctl status --server http://node0:8080
  netraidctl status --server http://node0:8080 -o json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}

	var envelope api.Response
	alive := true
	resp, err := client.Get(serverURL + "/healthz")
	if err != nil {
		alive = false
	} else {
		defer func() { _ = resp.Body.Close() }()
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			alive = false
		}
	}

	var serverDirectory handlers.StatusResponse
	if alive {
		resp, err := client.Get(serverURL + "/status")
		if err == nil {
			defer func() { _ = resp.Body.Close() }()
			var statusEnvelope api.Response
			if err := json.NewDecoder(resp.Body).Decode(&statusEnvelope); err == nil && statusEnvelope.Data != nil {
				remarshal(statusEnvelope.Data, &serverDirectory)
			}
		}
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), serverDirectory)
	case output.FormatYAML:
		return output.PrintYAML(cmd.OutOrStdout(), serverDirectory)
	default:
		printStatusTable(alive, serverDirectory)
	}
	return nil
}

// remarshal round-trips v through JSON into out, since api.Response.Data
// decodes into an interface{} (a map[string]any) that needs a second pass
// to land in a concrete struct.
func remarshal(v any, out any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, out)
}

func printStatusTable(alive bool, dir handlers.StatusResponse) {
	fmt.Println()
	fmt.Println("NetRAID Node Status")
	fmt.Println("===================")
	fmt.Println()
	if alive {
		fmt.Printf("  Server:     %s\n", serverURL)
		fmt.Println("  Status:     \033[32m● up\033[0m")
	} else {
		fmt.Printf("  Server:     %s\n", serverURL)
		fmt.Println("  Status:     \033[31m○ unreachable\033[0m")
		fmt.Println()
		return
	}
	fmt.Println()

	table := output.NewTableData("ID", "ADDRESS", "CCC PORT", "SPN PORT", "STATUS", "LAST SEEN")
	for _, s := range dir.Servers {
		lastSeen := s.LastSeen
		if lastSeen == "" {
			lastSeen = "-"
		}
		table.AddRow(
			fmt.Sprintf("%d", s.ID),
			s.Address,
			fmt.Sprintf("%d", s.CCCPort),
			fmt.Sprintf("%d", s.SPNPort),
			s.Status,
			lastSeen,
		)
	}
	_ = output.PrintTable(os.Stdout, table)
	fmt.Println()
}
