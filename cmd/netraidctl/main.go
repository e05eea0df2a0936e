// Command netraidctl queries a NetRAID node's read-only admin HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/netraid/netraid/cmd/netraidctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
