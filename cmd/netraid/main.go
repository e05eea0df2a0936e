// Command netraid runs one NetRAID cluster storage node.
package main

import (
	"fmt"
	"os"

	"github.com/netraid/netraid/cmd/netraid/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
