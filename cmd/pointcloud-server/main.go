// pointcloud-server serves a fixed PCD point cloud as JSON coordinate
// triples over HTTP, and optionally over a ZeroMQ REP socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

// rootCmd is the top-level cobra command for pointcloud-server.
var rootCmd = &cobra.Command{
	Use:           "pointcloud-server",
	Short:         "Serve a PCD point cloud as JSON coordinates",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
