// Asicscan is a network scanner and fleet monitor for ASIC miners.
//
// It sweeps IPv4 ranges for hosts speaking the CGMiner-style JSON API,
// identifies each miner (model, hashrate, temperatures, fans, pools),
// and keeps a live view of the fleet: an interactive dashboard, a
// telemetry HTTP/WebSocket feed, CSV exports, and per-miner controls
// (pause, resume, fault light).
//
// Usage:
//
//	asicscan [command] [flags]
//
// Running without arguments launches the interactive dashboard over the
// configured range. See 'asicscan --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hashplane/asicscan/internal/logging"
	"github.com/hashplane/asicscan/internal/version"
)

func main() {
	logging.InitializeFromEnv()
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "asicscan",
	Short: "ASIC miner network scanner and fleet monitor",
	Long: `Scan IPv4 ranges for ASIC miners and monitor them live.

Miners are found by probing the CGMiner-style API port and identified
over it; discovered devices are tracked in a live registry with rolling
metric history. The dashboard, the telemetry server and the CSV exports
all read from that registry.

If no command is specified, the interactive dashboard launches over the
configured range.`,
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd, args)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("asicscan %s (commit: %s)\n", version.Version, version.Commit)
	},
}
