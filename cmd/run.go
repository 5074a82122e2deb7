package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/frameguard/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the frameguard daemon in the foreground",
	Long: `Run the frameguard daemon in the foreground.

The daemon will:
  1. Load configuration from the config file
  2. Initialize logging and metrics
  3. Build the rule table
  4. Start AF_PACKET pipelines or attach the XDP program per interface
  5. Reload the table on SIGHUP (and on file change with rules.watch)
  6. Shut down gracefully on SIGTERM or SIGINT`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
