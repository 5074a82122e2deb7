// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/config"
	"firestige.xyz/frameguard/internal/daemon"
)

const (
	defaultConfigFile = "/etc/frameguard/config.yml"
	defaultPIDFile    = "/var/run/frameguard.pid"
)

var (
	// Global flags
	configFile string
	pidFile    string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "frameguard",
	Short: "frameguard - per-frame ingress classifier",
	Long: `frameguard classifies every ingress frame against an ordered rule table of
(ether type, IP protocol) pairs and returns pass, redirect or drop.

The table runs in userspace on an AF_PACKET ring, optionally narrowed by a
compiled socket prefilter, or in the kernel as a generated XDP program.
Frames with unreadable headers fail open unless configured otherwise.`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile,
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: pid_file from the config)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"control socket path (default: control.socket from the config)")
}

// loadTable builds the configured rule table. Without an explicit --config
// and no file at the default location, the built-in table is used.
func loadTable(cmd *cobra.Command) (*classifier.Table, error) {
	if f := cmd.Flag("config"); f == nil || !f.Changed {
		if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
			return classifier.DefaultTable(), nil
		}
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return cfg.Rules.BuildTable()
}

// daemonPIDFile resolves the PID file of the daemon to control.
func daemonPIDFile() string {
	if pidFile != "" {
		return pidFile
	}
	if cfg, err := config.Load(configFile); err == nil && cfg.PIDFile != "" {
		return cfg.PIDFile
	}
	return defaultPIDFile
}
