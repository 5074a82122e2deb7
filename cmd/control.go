package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/frameguard/internal/daemon"
)

var (
	useSignal   bool
	stopTimeout time.Duration
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the rule table of the running daemon",
	Long: `Ask the daemon to re-read its config file. The new table is validated and
compiled before anything is swapped; an invalid table is rejected, reported
here, and the active one stays.

With --signal, SIGHUP is sent to the process in the PID file instead and the
outcome is only visible in the daemon log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if useSignal {
			pid, err := daemon.SignalReload(daemonPIDFile())
			if err != nil {
				return fmt.Errorf("failed to reload: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Reload signal sent to pid %d\n", pid)
			return nil
		}
		return runReload(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Ask the daemon to shut down gracefully: pipelines stop, XDP programs are
detached and the PID file and control socket are removed.

With --signal, SIGTERM is sent to the process in the PID file and the command
waits up to --timeout for it to exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if useSignal {
			pid, err := daemon.StopDaemon(daemonPIDFile(), stopTimeout)
			if err != nil {
				return fmt.Errorf("failed to stop: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Daemon pid %d stopped\n", pid)
			return nil
		}
		return runStop(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runStatus(cmd.Context(), GetClient(), cmd.OutOrStdout())
		if err != nil {
			// The process may be alive with its control socket disabled.
			if pid, perr := daemon.Running(daemonPIDFile()); perr == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "process %d is running but its control socket is not reachable\n", pid)
			}
		}
		return err
	},
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Show the rule table the daemon is enforcing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTable(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

func init() {
	reloadCmd.Flags().BoolVar(&useSignal, "signal", false, "send SIGHUP via the PID file instead of using the control socket")
	stopCmd.Flags().BoolVar(&useSignal, "signal", false, "send SIGTERM via the PID file instead of using the control socket")
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 10*time.Second, "time to wait for the process to exit (with --signal)")
	rootCmd.AddCommand(reloadCmd, stopCmd, statusCmd, tableCmd)
}

func runReload(ctx context.Context, c DaemonClient, out io.Writer) error {
	res, err := c.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintf(out, "✓ Rule table reloaded: generation %d, %d rule(s)\n", res.Generation, res.Rules)
	return nil
}

func runStop(ctx context.Context, c DaemonClient, out io.Writer) error {
	if err := c.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintln(out, "✓ Shutdown requested")
	return nil
}

func runStatus(ctx context.Context, c DaemonClient, out io.Writer) error {
	s, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	fmt.Fprintf(out, "running (pid %d, version %s)\n", s.PID, s.Version)
	fmt.Fprintf(out, "  uptime:     %s\n", (time.Duration(s.UptimeSec) * time.Second).String())
	fmt.Fprintf(out, "  mode:       %s\n", s.Mode)
	fmt.Fprintf(out, "  interfaces: %v\n", s.Interfaces)
	fmt.Fprintf(out, "  table:      generation %d, %d rule(s)\n", s.Generation, s.Rules)
	return nil
}

func runTable(ctx context.Context, c DaemonClient, out io.Writer) error {
	t, err := c.Table(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch table: %w", err)
	}
	fmt.Fprintf(out, "generation %d\n", t.Generation)
	for i, r := range t.Rules {
		fmt.Fprintf(out, "  %3d  %s\n", i, r)
	}
	fmt.Fprintf(out, "unmatched -> %s, truncated -> %s, ipv4 options %t\n", t.Unmatched, t.Truncated, t.IPv4Options)
	return nil
}
