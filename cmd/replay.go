package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/frameguard/internal/actuator"
	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/filter"
	"firestige.xyz/frameguard/internal/pipeline"
	"firestige.xyz/frameguard/internal/source"
)

type replayOptions struct {
	input   string
	output  string
	filter  string
	verbose bool
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Classify every frame of a pcap file",
	Long: `Run the configured rule table over a pcap file and print a verdict summary.

With --output, frames are written to <dir>/redirect.pcap and <dir>/drop.pcap
by verdict. With --filter, only frames matching the tcpdump expression are
classified. With --verbose, every decision is printed.`,
	Example: `  frameguard replay -r capture.pcap
  frameguard replay -c rules.yml -r capture.pcap -o out/ -v
  frameguard replay -r capture.pcap --filter "not port 22"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadTable(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, table, replayOpts, cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.input, "read", "r", "", "pcap file to read")
	replayCmd.Flags().StringVarP(&replayOpts.output, "output", "o", "", "directory for per-verdict pcap files")
	replayCmd.Flags().StringVarP(&replayOpts.filter, "filter", "f", "", "tcpdump expression selecting the frames to classify")
	replayCmd.Flags().BoolVarP(&replayOpts.verbose, "verbose", "v", false, "print every decision")
	_ = replayCmd.MarkFlagRequired("read")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, table *classifier.Table, opts replayOptions, out io.Writer) error {
	file, err := source.NewPcapFile(opts.input)
	if err != nil {
		return err
	}
	var src source.Source = file
	var filtered *source.Filtered
	if opts.filter != "" {
		m, err := filter.NewMatcher(opts.filter, 65535)
		if err != nil {
			return err
		}
		filtered = source.NewFiltered(file, m.Match)
		src = filtered
	}

	var act actuator.Actuator = actuator.Discard{}
	if opts.output != "" {
		if err := os.MkdirAll(opts.output, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		rec, err := actuator.NewRecorder(opts.output)
		if err != nil {
			return err
		}
		defer rec.Close()
		act = rec
	}

	hits := make([]uint64, table.Len())
	var n int
	observe := func(pkt core.RawPacket, d classifier.Decision) {
		n++
		if d.Reason == classifier.ReasonMatched {
			hits[d.Rule]++
		}
		if opts.verbose {
			fmt.Fprintf(out, "%6d %s %5d  %s\n", n, pkt.Timestamp.Format(time.RFC3339Nano), len(pkt.Data), d)
		}
	}

	p, err := pipeline.NewBuilder().
		WithSource(src).
		WithClassifier(classifier.New(table)).
		WithActuator(act).
		WithObserver(observe).
		Build()
	if err != nil {
		return err
	}
	if err := p.Run(ctx); err != nil {
		return err
	}

	if filtered != nil {
		fmt.Fprintf(out, "filtered   %d\n", filtered.Skipped())
	}
	printReplaySummary(out, table, p.Stats(), hits)
	return nil
}

func printReplaySummary(out io.Writer, table *classifier.Table, s pipeline.Stats, hits []uint64) {
	fmt.Fprintf(out, "frames     %d\n", s.Received)
	fmt.Fprintf(out, "pass       %d\n", s.Pass)
	fmt.Fprintf(out, "redirect   %d\n", s.Redirect)
	fmt.Fprintf(out, "drop       %d\n", s.Drop)
	fmt.Fprintf(out, "truncated  %d\n", s.Truncated)
	if s.ActuateErrors > 0 {
		fmt.Fprintf(out, "errors     %d\n", s.ActuateErrors)
	}
	if table.Len() == 0 {
		return
	}
	fmt.Fprintln(out, "rule hits:")
	for i, r := range table.Rules() {
		fmt.Fprintf(out, "  %3d  %-40s %d\n", i, r, hits[i])
	}
}
