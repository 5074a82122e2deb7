package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/frameguard/internal/classifier"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <hex>...",
	Short: "Classify a single frame given as hex",
	Long: `Classify one frame against the configured rule table and print the decision.

The frame is read from the arguments as hex. Whitespace, colons and a
leading 0x are ignored, so output copied from tcpdump -xx or wireshark
can be pasted directly.

With --live the frame is classified by the running daemon's table.`,
	Example: `  frameguard classify ffffffffffff 000000000000 0800 4500...`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := strings.Join(args, "")
		if classifyLive {
			return runClassifyLive(cmd.Context(), GetClient(), input, cmd.OutOrStdout())
		}
		table, err := loadTable(cmd)
		if err != nil {
			return err
		}
		return runClassify(table, input, cmd.OutOrStdout())
	},
}

var classifyLive bool

func init() {
	classifyCmd.Flags().BoolVar(&classifyLive, "live", false, "classify against the running daemon")
	rootCmd.AddCommand(classifyCmd)
}

func parseHexFrame(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	frame, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return frame, nil
}

func runClassify(table *classifier.Table, input string, out io.Writer) error {
	frame, err := parseHexFrame(input)
	if err != nil {
		return err
	}
	d := table.Explain(frame)
	fmt.Fprintf(out, "frame:    %d bytes\n", len(frame))
	fmt.Fprintf(out, "decision: %s\n", d)
	if d.Rule >= 0 {
		fmt.Fprintf(out, "rule:     %s\n", table.Rules()[d.Rule])
	}
	return nil
}

func runClassifyLive(ctx context.Context, c DaemonClient, input string, out io.Writer) error {
	frame, err := parseHexFrame(input)
	if err != nil {
		return err
	}
	res, err := c.Classify(ctx, frame)
	if err != nil {
		return fmt.Errorf("failed to classify: %w", err)
	}
	fmt.Fprintf(out, "frame:    %d bytes\n", len(frame))
	if res.Rule < 0 {
		fmt.Fprintf(out, "decision: %s (%s)\n", res.Verdict, res.Reason)
	} else {
		fmt.Fprintf(out, "decision: %s (%s, rule %d)\n", res.Verdict, res.Reason, res.Rule)
		fmt.Fprintf(out, "rule:     %s\n", res.RuleText)
	}
	fmt.Fprintf(out, "table:    generation %d\n", res.Generation)
	return nil
}
