package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/net/bpf"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/filter"
	"firestige.xyz/frameguard/internal/xdp"
)

const (
	targetCBPF = "cbpf"
	targetXDP  = "xdp"
)

var (
	compileTarget  string
	compileSnapLen uint32
	compileRaw     bool
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Print the program generated from the rule table",
	Long: `Compile the configured rule table and print the result.

  --target cbpf  socket prefilter in tcpdump -d style (-d raw for tcpdump -dd)
  --target xdp   XDP program as eBPF assembly`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadTable(cmd)
		if err != nil {
			return err
		}
		return runCompile(table, compileTarget, compileSnapLen, compileRaw, cmd.OutOrStdout())
	},
}

func init() {
	compileCmd.Flags().StringVarP(&compileTarget, "target", "t", targetCBPF, "cbpf or xdp")
	compileCmd.Flags().Uint32Var(&compileSnapLen, "snaplen", 0, "bytes kept per accepted frame (cbpf only, 0 = default)")
	compileCmd.Flags().BoolVar(&compileRaw, "raw", false, "print assembled cbpf instructions")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(table *classifier.Table, target string, snapLen uint32, raw bool, out io.Writer) error {
	switch target {
	case targetCBPF:
		insns, err := filter.Compile(table, snapLen)
		if err != nil {
			return err
		}
		insns = filter.IngressOnly(insns)
		if !raw {
			fmt.Fprint(out, filter.Disassemble(insns))
			return nil
		}
		assembled, err := bpf.Assemble(insns)
		if err != nil {
			return err
		}
		for _, ins := range assembled {
			fmt.Fprintf(out, "{ 0x%02x, %d, %d, 0x%08x },\n", ins.Op, ins.Jt, ins.Jf, ins.K)
		}
		return nil
	case targetXDP:
		insns, err := xdp.Instructions(table)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%v", insns)
		return nil
	default:
		return fmt.Errorf("unknown target %q (want %s or %s)", target, targetCBPF, targetXDP)
	}
}
