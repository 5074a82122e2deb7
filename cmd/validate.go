package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/frameguard/internal/config"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file, including every rule of the table,
without starting the daemon. With --dump the effective rules section is
printed as YAML.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validateDump, cmd.OutOrStdout())
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "print the effective rules as YAML")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string, dump bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	table, err := cfg.Rules.BuildTable()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(out, "✓ %s is valid: %d rule(s), unmatched -> %s, truncated -> %s, mode %s\n",
		path, table.Len(), table.Policy().Unmatched, table.Policy().Truncated, cfg.Hook.Mode)
	if !dump {
		return nil
	}

	rules := config.RulesFromTable(table)
	rules.Watch = cfg.Rules.Watch
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(struct {
		Rules config.RulesConfig `yaml:"rules"`
	}{rules})
}
