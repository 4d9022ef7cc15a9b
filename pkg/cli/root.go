// Package cli implements the smartbi command-line interface.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if resolveOutput(rootCmd, os.Stdout) == "json" {
			_ = PrintJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		output  string
		noColor bool
	)

	rootCmd := &cobra.Command{
		Use:           "smartbi",
		Short:         "Semantic query compiler",
		Long:          "Resolves extracted query features against a semantic catalog and compiles governed SQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("SMARTBI_OUTPUT"); v != "" {
					output = v
				}
			}
			return validateOutputFormat(output)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (table, json); defaults to table on a terminal")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}

// resolveOutput returns the effective output format for w: the flag, then
// SMARTBI_OUTPUT, then table on a terminal and JSON otherwise.
func resolveOutput(cmd *cobra.Command, w io.Writer) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	if v == "" {
		v = os.Getenv("SMARTBI_OUTPUT")
	}
	if v != "" {
		return v
	}
	if isTerminal(w) {
		return "table"
	}
	return "json"
}

// useColor reports whether ANSI colors should be written to w.
func useColor(cmd *cobra.Command, w io.Writer) bool {
	if off, _ := cmd.Root().PersistentFlags().GetBool("no-color"); off {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isTerminal(w)
}
