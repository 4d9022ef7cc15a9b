package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smartbi/internal/declarative"
)

func newCatalogCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate semantic layer files",
	}
	cmd.PersistentFlags().StringVar(&catalogPath, "catalog", defaultCatalogPath(), "Path to the semantic layer YAML (env CATALOG_PATH)")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Print the entities, datasets and governance of a catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := declarative.LoadCatalogFile(catalogPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resolveOutput(cmd, out) == "json" {
				return declarative.FormatCatalogJSON(out, cat)
			}
			declarative.FormatCatalogText(out, cat, !useColor(cmd, out))
			return nil
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check a catalog file for errors",
		Long:  "Reads the catalog YAML and reports every problem found, without compiling any query.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := declarative.LoadDocumentFile(catalogPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			asJSON := resolveOutput(cmd, out) == "json"

			issues := declarative.Validate(doc)
			if len(issues) == 0 {
				if _, err := declarative.BuildCatalog(doc); err != nil {
					issues = append(issues, declarative.ValidationError{Message: err.Error()})
				}
			}

			if len(issues) > 0 {
				if asJSON {
					msgs := make([]string, len(issues))
					for i, e := range issues {
						msgs[i] = e.Error()
					}
					if err := PrintJSON(out, map[string]any{"valid": false, "errors": msgs}); err != nil {
						return err
					}
				} else {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Catalog has %d validation error(s):\n", len(issues))
					declarative.FormatIssues(cmd.ErrOrStderr(), issues, !useColor(cmd, cmd.ErrOrStderr()))
				}
				return fmt.Errorf("%s: %d validation error(s)", catalogPath, len(issues))
			}

			if asJSON {
				return PrintJSON(out, map[string]any{"valid": true})
			}
			_, _ = fmt.Fprintf(out, "%s is valid.\n", catalogPath)
			return nil
		},
	}

	cmd.AddCommand(inspect, validate)
	return cmd
}
