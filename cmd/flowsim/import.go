package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newImportCmd(c *cli) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate and store a workflow definition (YAML or JSON)",
		Long: `Validate a workflow definition and store its client, workflow, steps
and transitions. Pass "-" to read the document from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readDocument(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if dryRun {
					_, result, err := a.validator.Parse(data)
					if err != nil {
						return err
					}
					printIssues(out, result.Warnings)
					fmt.Fprintf(out, "%s definition is valid\n", color.GreenString("✓"))
					return nil
				}

				res, err := a.importer().ImportDocument(ctx, data)
				if err != nil {
					return err
				}
				printIssues(out, res.Warnings)
				fmt.Fprintf(out, "%s imported workflow %s (%s)\n", color.GreenString("✓"), res.Workflow.ID, res.Workflow.Name)
				if res.Client != nil {
					fmt.Fprintf(out, "  client %s (%s)\n", res.Client.ID, res.Client.Name)
				}
				fmt.Fprintf(out, "  %d steps\n", len(res.StepIDs))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only; store nothing")
	return cmd
}

func readDocument(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
