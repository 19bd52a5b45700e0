package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/flowsim/internal/diagram"
	"github.com/rendis/flowsim/pkg/schema"
)

func newDiagramCmd(c *cli) *cobra.Command {
	var executionID, format, output string
	cmd := &cobra.Command{
		Use:   "diagram <workflow-id>",
		Short: "Draw a workflow, optionally overlaid with one execution's path",
		Long: `Draw a workflow as Mermaid, ASCII, PNG or SVG. With --execution the
steps that ran are coloured by status and the transitions taken are marked.

Image formats need --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "mermaid", "ascii":
			case diagram.FormatPNG, diagram.FormatSVG:
				if output == "" {
					return schema.NewErrorf(schema.ErrCodeValidation, "--output is required for %s", format)
				}
			default:
				return schema.NewErrorf(schema.ErrCodeValidation, "unknown format %q (mermaid, ascii, png, svg)", format)
			}

			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				graph, err := a.store.LoadWorkflowWithGraph(ctx, args[0])
				if err != nil {
					return err
				}
				var exec *schema.Execution
				if executionID != "" {
					if exec, err = a.store.LoadExecutionWithLogs(ctx, executionID); err != nil {
						return err
					}
					if exec.WorkflowID != graph.Workflow.ID {
						return schema.NewErrorf(schema.ErrCodeValidation,
							"execution %s belongs to workflow %s", exec.ID, exec.WorkflowID)
					}
				}

				model, err := diagram.Build(graph, exec)
				if err != nil {
					return err
				}

				var data []byte
				switch format {
				case "mermaid":
					data = []byte(diagram.RenderMermaid(model))
				case "ascii":
					data = []byte(diagram.RenderASCII(model))
				default:
					if data, err = diagram.RenderImage(ctx, model, format); err != nil {
						return err
					}
				}

				if output == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&executionID, "execution", "e", "", "overlay this execution")
	f.StringVar(&format, "format", "mermaid", "mermaid, ascii, png or svg")
	f.StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
