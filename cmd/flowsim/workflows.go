package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rendis/flowsim/internal/store"
	"github.com/rendis/flowsim/pkg/schema"
)

func workflowStatus(st schema.WorkflowStatus) string {
	switch st {
	case schema.WorkflowStatusActive:
		return color.GreenString(string(st))
	case schema.WorkflowStatusDraft:
		return color.YellowString(string(st))
	default:
		return color.HiBlackString(string(st))
	}
}

func newWorkflowsCmd(c *cli) *cobra.Command {
	var (
		filter store.WorkflowFilter
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				st, err := schema.ParseWorkflowStatus(status)
				if err != nil {
					return err
				}
				filter.Status = st
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				wfs, err := a.store.ListWorkflows(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, wfs)
				}
				if len(wfs) == 0 {
					fmt.Fprintln(out, "no workflows; run `flowsim seed` or `flowsim import`")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCLIENT\tVERSION\tSTATUS")
				for _, wf := range wfs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", wf.ID, wf.Name, wf.ClientID, wf.Version, workflowStatus(wf.Status))
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.ClientID, "client", "", "only workflows of this client")
	f.StringVar(&status, "status", "", "only workflows in this status (DRAFT, ACTIVE, INACTIVE, ARCHIVED)")
	f.IntVar(&filter.Limit, "limit", 0, "maximum rows (0 = all)")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
