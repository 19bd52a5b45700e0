package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/flowsim/internal/engine"
	"github.com/rendis/flowsim/internal/store"
	"github.com/rendis/flowsim/pkg/schema"
)

func newExecutionsCmd(c *cli) *cobra.Command {
	var (
		filter store.ExecutionFilter
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				st, err := schema.ParseExecutionStatus(status)
				if err != nil {
					return err
				}
				filter.Status = &st
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				execs, err := a.store.ListExecutions(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, execs)
				}
				if len(execs) == 0 {
					fmt.Fprintln(out, "no executions")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tWORKFLOW\tCLIENT\tSTATUS\tSTARTED\tDURATION")
				for _, e := range execs {
					dur := "-"
					if e.CompletedAt != nil {
						dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.WorkflowID, e.ClientID,
						statusString(string(e.Status)), e.StartedAt.Local().Format(time.DateTime), dur)
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.WorkflowID, "workflow", "", "only executions of this workflow")
	f.StringVar(&filter.ClientID, "client", "", "only executions for this client")
	f.StringVar(&status, "status", "", "only executions in this status (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED)")
	f.IntVar(&filter.Limit, "limit", 20, "maximum rows (0 = all)")
	f.IntVar(&filter.Offset, "offset", 0, "rows to skip")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newShowCmd(c *cli) *cobra.Command {
	var asJSON, withContext bool
	cmd := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show an execution with its step logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				exec, err := a.store.LoadExecutionWithLogs(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					if withContext {
						return printJSON(out, map[string]any{"execution": exec, "context": engine.ReplayContext(exec)})
					}
					return printJSON(out, exec)
				}

				names, err := stepNames(ctx, a, exec.WorkflowID)
				if err != nil {
					return err
				}
				printExecution(out, exec, names)
				if withContext {
					fmt.Fprintln(out, "\nFinal context:")
					return printJSON(out, engine.ReplayContext(exec))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&withContext, "context", false, "also print the run context rebuilt from the logs")
	return cmd
}
