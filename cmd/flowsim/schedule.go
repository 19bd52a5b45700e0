package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rendis/flowsim/internal/scheduler"
	"github.com/rendis/flowsim/pkg/schema"
)

func newScheduleCmd(c *cli) *cobra.Command {
	var (
		list   bool
		runNow string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the simulations listed under schedules in the config file",
		Long: `Start every configured schedule and run until interrupted. Each
schedule names a cron expression, a workflow, a client and optional input:

  schedules:
    - name: nightly-onboarding
      cron: "0 2 * * *"
      workflow_id: client-onboarding
      client_id: client-1
      input: {documentsComplete: true, approved: true}

A schedule whose previous run has not finished skips that slot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(c.cfg.Schedules) == 0 {
				return schema.NewError(schema.ErrCodeValidation, "no schedules configured").
					WithDetails(map[string]any{"key": "schedules"})
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sched, err := scheduler.New(a.runner, a.cfg.Schedules, scheduler.WithLogger(a.logger))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				switch {
				case list:
					printSchedules(out, sched.Status())
					return nil
				case runNow != "":
					exec, err := sched.RunNow(ctx, runNow)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s %s  %s\n", color.CyanString(runNow), exec.ID, statusString(string(exec.Status)))
					return nil
				}

				if err := sched.Start(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %d schedules running; Ctrl-C to stop\n", color.GreenString("✓"), len(a.cfg.Schedules))
				<-ctx.Done()
				if err := sched.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(out)
				printSchedules(out, sched.Status())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print schedules and their next run, then exit")
	cmd.Flags().StringVar(&runNow, "run", "", "run the named schedule once and exit")
	cmd.MarkFlagsMutuallyExclusive("list", "run")
	return cmd
}

func printSchedules(w io.Writer, statuses []scheduler.JobStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCRON\tNEXT RUN\tRUNS\tSKIPPED\tLAST")
	for _, st := range statuses {
		last := "-"
		if !st.LastRunAt.IsZero() {
			last = fmt.Sprintf("%s %s", st.LastRunAt.Local().Format(time.DateTime), statusString(st.LastStatus))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", st.Name, st.Cron,
			st.NextRunAt.Local().Format(time.DateTime), st.Runs, st.Skipped, last)
	}
	_ = tw.Flush()
}
