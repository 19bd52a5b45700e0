// Command flowsim simulates client workflows against a store and inspects
// the audit trails the runs leave behind.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// cli carries state shared by all commands.
type cli struct {
	v       *viper.Viper
	cfgPath string
	cfg     *Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "flowsim",
		Short: "Simulate client workflows and inspect their audit trails",
		Long: `flowsim walks workflow graphs step by step for a client, evaluating
transition conditions against the run context and recording an audit log
for every step.

Examples:
  # Create the demo clients and workflows
  flowsim seed

  # Run the onboarding workflow for the demo client and watch it
  flowsim simulate client-onboarding client-1 --input '{"documentsComplete": true}' --follow

  # Draw the workflow with the path that run took
  flowsim diagram client-onboarding --execution <execution-id>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := loadConfig(c.v, c.cfgPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", "", "config file (default: ./flowsim.yaml, then ~/.flowsim/flowsim.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("store-driver", driverLibSQL, "store driver: libsql, postgres or memory")
	pf.String("store-dsn", "", "libSQL database path or PostgreSQL URL")
	_ = c.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = c.v.BindPFlag("store.driver", pf.Lookup("store-driver"))
	_ = c.v.BindPFlag("store.dsn", pf.Lookup("store-dsn"))

	root.AddCommand(
		newMigrateCmd(c),
		newSeedCmd(c),
		newImportCmd(c),
		newWorkflowsCmd(c),
		newSimulateCmd(c),
		newExecutionsCmd(c),
		newShowCmd(c),
		newDiagramCmd(c),
		newScheduleCmd(c),
		newMCPCmd(c),
		newVersionCmd(),
	)
	return root
}

// withApp wires an app for the duration of fn. Logs go to the command's
// stderr so stdout stays clean for results.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, c.cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.logger.Warn("shutdown", slog.String("error", cerr.Error()))
		}
	}()
	return fn(ctx, a)
}
