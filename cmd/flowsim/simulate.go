package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/flowsim/internal/engine"
	"github.com/rendis/flowsim/internal/streaming"
	"github.com/rendis/flowsim/pkg/schema"
)

type simulateOptions struct {
	input     string
	inputFile string
	follow    bool
	asJSON    bool
	runs      int
}

func newSimulateCmd(c *cli) *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate <workflow-id> <client-id>",
		Short: "Run a workflow for a client and print its audit trail",
		Long: `Walk a workflow step by step for a client. Input data seeds the run
context that transition conditions are evaluated against.

A run whose step fails exits non-zero after printing the trail.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.runs < 1 {
				return schema.NewError(schema.ErrCodeValidation, "--runs must be at least 1")
			}
			if opts.runs > 1 && opts.follow {
				return schema.NewError(schema.ErrCodeValidation, "--follow cannot be combined with --runs")
			}
			input, err := parseInput(opts.input, opts.inputFile)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				wf, err := a.store.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.validator.Schema().ValidateWorkflowInput(wf, input); err != nil {
					return err
				}
				if opts.runs > 1 {
					return simulateMany(ctx, a, cmd.OutOrStdout(), args[0], args[1], input, opts)
				}
				return simulateOnce(ctx, a, cmd.OutOrStdout(), args[0], args[1], input, opts)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.input, "input", "", "input data as a JSON object")
	f.StringVar(&opts.inputFile, "input-file", "", "read input data from a JSON file")
	f.BoolVarP(&opts.follow, "follow", "f", false, "print events while the run progresses")
	f.BoolVar(&opts.asJSON, "json", false, "print the execution as JSON")
	f.IntVar(&opts.runs, "runs", 1, "number of identical runs to start")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
	return cmd
}

// parseInput decodes --input or --input-file. Neither yields nil.
func parseInput(raw, file string) (map[string]any, error) {
	data := []byte(raw)
	if file != "" {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return nil, err
		}
	}
	if len(data) == 0 {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "input must be a JSON object").WithCause(err)
	}
	return input, nil
}

func simulateOnce(ctx context.Context, a *app, out io.Writer, workflowID, clientID string, input map[string]any, opts simulateOptions) error {
	stopFollow := func() {}
	if opts.follow {
		id := uuid.NewString()
		ctx = engine.WithExecutionID(ctx, id)
		events, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{ExecutionID: id})
		if err != nil {
			return err
		}
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				printEvent(out, ev)
			}
		}()
		stopFollow = sync.OnceFunc(func() {
			cancel()
			wg.Wait()
		})
		defer stopFollow()
	}

	exec, err := a.runner.Simulate(ctx, workflowID, clientID, input)
	if err != nil {
		return err
	}

	if opts.follow {
		// Drain the follower before printing the trail.
		stopFollow()
		fmt.Fprintln(out)
	}

	if opts.asJSON {
		if err := printJSON(out, exec); err != nil {
			return err
		}
	} else {
		names, err := stepNames(ctx, a, workflowID)
		if err != nil {
			return err
		}
		printExecution(out, exec, names)
	}

	if exec.Status == schema.ExecutionStatusFailed {
		return schema.NewErrorf(schema.ErrCodeExecution, "execution %s failed", exec.ID).
			WithDetails(map[string]any{"execution_id": exec.ID})
	}
	return nil
}

func simulateMany(ctx context.Context, a *app, out io.Writer, workflowID, clientID string, input map[string]any, opts simulateOptions) error {
	reqs := make([]engine.Request, opts.runs)
	for i := range reqs {
		reqs[i] = engine.Request{WorkflowID: workflowID, ClientID: clientID, Input: input}
	}
	results := engine.SimulateAll(ctx, a.runner, reqs, a.cfg.Engine.Concurrency)
	if opts.asJSON {
		return printJSON(out, results)
	}

	counts := map[schema.ExecutionStatus]int{}
	errored := 0
	for i, res := range results {
		if res.Err != nil {
			errored++
			fmt.Fprintf(out, "%3d %s %v\n", i+1, color.RedString("error"), res.Err)
			continue
		}
		counts[res.Execution.Status]++
		fmt.Fprintf(out, "%3d %s  %s\n", i+1, res.Execution.ID, statusString(string(res.Execution.Status)))
	}
	fmt.Fprintf(out, "\n%d runs: %d completed, %d failed, %d errored\n", len(results),
		counts[schema.ExecutionStatusCompleted], counts[schema.ExecutionStatusFailed], errored)

	if errored > 0 || counts[schema.ExecutionStatusFailed] > 0 {
		return schema.NewErrorf(schema.ErrCodeExecution, "%d of %d runs did not complete",
			errored+counts[schema.ExecutionStatusFailed], len(results))
	}
	return nil
}

// stepNames maps step ids of a workflow to their names.
func stepNames(ctx context.Context, a *app, workflowID string) (map[string]string, error) {
	graph, err := a.store.LoadWorkflowWithGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(graph.Steps))
	for _, s := range graph.Steps {
		names[s.ID] = s.Name
	}
	return names, nil
}
