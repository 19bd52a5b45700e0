package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/rendis/flowsim/pkg/schema"
)

// statusString colours an execution or step status.
func statusString(status string) string {
	switch strings.ToUpper(status) {
	case string(schema.ExecutionStatusCompleted):
		return color.GreenString(status)
	case string(schema.ExecutionStatusFailed):
		return color.RedString(status)
	case string(schema.ExecutionStatusRunning), string(schema.ExecutionStatusPending):
		return color.YellowString(status)
	default:
		return color.HiBlackString(status)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printExecution writes an execution header followed by its step trail.
// stepNames maps step ids to display names; unknown ids print as-is.
func printExecution(w io.Writer, exec *schema.Execution, stepNames map[string]string) {
	fmt.Fprintf(w, "%s %s  %s\n", color.CyanString("Execution"), exec.ID, statusString(string(exec.Status)))
	fmt.Fprintf(w, "  workflow %s  client %s\n", exec.WorkflowID, exec.ClientID)
	fmt.Fprintf(w, "  started  %s", exec.StartedAt.Format(time.RFC3339))
	if exec.CompletedAt != nil {
		fmt.Fprintf(w, "  took %s", exec.CompletedAt.Sub(exec.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	if len(exec.Logs) == 0 {
		fmt.Fprintln(w, "  (no step logs)")
		return
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tSTEP\tSTATUS\tDURATION\tMESSAGE")
	for _, l := range exec.Logs {
		step := "-"
		if id := l.StepIDValue(); id != "" {
			step = id
			if name, ok := stepNames[id]; ok {
				step = name
			}
		}
		dur := "-"
		if l.CompletedAt != nil {
			dur = l.CompletedAt.Sub(l.StartedAt).Round(time.Millisecond).String()
		}
		msg := l.Message
		if l.Error != "" {
			msg = color.RedString(l.Error)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", l.Sequence, step, statusString(string(l.Status)), dur, msg)
	}
	_ = tw.Flush()
}

// printEvent writes one live event line for --follow.
func printEvent(w io.Writer, ev schema.StreamEvent) {
	ts := ev.Timestamp.Format("15:04:05.000")
	label := ev.Type
	switch ev.Type {
	case schema.EventStepFailed, schema.EventExecutionFailed:
		label = color.RedString(label)
	case schema.EventCycleDetected:
		label = color.YellowString(label)
	case schema.EventExecutionCompleted:
		label = color.GreenString(label)
	default:
		label = color.CyanString(label)
	}
	line := fmt.Sprintf("%s %s", color.HiBlackString(ts), label)
	if ev.StepName != "" {
		line += " " + ev.StepName
	}
	if ev.Message != "" {
		line += color.HiBlackString(" - " + ev.Message)
	}
	fmt.Fprintln(w, line)
}

// printIssues lists validation errors and warnings.
func printIssues(w io.Writer, issues []schema.ValidationIssue) {
	for _, is := range issues {
		mark := color.YellowString("!")
		if is.Severity == schema.SeverityError {
			mark = color.RedString("✗")
		}
		fmt.Fprintf(w, "%s %s: %s\n", mark, is.Path, is.Message)
	}
}

// printError writes err for a human. Validation details are listed one per
// line.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, color.RedString("✗")+" "+err.Error())

	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		return
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			fmt.Fprintln(w, color.CyanString("→")+" "+v)
		}
	}
	for _, key := range []string{"errors", "warnings"} {
		if issues, ok := fe.Details[key].([]schema.ValidationIssue); ok {
			printIssues(w, issues)
		}
	}
}
