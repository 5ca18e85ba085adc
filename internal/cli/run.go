package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/heig-tin-info/baygon2/internal/pipeline"
	"github.com/heig-tin-info/baygon2/internal/runner"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var workers int
	var failFast bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:           "run [document]",
		Short:         "Execute the test document and report results",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, rootOpts, optionalArg(args), workers, failFast, timeout)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "concurrent test cases (0 = one per CPU)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop a stream at its first failing check")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override every test's timeout")
	return cmd
}

// optionalArg returns the positional document path if one was given.
func optionalArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return ""
}

func runTests(cmd *cobra.Command, opts *RootOptions, doc string, workers int, failFast bool, timeout time.Duration) error {
	reg := schema.NewRegistry()
	spec, path, err := loadDocument(opts, reg, doc)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "cannot load test document", Err: err}
	}
	slog.Info("document loaded", "path", path, "tests", len(spec.Tests))

	report, err := runner.Run(cmd.Context(), spec, runner.Options{
		Workers:  workers,
		Policy:   pipeline.Policy{FailFast: failFast},
		Timeout:  timeout,
		Registry: reg,
		Logger:   slog.Default(),
	})
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "run aborted", Err: err}
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := json.NewEncoder(out).Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if !report.Summary.Ok() {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d of %d test cases failed",
			report.Summary.Total-report.Summary.Passed, report.Summary.Total)}
	}
	return nil
}

// printReport renders the result tree with one line per case and per
// failing check, indented by depth.
func printReport(w io.Writer, report *runner.Report) {
	for _, node := range report.Nodes {
		printNode(w, node, 0)
	}
	s := report.Summary
	fmt.Fprintf(w, "\n%d passed, %d failed, %d timed out, %d errored (%d total) in %s\n",
		s.Passed, s.Failed, s.TimedOut, s.Errored, s.Total, report.Duration.Round(1e6))
}

func printNode(w io.Writer, node *runner.NodeResult, depth int) {
	indent := strings.Repeat("  ", depth)
	if len(node.Children) > 0 {
		fmt.Fprintf(w, "%s%s %s\n", indent, statusMark(node.Status), node.Name)
		for _, child := range node.Children {
			printNode(w, child, depth+1)
		}
		return
	}
	for _, c := range node.Cases {
		fmt.Fprintf(w, "%s%s %s: %s\n", indent, statusMark(c.Status), c.Path, c.Name)
		if c.Error != "" {
			fmt.Fprintf(w, "%s    %s\n", indent, c.Error)
		}
		for _, iter := range c.Iterations {
			for _, o := range iter.Outcomes {
				if o.Pass {
					continue
				}
				fmt.Fprintf(w, "%s    [%s] %s: %s\n", indent, o.Stream, o.Op, o.Message)
				if o.Explain != "" {
					fmt.Fprintf(w, "%s      %s\n", indent, o.Explain)
				}
			}
		}
	}
}

func statusMark(s runner.Status) string {
	switch s {
	case runner.StatusPassed:
		return "✓"
	case runner.StatusTimedOut:
		return "⏱"
	case runner.StatusErrored:
		return "!"
	}
	return "✗"
}
