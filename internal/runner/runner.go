// Package runner drives planned test cases through the state machine
// Pending -> Setup -> Executing -> checks -> Teardown under a bounded
// worker pool, then folds the per-case results back into a tree.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/heig-tin-info/baygon2/internal/executor"
	"github.com/heig-tin-info/baygon2/internal/merge"
	"github.com/heig-tin-info/baygon2/internal/pipeline"
	"github.com/heig-tin-info/baygon2/internal/plan"
	"github.com/heig-tin-info/baygon2/internal/sandbox"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

// Options configure one run.
type Options struct {
	// Workers bounds the pool; zero means one worker per CPU.
	Workers int
	// Policy is forwarded to every stream pipeline.
	Policy pipeline.Policy
	// Timeout, when positive, overrides every case's configured timeout.
	Timeout time.Duration
	// Registry resolves plugin operations; nil means built-ins only.
	Registry *schema.Registry
	// Logger receives per-case progress; nil silences it.
	Logger *slog.Logger
}

// Run resolves, plans and executes the spec. The returned error covers
// global faults only (MergeError); individual case failures live in
// the report.
func Run(ctx context.Context, spec *schema.Spec, opts Options) (*Report, error) {
	forest, err := merge.Merge(spec)
	if err != nil {
		return nil, err
	}
	cases := plan.Expand(forest)

	if opts.Registry == nil {
		opts.Registry = schema.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1 << 30)}))
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(cases) && len(cases) > 0 {
		workers = len(cases)
	}

	start := time.Now()
	results := make([]*CaseResult, len(cases))

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i] = runCase(ctx, cases[i], opts)
			}
		}()
	}
	for i := range cases {
		select {
		case work <- i:
		case <-ctx.Done():
		}
	}
	close(work)
	wg.Wait()

	// Cancellation can leave unprocessed slots.
	for i, r := range results {
		if r == nil {
			results[i] = &CaseResult{
				ID:     cases[i].ID,
				Path:   cases[i].Path,
				Name:   cases[i].Node.Name,
				Status: StatusErrored,
				Error:  "run cancelled",
			}
		}
	}

	report := &Report{Duration: time.Since(start)}
	byNode := make(map[string][]*CaseResult)
	for _, r := range results {
		report.Summary.Total++
		switch r.Status {
		case StatusPassed:
			report.Summary.Passed++
		case StatusFailed:
			report.Summary.Failed++
		case StatusTimedOut:
			report.Summary.TimedOut++
		case StatusErrored:
			report.Summary.Errored++
		}
	}
	for i, c := range cases {
		byNode[c.Node.ID] = append(byNode[c.Node.ID], results[i])
	}
	for _, node := range forest {
		report.Nodes = append(report.Nodes, buildNodeResult(node, byNode))
	}
	return report, nil
}

// buildNodeResult aggregates bottom-up; a parent's status is computed
// only after all of its children are final.
func buildNodeResult(node *merge.EffectiveNode, byNode map[string][]*CaseResult) *NodeResult {
	out := &NodeResult{ID: node.ID, Name: node.Name, Status: StatusPassed}
	if node.IsLeaf() {
		out.Cases = byNode[node.ID]
		for _, c := range out.Cases {
			out.Status = worse(out.Status, c.Status)
		}
		return out
	}
	for _, child := range node.Children {
		built := buildNodeResult(child, byNode)
		out.Children = append(out.Children, built)
		out.Status = worse(out.Status, built.Status)
	}
	return out
}

// runCase owns one case end to end: its context, its repeat
// iterations, its hooks. Nothing here is shared with other cases.
func runCase(ctx context.Context, tc *plan.TestCase, opts Options) *CaseResult {
	log := opts.Logger.With("case", tc.Path)
	result := &CaseResult{ID: tc.ID, Path: tc.Path, Name: tc.Node.Name, Status: StatusPassed}

	sb := sandbox.New(tc.Seed)
	for _, b := range tc.Bindings {
		sb.Set(b.Name, b.Value)
	}

	node := tc.Node

	// Setup runs once for the whole repeat group.
	setupStart := time.Now()
	if err := runHooks(ctx, node.Setup, node, sb); err != nil {
		result.SetupDuration = time.Since(setupStart)
		result.Status = StatusErrored
		result.Error = fmt.Sprintf("setup: %v", err)
		log.Error("setup failed", "error", err)
		runTeardown(ctx, node, sb, result, log)
		return result
	}
	result.SetupDuration = time.Since(setupStart)

	execStart := time.Now()
	for i := 1; i <= tc.Iterations; i++ {
		sb.Set("index", int64(i))
		iter, err := runIteration(ctx, node, sb, i, opts)
		if err != nil {
			result.Status = StatusErrored
			result.Error = err.Error()
			log.Error("execution failed", "iteration", i, "error", err)
			break
		}
		result.Iterations = append(result.Iterations, *iter)
		if iter.TimedOut {
			result.Status = StatusTimedOut
			log.Warn("timed out", "iteration", i)
			break
		}
		if !iter.Passed() {
			result.Status = StatusFailed
		}
	}
	result.ExecDuration = time.Since(execStart)

	runTeardown(ctx, node, sb, result, log)
	log.Debug("case finished", "status", string(result.Status))
	return result
}

func runTeardown(ctx context.Context, node *merge.EffectiveNode, sb *sandbox.Context, result *CaseResult, log *slog.Logger) {
	teardownStart := time.Now()
	if err := runHooks(ctx, node.Teardown, node, sb); err != nil {
		if result.Status == StatusPassed {
			result.Status = StatusErrored
		}
		if result.Error == "" {
			result.Error = fmt.Sprintf("teardown: %v", err)
		}
		log.Error("teardown failed", "error", err)
	}
	result.TeardownDuration = time.Since(teardownStart)
}

// runIteration performs one exec + pipeline pass. A TimedOut outcome is
// reported through the iteration, an unstartable process through the
// error return.
func runIteration(ctx context.Context, node *merge.EffectiveNode, sb *sandbox.Context, index int, opts Options) (*IterationResult, error) {
	req, err := buildRequest(node, sb, opts.Timeout)
	if err != nil {
		return nil, err
	}

	outcome, err := executor.Run(ctx, *req)
	if err != nil {
		return nil, err
	}

	iter := &IterationResult{
		Index:    index,
		ExitCode: outcome.ExitCode,
		TimedOut: outcome.TimedOut,
		Stdout:   outcome.Stdout,
		Stderr:   outcome.Stderr,
		Duration: outcome.Duration,
	}
	if outcome.TimedOut {
		// Stream content is undefined after a kill; skip the checks.
		return iter, nil
	}

	if node.Stdout != nil {
		iter.Outcomes = append(iter.Outcomes,
			pipeline.Apply("stdout", outcome.Stdout, streamOps(node, node.Stdout), sb, opts.Registry, opts.Policy)...)
	}
	if node.Stderr != nil {
		iter.Outcomes = append(iter.Outcomes,
			pipeline.Apply("stderr", outcome.Stderr, streamOps(node, node.Stderr), sb, opts.Registry, opts.Policy)...)
	}
	for _, file := range node.Files {
		iter.Outcomes = append(iter.Outcomes, checkFile(node, file, sb, opts)...)
	}
	if node.Exit != nil {
		iter.Outcomes = append(iter.Outcomes,
			pipeline.Apply("exit", strconv.Itoa(outcome.ExitCode), node.Exit.Ops, sb, opts.Registry, opts.Policy)...)
	}
	return iter, nil
}

// streamOps prepends the inherited filters to a stream's own
// operations: filters apply to every checked stream, the stream's list
// then runs in declared order.
func streamOps(node *merge.EffectiveNode, ops []*schema.Op) []*schema.Op {
	if len(node.Filters) == 0 {
		return ops
	}
	out := make([]*schema.Op, 0, len(node.Filters)+len(ops))
	out = append(out, node.Filters...)
	return append(out, ops...)
}

// checkFile requires the file to exist before any of its operations
// run; absence is a failed outcome, not a fault.
func checkFile(node *merge.EffectiveNode, file schema.FileStream, sb *sandbox.Context, opts Options) []pipeline.Outcome {
	name, err := sb.Render(file.Name)
	if err != nil {
		return []pipeline.Outcome{{Stream: file.Name, Op: "file", Message: err.Error()}}
	}
	path := name
	if !filepath.IsAbs(path) && node.Exec.Cwd != nil {
		path = filepath.Join(*node.Exec.Cwd, name)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return []pipeline.Outcome{{
			Stream:  name,
			Op:      "file",
			Message: fmt.Sprintf("expected file %q after execution: %v", name, err),
		}}
	}
	return pipeline.Apply(name, string(content), streamOps(node, file.Spec.Ops), sb, opts.Registry, opts.Policy)
}

// buildRequest renders the exec context against the case variables.
func buildRequest(node *merge.EffectiveNode, sb *sandbox.Context, timeout time.Duration) (*executor.Request, error) {
	ec := node.Exec

	argv := make([]string, 0, len(ec.Cmd)+len(ec.Args))
	argv = append(argv, ec.Cmd...)
	for _, arg := range ec.Args {
		rendered, err := sb.Render(arg)
		if err != nil {
			return nil, err
		}
		argv = append(argv, rendered)
	}

	req := &executor.Request{
		Argv:   argv,
		Env:    ec.Env,
		Limits: ec.Limits,
	}
	if ec.Shell != nil {
		req.Shell = *ec.Shell
	}
	if ec.Cwd != nil {
		req.Dir = *ec.Cwd
	}
	if ec.Timeout != nil {
		req.Timeout = *ec.Timeout
	}
	if timeout > 0 {
		req.Timeout = timeout
	}
	if ec.Stdin != nil {
		rendered, err := sb.Render(ec.Stdin.Render())
		if err != nil {
			return nil, err
		}
		req.Stdin = rendered
		req.HasStdin = true
	}
	return req, nil
}

// runHooks executes setup or teardown steps in order. A run step goes
// through the shell in the node's working directory; an eval step
// mutates the case variables, typically "x = 0" style assignments.
func runHooks(ctx context.Context, hooks []schema.HookStep, node *merge.EffectiveNode, sb *sandbox.Context) error {
	for _, hook := range hooks {
		switch hook.Kind {
		case schema.HookRun:
			rendered, err := sb.Render(hook.Value)
			if err != nil {
				return err
			}
			req := executor.Request{
				Argv:  []string{rendered},
				Shell: true,
				Env:   node.Exec.Env,
			}
			if node.Exec.Cwd != nil {
				req.Dir = *node.Exec.Cwd
			}
			out, err := executor.Run(ctx, req)
			if err != nil {
				return err
			}
			if out.ExitCode != 0 {
				return fmt.Errorf("hook %q exited with %d", rendered, out.ExitCode)
			}
		case schema.HookEval:
			if err := evalHook(sb, hook.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// evalHook supports "name = expr" assignments and bare expressions
// evaluated for effect.
func evalHook(sb *sandbox.Context, code string) error {
	if name, expr, ok := splitAssignment(code); ok {
		value, err := sb.Eval(expr)
		if err != nil {
			return err
		}
		sb.Set(name, value)
		return nil
	}
	_, err := sb.Eval(code)
	return err
}

func splitAssignment(code string) (name, expr string, ok bool) {
	for i := 0; i < len(code); i++ {
		if code[i] != '=' {
			continue
		}
		// Skip ==, <=, >=, != which are comparisons, not assignments.
		if i+1 < len(code) && code[i+1] == '=' {
			return "", "", false
		}
		if i > 0 && (code[i-1] == '<' || code[i-1] == '>' || code[i-1] == '!' || code[i-1] == '=') {
			return "", "", false
		}
		lhs := trimIdent(code[:i])
		if lhs == "" {
			return "", "", false
		}
		return lhs, code[i+1:], true
	}
	return "", "", false
}

func trimIdent(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return ""
	}
	return s
}
