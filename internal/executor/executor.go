// Package executor spawns the program under test, feeds it stdin,
// enforces timeouts and resource limits, and captures its streams.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/heig-tin-info/baygon2/internal/schema"
)

// MaxCapture bounds each captured stream. Output beyond the bound is
// dropped and the stream is marked truncated.
const MaxCapture = 1 << 20

// TruncationMarker is appended to a stream that hit MaxCapture.
const TruncationMarker = "\n…[truncated]"

// Request describes one process invocation, fully resolved: templates
// rendered, inheritance applied.
type Request struct {
	// Argv is the command followed by its arguments.
	Argv []string
	// Shell runs the command line through /bin/sh -c instead of a
	// direct exec.
	Shell bool
	// Stdin is written to the child when HasStdin is set; an empty
	// string with HasStdin still closes stdin after writing nothing.
	Stdin    string
	HasStdin bool
	// Env extends the parent environment per key.
	Env map[string]string
	Dir string
	// Timeout of zero means wait forever.
	Timeout time.Duration
	Limits  *schema.Limits
}

// Outcome is the observable result of one completed spawn. TimedOut is
// distinct from a non-zero exit: stream content after a timeout is
// whatever was captured before the kill.
type Outcome struct {
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	ExitCode        int
	TimedOut        bool
	Duration        time.Duration
}

// ExecError means the process could not be started at all: missing
// binary, permission denied, bad working directory.
type ExecError struct {
	Cmd string
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("cannot execute %q: %v", e.Cmd, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsExecError reports whether err means the process never started.
func IsExecError(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr)
}

// Run spawns the request and waits for completion, the timeout or ctx
// cancellation, whichever comes first. On timeout the whole process
// group is killed so no descendant survives the test case.
func Run(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.Argv) == 0 {
		return nil, &ExecError{Cmd: "", Err: fmt.Errorf("empty command")}
	}

	var cmd *exec.Cmd
	if req.Shell {
		cmd = exec.Command("/bin/sh", "-c", strings.Join(req.Argv, " "))
	} else {
		cmd = exec.Command(req.Argv[0], req.Argv[1:]...)
	}
	cmd.Dir = req.Dir
	cmd.Env = mergedEnv(req.Env)
	if req.HasStdin {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	stdout := newBoundedBuffer(MaxCapture)
	stderr := newBoundedBuffer(MaxCapture)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecError{Cmd: req.Argv[0], Err: err}
	}
	applyLimits(cmd, req.Limits)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	outcome := &Outcome{}
	select {
	case err := <-done:
		outcome.ExitCode = exitCode(cmd, err)
	case <-timeoutCh:
		killProcessGroup(cmd)
		<-done
		outcome.TimedOut = true
		outcome.ExitCode = -1
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return nil, ctx.Err()
	}

	outcome.Duration = time.Since(start)
	outcome.Stdout, outcome.StdoutTruncated = stdout.Contents()
	outcome.Stderr, outcome.StderrTruncated = stderr.Contents()
	return outcome, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if exit, ok := err.(*exec.ExitError); ok {
		return exit.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// mergedEnv extends the parent environment: a request key overrides
// only the same-named inherited variable.
func mergedEnv(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return os.Environ()
	}
	base := os.Environ()
	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if _, shadowed := overlay[key]; !shadowed {
			out = append(out, kv)
		}
	}
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}
