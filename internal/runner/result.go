package runner

import (
	"time"

	"github.com/heig-tin-info/baygon2/internal/pipeline"
)

// Status is the terminal state of a test case or an aggregated group.
type Status string

const (
	// StatusPassed means every check of every iteration succeeded.
	StatusPassed Status = "passed"
	// StatusFailed means at least one check failed.
	StatusFailed Status = "failed"
	// StatusTimedOut means the process outlived its timeout and the
	// whole process group was killed.
	StatusTimedOut Status = "timed_out"
	// StatusErrored means the process could not run at all, or a hook
	// broke before it.
	StatusErrored Status = "errored"
)

// worse orders statuses for aggregation; a group takes the worst
// status among its members.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusPassed: 0, StatusFailed: 1, StatusTimedOut: 2, StatusErrored: 3}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// IterationResult is one execution of the test body within a repeat
// group.
type IterationResult struct {
	Index    int  `json:"index"` // 1-based
	ExitCode int  `json:"exit_code"`
	TimedOut bool `json:"timed_out,omitempty"`
	// Captured streams, already bounded by the executor.
	Stdout   string             `json:"stdout,omitempty"`
	Stderr   string             `json:"stderr,omitempty"`
	Outcomes []pipeline.Outcome `json:"outcomes,omitempty"`
	Duration time.Duration      `json:"duration"`
}

func (r *IterationResult) Passed() bool {
	if r.TimedOut {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.Pass {
			return false
		}
	}
	return true
}

// CaseResult covers one planned test case: one matrix combination with
// all its repeat iterations.
type CaseResult struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Status Status `json:"status"`
	// Error describes an ExecError or hook failure; empty otherwise.
	Error string `json:"error,omitempty"`

	Iterations []IterationResult `json:"iterations"`

	SetupDuration    time.Duration `json:"setup_duration,omitempty"`
	ExecDuration     time.Duration `json:"exec_duration"`
	TeardownDuration time.Duration `json:"teardown_duration,omitempty"`
}

// NodeResult mirrors the effective tree. Leaves carry their planned
// cases, groups aggregate their children.
type NodeResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Cases    []*CaseResult `json:"cases,omitempty"`
	Children []*NodeResult `json:"tests,omitempty"`
}

// Report is the root of the result tree plus run-wide counters.
type Report struct {
	Nodes    []*NodeResult `json:"tests"`
	Summary  Summary       `json:"summary"`
	Duration time.Duration `json:"duration"`
}

// Summary counts planned cases by terminal status.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timed_out"`
	Errored  int `json:"errored"`
}

func (s Summary) Ok() bool { return s.Total == s.Passed }
