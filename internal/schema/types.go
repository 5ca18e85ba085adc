// Package schema defines the canonical data model for test specifications
// and the normalizer that converts permissive compact documents into it.
//
// Every recognized operation accepts two forms: a bare scalar shorthand
// (contains: "X") and an already-canonical mapping (contains: {value: "X"}).
// Both normalize to the same canonical Op, so downstream stages never see
// the compact syntax.
package schema

import (
	"time"

	"github.com/heig-tin-info/baygon2/internal/loader"
)

// Spec is the root document. Immutable once normalized.
type Spec struct {
	Version int
	Exec    ExecContext
	Filters []*Op
	Tests   []*TestNode
}

// ExecContext describes how a process is spawned. Fields inherit by
// presence: a nil field defers to the nearest ancestor's value.
type ExecContext struct {
	Cmd     []string // argv; single element for the string form
	Timeout *time.Duration
	Stdin   *Stdin
	Args    []string
	Env     map[string]string
	Cwd     *string
	Shell   *bool
	Limits  *Limits
}

// Stdin is the input fed to the process: either a literal string or a
// sequence of lines joined with Joiner (newline by default).
type Stdin struct {
	Value  string
	Lines  []string
	Joiner string
}

// Render returns the final stdin text.
func (s *Stdin) Render() string {
	if s.Lines == nil {
		return s.Value
	}
	joiner := s.Joiner
	if joiner == "" {
		joiner = "\n"
	}
	out := ""
	for i, line := range s.Lines {
		if i > 0 {
			out += joiner
		}
		out += line
	}
	return out
}

// Limits are process resource limits applied at spawn time where the
// host supports them.
type Limits struct {
	CPU    int64 // seconds of CPU time
	Memory int64 // address space bytes
	NoFile int64 // open file descriptors
}

// HookKind distinguishes the two setup/teardown step forms.
type HookKind string

const (
	HookRun  HookKind = "run"  // shell command
	HookEval HookKind = "eval" // sandboxed statement
)

// HookStep is one setup or teardown step.
type HookStep struct {
	Kind  HookKind
	Value string
}

// MatrixAxis is one parameterization variable with its candidate values,
// in declaration order. Values are scalars (string, int64, float64, bool).
type MatrixAxis struct {
	Name   string
	Values []any
}

// FileSpec is the ordered operation list checked against one file's
// contents after execution. Declaring the file implies it must exist.
type FileSpec struct {
	Ops []*Op
}

// ExitSpec holds the checks evaluated against the textual exit status.
// The compact integer form `exit: 0` normalizes to a single equals check.
type ExitSpec struct {
	Ops []*Op
}

// TestNode is one node of the test tree. Leaf nodes (no children) are
// runnable; inner nodes group children and contribute inherited
// configuration.
type TestNode struct {
	Name        string
	Description string

	Exec     ExecContext
	Filters  []*Op
	Setup    []HookStep
	Teardown []HookStep

	Repeat int
	Matrix []MatrixAxis
	Seed   *int64

	Stdout []*Op
	Stderr []*Op
	Files  []FileStream
	Exit   *ExitSpec

	Tests []*TestNode

	Pos loader.Position
}

// FileStream pairs a file name with its spec, preserving declaration order.
type FileStream struct {
	Name string
	Spec *FileSpec
}

// IsLeaf reports whether the node is runnable.
func (n *TestNode) IsLeaf() bool { return len(n.Tests) == 0 }
