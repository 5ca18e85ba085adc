// Package merge resolves inheritance across the test tree. Every
// inheritable field of a node is combined with its ancestors so that
// later stages never need to walk back up the tree.
package merge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/heig-tin-info/baygon2/internal/schema"
)

// MergeError reports a structural conflict found while resolving the
// tree. It aborts the whole run.
type MergeError struct {
	ID      string
	Message string
}

func (e *MergeError) Error() string {
	if e.ID == "" {
		return e.Message
	}
	return fmt.Sprintf("test %s: %s", e.ID, e.Message)
}

// EffectiveNode is a tree node with all inheritance applied. Exec is
// fully resolved against the ancestors, hook and filter lists contain
// the ancestor entries first, and stream specs are the node's own
// (streams never inherit).
type EffectiveNode struct {
	// ID is the hierarchical dotted identifier, 1-based per level
	// ("1", "1.2", "1.2.3").
	ID          string
	Name        string
	Description string

	Exec     schema.ExecContext
	Filters  []*schema.Op
	Setup    []schema.HookStep
	Teardown []schema.HookStep

	Repeat int
	Matrix []schema.MatrixAxis
	Seed   *int64

	Stdout []*schema.Op
	Stderr []*schema.Op
	Files  []schema.FileStream
	Exit   *schema.ExitSpec

	Children []*EffectiveNode
}

func (n *EffectiveNode) IsLeaf() bool { return len(n.Children) == 0 }

// Leaves returns the leaf nodes of the forest in declaration order.
func Leaves(forest []*EffectiveNode) []*EffectiveNode {
	var out []*EffectiveNode
	var walk func(n *EffectiveNode)
	walk = func(n *EffectiveNode) {
		if n.IsLeaf() {
			out = append(out, n)
			return
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	for _, n := range forest {
		walk(n)
	}
	return out
}

// inherited carries the ancestor state down the walk.
type inherited struct {
	exec     schema.ExecContext
	filters  []*schema.Op
	setup    []schema.HookStep
	teardown []schema.HookStep
}

// Merge resolves the spec into an effective forest.
func Merge(spec *schema.Spec) ([]*EffectiveNode, error) {
	root := inherited{
		exec:    spec.Exec,
		filters: spec.Filters,
	}
	forest := make([]*EffectiveNode, 0, len(spec.Tests))
	for i, test := range spec.Tests {
		node, err := resolve(test, strconv.Itoa(i+1), root)
		if err != nil {
			return nil, err
		}
		forest = append(forest, node)
	}
	return forest, nil
}

func resolve(t *schema.TestNode, id string, parent inherited) (*EffectiveNode, error) {
	node := &EffectiveNode{
		ID:          id,
		Name:        t.Name,
		Description: t.Description,
		Exec:        overlayExec(parent.exec, t.Exec),
		Repeat:      t.Repeat,
		Matrix:      t.Matrix,
		Seed:        t.Seed,
		Stdout:      t.Stdout,
		Stderr:      t.Stderr,
		Files:       t.Files,
		Exit:        t.Exit,
	}

	// Lists only grow: ancestor entries first, the node's own after.
	// An empty literal adds nothing and clears nothing.
	node.Filters = concatOps(parent.filters, t.Filters)
	node.Setup = concatHooks(parent.setup, t.Setup)
	node.Teardown = concatHooks(parent.teardown, t.Teardown)

	if !t.IsLeaf() {
		if t.Stdout != nil || t.Stderr != nil || t.Files != nil || t.Exit != nil {
			return nil, &MergeError{ID: id, Message: "stream and exit checks belong on leaf tests, not groups"}
		}
		if t.Matrix != nil || t.Repeat > 1 {
			return nil, &MergeError{ID: id, Message: "matrix and repeat apply to leaf tests only"}
		}
		down := inherited{
			exec:     node.Exec,
			filters:  node.Filters,
			setup:    node.Setup,
			teardown: node.Teardown,
		}
		for i, child := range t.Tests {
			resolved, err := resolve(child, id+"."+strconv.Itoa(i+1), down)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, resolved)
		}
	}

	if t.IsLeaf() && len(node.Exec.Cmd) == 0 {
		return nil, &MergeError{ID: id, Message: "no command resolved for this test"}
	}
	for _, axis := range node.Matrix {
		if axis.Name == "index" {
			return nil, &MergeError{ID: id, Message: `matrix variable "index" shadows the implicit iteration variable`}
		}
		if strings.TrimSpace(axis.Name) == "" {
			return nil, &MergeError{ID: id, Message: "matrix variable names must not be blank"}
		}
	}
	return node, nil
}

// overlayExec resolves one context against its ancestor: a field the
// node sets wins, an unset field defers upward. Env is the exception,
// it extends per key instead of replacing the whole mapping.
func overlayExec(parent, child schema.ExecContext) schema.ExecContext {
	out := parent
	if child.Cmd != nil {
		out.Cmd = child.Cmd
	}
	if child.Timeout != nil {
		out.Timeout = child.Timeout
	}
	if child.Stdin != nil {
		out.Stdin = child.Stdin
	}
	if child.Args != nil {
		out.Args = child.Args
	}
	if child.Cwd != nil {
		out.Cwd = child.Cwd
	}
	if child.Shell != nil {
		out.Shell = child.Shell
	}
	if child.Limits != nil {
		out.Limits = child.Limits
	}
	if child.Env != nil {
		merged := make(map[string]string, len(parent.Env)+len(child.Env))
		for k, v := range parent.Env {
			merged[k] = v
		}
		for k, v := range child.Env {
			merged[k] = v
		}
		out.Env = merged
	}
	return out
}

func concatOps(parent, own []*schema.Op) []*schema.Op {
	if len(own) == 0 {
		return parent
	}
	out := make([]*schema.Op, 0, len(parent)+len(own))
	out = append(out, parent...)
	return append(out, own...)
}

func concatHooks(parent, own []schema.HookStep) []schema.HookStep {
	if len(own) == 0 {
		return parent
	}
	out := make([]schema.HookStep, 0, len(parent)+len(own))
	out = append(out, parent...)
	return append(out, own...)
}
