// Package plan expands resolved leaf nodes into runnable test cases.
// One case is one matrix combination together with its repeat group;
// iterations inside a case are sequential, distinct cases are
// independent and may run concurrently.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heig-tin-info/baygon2/internal/merge"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

// Binding is one matrix variable assignment.
type Binding struct {
	Name  string
	Value any
}

// TestCase is the unit of execution handed to the runner.
type TestCase struct {
	// ID is unique per planned case.
	ID string
	// Path extends the node's dotted identifier with the matrix
	// combination, e.g. "2.1[n=3,mode=fast]".
	Path string
	Node *merge.EffectiveNode

	// Bindings hold the matrix assignment in axis declaration order.
	Bindings []Binding
	// Iterations is the repeat count; variables persist across
	// iterations within this case.
	Iterations int
	// Seed initializes the case's RNG once for the whole repeat group.
	Seed int64
}

// Expand plans every leaf of the forest in declaration order.
func Expand(forest []*merge.EffectiveNode) []*TestCase {
	var cases []*TestCase
	for _, leaf := range merge.Leaves(forest) {
		cases = append(cases, expandLeaf(leaf)...)
	}
	return cases
}

func expandLeaf(node *merge.EffectiveNode) []*TestCase {
	combos := cartesian(node.Matrix)
	cases := make([]*TestCase, 0, len(combos))
	for i, bindings := range combos {
		cases = append(cases, &TestCase{
			ID:         uuid.NewString(),
			Path:       casePath(node.ID, bindings),
			Node:       node,
			Bindings:   bindings,
			Iterations: node.Repeat,
			Seed:       caseSeed(node.Seed, i),
		})
	}
	return cases
}

// cartesian yields every combination of the axes in declaration order,
// the last axis varying fastest. No axes yields one empty combination.
func cartesian(axes []schema.MatrixAxis) [][]Binding {
	combos := [][]Binding{nil}
	for _, axis := range axes {
		next := make([][]Binding, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, value := range axis.Values {
				extended := make([]Binding, len(combo), len(combo)+1)
				copy(extended, combo)
				next = append(next, append(extended, Binding{Name: axis.Name, Value: value}))
			}
		}
		combos = next
	}
	return combos
}

func casePath(id string, bindings []Binding) string {
	if len(bindings) == 0 {
		return id
	}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, fmt.Sprintf("%s=%v", b.Name, b.Value))
	}
	return id + "[" + strings.Join(parts, ",") + "]"
}

// caseSeed derives a per-case seed. A declared seed keeps runs
// reproducible while still giving each matrix combination its own
// stream; without one, the wall clock does.
func caseSeed(declared *int64, combo int) int64 {
	if declared != nil {
		return *declared + int64(combo)
	}
	return time.Now().UnixNano() + int64(combo)
}
