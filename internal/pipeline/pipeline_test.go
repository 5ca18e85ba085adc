package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heig-tin-info/baygon2/internal/sandbox"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

func apply(value string, ops []*schema.Op) []Outcome {
	return Apply("stdout", value, ops, sandbox.New(1), schema.NewRegistry(), Policy{})
}

func TestFiltersTransformBeforeChecks(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpTrim},
		{Kind: schema.OpLower},
		{Kind: schema.OpEquals, Value: "hello"},
	}
	outcomes := apply("  HELLO  ", ops)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass)
}

func TestChecksDoNotMutateValue(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpContains, Value: "a"},
		{Kind: schema.OpEquals, Value: "abc"},
	}
	outcomes := apply("abc", ops)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Pass)
	assert.True(t, outcomes[1].Pass)
}

func TestAllChecksRunByDefault(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpEquals, Value: "nope"},
		{Kind: schema.OpContains, Value: "val"},
	}
	outcomes := apply("value", ops)
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Pass)
	assert.True(t, outcomes[1].Pass)
}

func TestFailFastStopsStream(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpEquals, Value: "nope"},
		{Kind: schema.OpContains, Value: "val"},
	}
	outcomes := Apply("stdout", "value", ops, sandbox.New(1), schema.NewRegistry(), Policy{FailFast: true})
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Pass)
}

func TestSubFilter(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpSub, Regex: `\d+`, Repl: "N"},
		{Kind: schema.OpEquals, Value: "N items of N"},
	}
	outcomes := apply("12 items of 34", ops)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass, outcomes[0].Message)
}

func TestReplaceIsLiteral(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpReplace, Pattern: "a.b", Replacement: "X"},
		{Kind: schema.OpEquals, Value: "X and aXb"},
	}
	outcomes := apply("a.b and aa.bb", ops)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass, outcomes[0].Message)
}

func TestIgnoreSpacesRemovesOnlySpaces(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpIgnoreSpaces},
		{Kind: schema.OpEquals, Value: "a\tb"},
	}
	outcomes := apply("a \t b ", ops)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass, outcomes[0].Message)
}

func TestMatchWithFlags(t *testing.T) {
	ops := []*schema.Op{{Kind: schema.OpMatch, Regex: "^version", Flags: "i"}}
	outcomes := apply("Version 1.2", ops)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass)

	outcomes = apply("no match here", ops)
	assert.False(t, outcomes[0].Pass)
	assert.Contains(t, outcomes[0].Message, "no match here")
}

func TestNumericChecks(t *testing.T) {
	gt10 := []*schema.Op{{Kind: schema.OpGt, Value: "10", Number: 10}}

	outcomes := apply("11", gt10)
	assert.True(t, outcomes[0].Pass)

	outcomes = apply("9", gt10)
	assert.False(t, outcomes[0].Pass)

	outcomes = apply("abc", gt10)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Pass)
	assert.Contains(t, outcomes[0].Message, "coerce")
	assert.Contains(t, outcomes[0].Message, "abc")
}

func TestNumericThresholdTemplate(t *testing.T) {
	ctx := sandbox.New(1)
	ctx.Set("limit", int64(4))
	ops := []*schema.Op{{Kind: schema.OpLt, Value: "{{ limit }}"}}

	outcomes := Apply("stdout", "3", ops, ctx, schema.NewRegistry(), Policy{})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass, outcomes[0].Message)

	outcomes = Apply("stdout", "5", ops, ctx, schema.NewRegistry(), Policy{})
	assert.False(t, outcomes[0].Pass)
}

func TestCaptureRunsNestedChecks(t *testing.T) {
	ops := []*schema.Op{{
		Kind:  schema.OpCapture,
		Regex: `(\d+)`,
		Group: 1,
		Tests: []*schema.Op{{Kind: schema.OpLt, Value: "4", Number: 4}},
	}}

	outcomes := apply("7 apples", ops)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Pass)
	assert.Contains(t, outcomes[0].Message, "7")
}

func TestCapturePassing(t *testing.T) {
	ops := []*schema.Op{{
		Kind:  schema.OpCapture,
		Regex: `total: (\d+)`,
		Group: 1,
		Tests: []*schema.Op{
			{Kind: schema.OpGt, Value: "0", Number: 0},
			{Kind: schema.OpLt, Value: "100", Number: 100},
		},
	}}
	outcomes := apply("total: 42", ops)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Pass)
	assert.True(t, outcomes[1].Pass)
}

func TestCaptureNoMatchFailsNestedChecks(t *testing.T) {
	ops := []*schema.Op{{
		Kind:  schema.OpCapture,
		Regex: `total: (\d+)`,
		Group: 1,
		Tests: []*schema.Op{
			{Kind: schema.OpGt, Value: "0", Number: 0},
			{Kind: schema.OpLt, Value: "100", Number: 100},
		},
	}}
	outcomes := apply("nothing here", ops)
	// One outcome for the capture itself plus one per nested check.
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.False(t, o.Pass)
	}
	assert.Contains(t, outcomes[0].Message, "no match")
}

func TestMapEval(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpMapEval, Expr: "upper(trim(value))"},
		{Kind: schema.OpEquals, Value: "HELLO"},
	}
	outcomes := apply("  hello  ", ops)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass, outcomes[0].Message)
}

func TestCheckEval(t *testing.T) {
	ops := []*schema.Op{{Kind: schema.OpCheckEval, Expr: "len(value) > 3"}}

	outcomes := apply("long enough", ops)
	assert.True(t, outcomes[0].Pass)

	outcomes = apply("ab", ops)
	assert.False(t, outcomes[0].Pass)
}

func TestEvalValueStaysScoped(t *testing.T) {
	ctx := sandbox.New(1)
	ops := []*schema.Op{{Kind: schema.OpCheckEval, Expr: `value == "abc"`}}
	outcomes := Apply("stdout", "abc", ops, ctx, schema.NewRegistry(), Policy{})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass)

	// The binding must not survive the expression, or a template on a
	// later stream would read this stream's value instead of failing.
	_, defined := ctx.Get("value")
	assert.False(t, defined)
	_, err := ctx.Render("{{ value }}")
	require.Error(t, err)
}

func TestEvalFailureIsLocal(t *testing.T) {
	ops := []*schema.Op{
		{Kind: schema.OpCheckEval, Expr: "boom("},
		{Kind: schema.OpContains, Value: "ok"},
	}
	outcomes := apply("ok", ops)
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Pass)
	assert.True(t, outcomes[1].Pass)
}

func TestExplainTemplate(t *testing.T) {
	ctx := sandbox.New(1)
	ctx.Set("index", int64(3))
	ops := []*schema.Op{{
		Kind:    schema.OpEquals,
		Value:   "expected",
		Explain: "iteration {{ index }} diverged",
	}}
	outcomes := Apply("stdout", "actual", ops, ctx, schema.NewRegistry(), Policy{})
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Pass)
	assert.Equal(t, "iteration 3 diverged", outcomes[0].Explain)
}

func TestTemplatedComparisonValue(t *testing.T) {
	ctx := sandbox.New(1)
	ctx.Set("name", "baygon")
	ops := []*schema.Op{{Kind: schema.OpEquals, Value: "hello {{ name }}"}}
	outcomes := Apply("stdout", "hello baygon", ops, ctx, schema.NewRegistry(), Policy{})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Pass, outcomes[0].Message)
}

func TestPluginCheck(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.RegisterCheck("is_even", func(value, arg string) (bool, string, error) {
		return len(value)%2 == 0, "odd length", nil
	}))

	ops := []*schema.Op{{Kind: schema.OpPluginCheck, Name: "is_even"}}
	outcomes := Apply("stdout", "abcd", ops, sandbox.New(1), reg, Policy{})
	assert.True(t, outcomes[0].Pass)

	outcomes = Apply("stdout", "abc", ops, sandbox.New(1), reg, Policy{})
	assert.False(t, outcomes[0].Pass)
	assert.Equal(t, "odd length", outcomes[0].Message)
}
