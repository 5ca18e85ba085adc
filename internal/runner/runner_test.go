//go:build !windows

package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heig-tin-info/baygon2/internal/loader"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

func loadSpec(t *testing.T, text string) *schema.Spec {
	t.Helper()
	node, err := loader.Load([]byte(text), "test.yml", loader.FormatYAML)
	require.NoError(t, err)
	spec, err := schema.Normalize(node, schema.NewRegistry())
	require.NoError(t, err)
	return spec
}

func run(t *testing.T, text string, opts Options) *Report {
	t.Helper()
	report, err := Run(context.Background(), loadSpec(t, text), opts)
	require.NoError(t, err)
	return report
}

func TestPassingCase(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: greets
    args: [hello]
    stdout:
      - trim: {}
      - equals: hello
    exit: 0
`, Options{})

	assert.Equal(t, 1, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Passed)
	assert.True(t, report.Summary.Ok())

	require.Len(t, report.Nodes, 1)
	node := report.Nodes[0]
	assert.Equal(t, StatusPassed, node.Status)
	require.Len(t, node.Cases, 1)
	assert.Equal(t, StatusPassed, node.Cases[0].Status)
	require.Len(t, node.Cases[0].Iterations, 1)
	assert.Greater(t, node.Cases[0].Iterations[0].Duration, time.Duration(0))
}

func TestFailingCheck(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: wrong
    args: [actual]
    stdout:
      - trim: {}
      - equals: expected
`, Options{})

	assert.Equal(t, 1, report.Summary.Failed)
	c := report.Nodes[0].Cases[0]
	assert.Equal(t, StatusFailed, c.Status)
	require.Len(t, c.Iterations, 1)
	require.Len(t, c.Iterations[0].Outcomes, 1)
	assert.Contains(t, c.Iterations[0].Outcomes[0].Message, "actual")
}

func TestExecErrorIsolation(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: broken
    cmd: /does/not/exist
  - name: healthy
    args: [ok]
    stdout:
      - trim: {}
      - equals: ok
`, Options{})

	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Errored)
	assert.Equal(t, 1, report.Summary.Passed)

	broken := report.Nodes[0].Cases[0]
	assert.Equal(t, StatusErrored, broken.Status)
	assert.Contains(t, broken.Error, "/does/not/exist")

	healthy := report.Nodes[1].Cases[0]
	assert.Equal(t, StatusPassed, healthy.Status)
}

func TestTimeout(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: sleep
tests:
  - name: hangs
    args: [10]
    timeout: 300ms
`, Options{})

	assert.Equal(t, 1, report.Summary.TimedOut)
	c := report.Nodes[0].Cases[0]
	assert.Equal(t, StatusTimedOut, c.Status)
	require.Len(t, c.Iterations, 1)
	assert.True(t, c.Iterations[0].TimedOut)
}

func TestExitCheck(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: sh
tests:
  - name: exits three
    args: [-c, "exit 3"]
    exit: 3
  - name: expects zero
    args: [-c, "exit 3"]
    exit: 0
`, Options{})

	assert.Equal(t, 1, report.Summary.Passed)
	assert.Equal(t, 1, report.Summary.Failed)
}

func TestImplicitIndexVariable(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: indexed
    repeat: 3
    args: ["{{ index }}"]
    stdout:
      - trim: {}
      - equals: "{{ index }}"
`, Options{})

	assert.True(t, report.Summary.Ok())
	c := report.Nodes[0].Cases[0]
	require.Len(t, c.Iterations, 3)
	for i, iter := range c.Iterations {
		assert.Equal(t, i+1, iter.Index)
		assert.True(t, iter.Passed())
	}
}

func TestRepeatSharesContext(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: counter
    repeat: 2
    setup:
      - eval: n = 10
    args: ["{{ ++n }}"]
    stdout:
      - trim: {}
      - equals: "{{ n }}"
`, Options{})

	assert.True(t, report.Summary.Ok(), "%+v", report.Nodes[0].Cases[0])
	require.Len(t, report.Nodes[0].Cases[0].Iterations, 2)
}

func TestMatrixCasesAreIndependent(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: grid
    matrix:
      word: [alpha, beta]
    args: ["{{ word }}"]
    stdout:
      - trim: {}
      - equals: "{{ word }}"
`, Options{})

	assert.Equal(t, 2, report.Summary.Total)
	assert.True(t, report.Summary.Ok())
	cases := report.Nodes[0].Cases
	require.Len(t, cases, 2)
	assert.NotEqual(t, cases[0].Path, cases[1].Path)
}

func TestGroupAggregation(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: suite
    tests:
      - name: good
        args: [x]
        stdout:
          - trim: {}
          - equals: x
      - name: bad
        args: [x]
        stdout:
          - trim: {}
          - equals: y
`, Options{})

	suite := report.Nodes[0]
	assert.Equal(t, StatusFailed, suite.Status)
	require.Len(t, suite.Children, 2)
	assert.Equal(t, StatusPassed, suite.Children[0].Status)
	assert.Equal(t, StatusFailed, suite.Children[1].Status)
}

func TestFileStream(t *testing.T) {
	dir := t.TempDir()
	report := run(t, `
version: 1
exec:
  cmd: sh
  cwd: `+dir+`
tests:
  - name: writes file
    args: [-c, "printf done > out.txt"]
    files:
      out.txt:
        - equals: done
  - name: missing file
    args: [-c, "true"]
    files:
      never.txt:
        - equals: anything
`, Options{})

	assert.Equal(t, 1, report.Summary.Passed)
	assert.Equal(t, 1, report.Summary.Failed)

	missing := report.Nodes[1].Cases[0]
	require.NotEmpty(t, missing.Iterations)
	require.NotEmpty(t, missing.Iterations[0].Outcomes)
	assert.Contains(t, missing.Iterations[0].Outcomes[0].Message, "never.txt")
}

func TestTeardownRunsAfterFailure(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "teardown.ran")
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: fails but cleans up
    args: [oops]
    teardown:
      - run: touch `+marker+`
    stdout:
      - trim: {}
      - equals: something-else
`, Options{})

	assert.Equal(t, 1, report.Summary.Failed)
	_, err := os.Stat(marker)
	assert.NoError(t, err, "teardown hook did not run")
}

func TestSetupFailureErrorsCase(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
tests:
  - name: bad setup
    setup:
      - run: "exit 9"
    stdout:
      - contains: never evaluated
`, Options{})

	c := report.Nodes[0].Cases[0]
	assert.Equal(t, StatusErrored, c.Status)
	assert.Contains(t, c.Error, "setup")
	assert.Empty(t, c.Iterations)
}

func TestConcurrencyDoesNotChangeOutcomes(t *testing.T) {
	doc := `
version: 1
exec:
  cmd: echo
tests:
  - name: a
    args: [a]
    stdout: [{trim: {}}, {equals: a}]
  - name: b
    args: [b]
    stdout: [{trim: {}}, {equals: wrong}]
  - name: c
    args: [c]
    stdout: [{trim: {}}, {equals: c}]
  - name: d
    cmd: /missing/binary
`
	sequential := run(t, doc, Options{Workers: 1})
	concurrent := run(t, doc, Options{Workers: 4})

	assert.Equal(t, sequential.Summary, concurrent.Summary)
	for i := range sequential.Nodes {
		assert.Equal(t, sequential.Nodes[i].Status, concurrent.Nodes[i].Status, sequential.Nodes[i].Name)
	}
}

func TestInheritedFiltersApplyToStreams(t *testing.T) {
	report := run(t, `
version: 1
exec:
  cmd: echo
filters:
  - trim: {}
  - lower: {}
tests:
  - name: filtered
    args: [HELLO]
    stdout:
      - equals: hello
`, Options{})

	assert.True(t, report.Summary.Ok())
}
