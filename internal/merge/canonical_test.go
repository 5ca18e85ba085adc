package merge

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dumpDoc = `
version: 1
exec:
  cmd: ./app
tests:
  - name: suite
    tests:
      - name: version
        args: [--version]
        stdout:
          - contains: "1.0"
        exit: 0
`

func TestDumpGolden(t *testing.T) {
	forest, err := resolveDoc(t, dumpDoc)
	require.NoError(t, err)

	out, err := Dump(forest)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "dump", out)
}

func TestDumpIsDeterministic(t *testing.T) {
	forest, err := resolveDoc(t, dumpDoc)
	require.NoError(t, err)

	first, err := Dump(forest)
	require.NoError(t, err)
	second, err := Dump(forest)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDumpKeepsRegexReadable(t *testing.T) {
	forest, err := resolveDoc(t, `
version: 1
exec:
  cmd: ./app
tests:
  - name: t
    stdout:
      - match: '<b>.*</b>'
`)
	require.NoError(t, err)

	out, err := Dump(forest)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<b>.*</b>")
	assert.NotContains(t, string(out), `\u003c`)
}
