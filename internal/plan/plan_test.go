package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heig-tin-info/baygon2/internal/loader"
	"github.com/heig-tin-info/baygon2/internal/merge"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

func planDoc(t *testing.T, text string) []*TestCase {
	t.Helper()
	node, err := loader.Load([]byte(text), "test.yml", loader.FormatYAML)
	require.NoError(t, err)
	spec, err := schema.Normalize(node, schema.NewRegistry())
	require.NoError(t, err)
	forest, err := merge.Merge(spec)
	require.NoError(t, err)
	return Expand(forest)
}

func TestPlainLeafIsOneCase(t *testing.T) {
	cases := planDoc(t, `
version: 1
exec:
  cmd: ./app
tests:
  - name: t
`)
	require.Len(t, cases, 1)
	assert.Equal(t, "1", cases[0].Path)
	assert.Equal(t, 1, cases[0].Iterations)
	assert.Empty(t, cases[0].Bindings)
	assert.NotEmpty(t, cases[0].ID)
}

func TestMatrixExpansion(t *testing.T) {
	cases := planDoc(t, `
version: 1
exec:
  cmd: ./app
tests:
  - name: grid
    matrix:
      n: [1, 2, 3]
      mode: [fast, slow]
`)
	require.Len(t, cases, 6)

	// Declaration order, last axis fastest.
	assert.Equal(t, "1[n=1,mode=fast]", cases[0].Path)
	assert.Equal(t, "1[n=1,mode=slow]", cases[1].Path)
	assert.Equal(t, "1[n=2,mode=fast]", cases[2].Path)
	assert.Equal(t, "1[n=3,mode=slow]", cases[5].Path)

	seen := map[string]bool{}
	for _, c := range cases {
		require.Len(t, c.Bindings, 2)
		assert.Equal(t, "n", c.Bindings[0].Name)
		assert.Equal(t, "mode", c.Bindings[1].Name)
		assert.False(t, seen[c.Path], "combination %s planned twice", c.Path)
		seen[c.Path] = true
	}
}

func TestRepeatStaysWithinOneCase(t *testing.T) {
	cases := planDoc(t, `
version: 1
exec:
  cmd: ./app
tests:
  - name: flaky
    repeat: 5
`)
	require.Len(t, cases, 1)
	assert.Equal(t, 5, cases[0].Iterations)
}

func TestDeclaredSeedIsReproduciblePerCombination(t *testing.T) {
	doc := `
version: 1
exec:
  cmd: ./app
tests:
  - name: seeded
    seed: 42
    matrix:
      n: [1, 2]
`
	first := planDoc(t, doc)
	second := planDoc(t, doc)
	require.Len(t, first, 2)

	assert.Equal(t, int64(42), first[0].Seed)
	assert.Equal(t, int64(43), first[1].Seed)
	assert.Equal(t, first[0].Seed, second[0].Seed)
	assert.Equal(t, first[1].Seed, second[1].Seed)
	assert.NotEqual(t, first[0].Seed, first[1].Seed)
}

func TestCasesFollowDeclarationOrder(t *testing.T) {
	cases := planDoc(t, `
version: 1
exec:
  cmd: ./app
tests:
  - name: group
    tests:
      - name: a
      - name: b
  - name: c
`)
	require.Len(t, cases, 3)
	assert.Equal(t, "1.1", cases[0].Path)
	assert.Equal(t, "1.2", cases[1].Path)
	assert.Equal(t, "2", cases[2].Path)
}
