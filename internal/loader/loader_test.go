package loader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLMappingPositions(t *testing.T) {
	doc := []byte("version: 1\nexec:\n  cmd: ./prog\n  args: [1, true, x]\n")

	root, err := Load(doc, "spec.yaml", FormatYAML)
	require.NoError(t, err)
	require.Equal(t, KindMapping, root.Kind)

	version := root.Get("version")
	require.NotNil(t, version)
	assert.Equal(t, int64(1), version.Value)
	assert.Equal(t, 1, version.Pos.Line)

	cmd := root.Get("exec").Get("cmd")
	require.NotNil(t, cmd)
	assert.Equal(t, "./prog", cmd.Value)
	assert.Equal(t, 3, cmd.Pos.Line)

	args := root.Get("exec").Get("args")
	require.Equal(t, KindSequence, args.Kind)
	require.Len(t, args.Seq, 3)
	assert.Equal(t, int64(1), args.Seq[0].Value)
	assert.Equal(t, true, args.Seq[1].Value)
	assert.Equal(t, "x", args.Seq[2].Value)
}

func TestLoad_ScalarTyping(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want any
	}{
		{"int", "v: 42", int64(42)},
		{"float", "v: 4.5", 4.5},
		{"bool", "v: false", false},
		{"string", "v: hello", "hello"},
		{"quoted number stays string", `v: "42"`, "42"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root, err := Load([]byte(tc.doc), "", FormatYAML)
			require.NoError(t, err)
			assert.Equal(t, tc.want, root.Get("v").Value)
		})
	}
}

func TestLoad_NullValues(t *testing.T) {
	root, err := Load([]byte("a: null\nb: ~\nc: 1\n"), "", FormatYAML)
	require.NoError(t, err)
	assert.True(t, root.Get("a").IsNull())
	assert.True(t, root.Get("b").IsNull())
	assert.True(t, root.Get("missing").IsNull())
	assert.False(t, root.Get("c").IsNull())
}

func TestLoad_JSONDocument(t *testing.T) {
	doc := []byte(`{"version": 1, "tests": [{"name": "t"}]}`)

	root, err := Load(doc, "spec.json", FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, int64(1), root.Get("version").Value)
	tests := root.Get("tests")
	require.Equal(t, KindSequence, tests.Kind)
	assert.Equal(t, "t", tests.Seq[0].Get("name").Value)
}

func TestLoad_MalformedYAMLReportsPosition(t *testing.T) {
	_, err := Load([]byte("a: [1, 2\nb: 3\n"), "bad.yaml", FormatYAML)
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "bad.yaml", perr.Source)
	assert.Contains(t, perr.Error(), "bad.yaml")
}

func TestLoad_MalformedJSONReportsPosition(t *testing.T) {
	_, err := Load([]byte("{\n  \"a\": 1,\n}"), "bad.json", FormatJSON)
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.Pos.Line)
}

func TestLoad_DuplicateKeysRejected(t *testing.T) {
	_, err := Load([]byte("exec:\n  cmd: ./a\n  cmd: ./b\n"), "dup.yaml", FormatYAML)
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.Pos.Line)
	assert.Contains(t, perr.Message, `duplicate key "cmd"`)
	assert.Contains(t, perr.Message, "2:3")

	// JSON accepts duplicate members syntactically, so the same check
	// has to fire at conversion time there too.
	_, err = Load([]byte(`{"cmd": "./a", "cmd": "./b"}`), "dup.json", FormatJSON)
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Message, `duplicate key "cmd"`)
}

func TestLoad_MappingOrderPreserved(t *testing.T) {
	root, err := Load([]byte("z: 1\na: 2\nm: 3\n"), "", FormatYAML)
	require.NoError(t, err)
	keys := make([]string, 0, len(root.Map))
	for _, e := range root.Map {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)
}
