package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/heig-tin-info/baygon2/internal/schema"
)

// Dump renders the resolved forest as canonical JSON: object keys
// sorted, strings NFC normalized, no HTML escaping, no insignificant
// whitespace. Two documents that resolve to the same effective tree
// produce byte-identical dumps, which makes the output diffable and
// safe to commit as a golden file.
func Dump(forest []*EffectiveNode) ([]byte, error) {
	tests := make([]any, 0, len(forest))
	for _, node := range forest {
		tests = append(tests, nodeValue(node))
	}
	return marshalCanonical(map[string]any{"tests": tests})
}

func nodeValue(n *EffectiveNode) map[string]any {
	out := map[string]any{
		"id":   n.ID,
		"name": n.Name,
		"exec": execValue(n.Exec),
	}
	if n.Description != "" {
		out["description"] = n.Description
	}
	if len(n.Filters) > 0 {
		out["filters"] = opsValue(n.Filters)
	}
	if len(n.Setup) > 0 {
		out["setup"] = hooksValue(n.Setup)
	}
	if len(n.Teardown) > 0 {
		out["teardown"] = hooksValue(n.Teardown)
	}
	if n.Repeat > 1 {
		out["repeat"] = n.Repeat
	}
	if len(n.Matrix) > 0 {
		matrix := make([]any, 0, len(n.Matrix))
		for _, axis := range n.Matrix {
			matrix = append(matrix, map[string]any{"name": axis.Name, "values": axis.Values})
		}
		out["matrix"] = matrix
	}
	if n.Seed != nil {
		out["seed"] = *n.Seed
	}
	if n.Stdout != nil {
		out["stdout"] = opsValue(n.Stdout)
	}
	if n.Stderr != nil {
		out["stderr"] = opsValue(n.Stderr)
	}
	if len(n.Files) > 0 {
		files := make([]any, 0, len(n.Files))
		for _, f := range n.Files {
			files = append(files, map[string]any{"name": f.Name, "ops": opsValue(f.Spec.Ops)})
		}
		out["files"] = files
	}
	if n.Exit != nil {
		out["exit"] = opsValue(n.Exit.Ops)
	}
	if len(n.Children) > 0 {
		children := make([]any, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, nodeValue(child))
		}
		out["tests"] = children
	}
	return out
}

func execValue(ec schema.ExecContext) map[string]any {
	out := map[string]any{"cmd": stringsValue(ec.Cmd)}
	if ec.Timeout != nil {
		out["timeout"] = ec.Timeout.String()
	}
	if ec.Stdin != nil {
		out["stdin"] = ec.Stdin.Render()
	}
	if ec.Args != nil {
		out["args"] = stringsValue(ec.Args)
	}
	if len(ec.Env) > 0 {
		env := make(map[string]any, len(ec.Env))
		for k, v := range ec.Env {
			env[k] = v
		}
		out["env"] = env
	}
	if ec.Cwd != nil {
		out["cwd"] = *ec.Cwd
	}
	if ec.Shell != nil {
		out["shell"] = *ec.Shell
	}
	if ec.Limits != nil {
		out["limits"] = map[string]any{
			"cpu":    ec.Limits.CPU,
			"memory": ec.Limits.Memory,
			"nofile": ec.Limits.NoFile,
		}
	}
	return out
}

func opsValue(ops []*schema.Op) []any {
	out := make([]any, 0, len(ops))
	for _, op := range ops {
		entry := map[string]any{"op": op.DisplayName()}
		if op.Explain != "" {
			entry["explain"] = op.Explain
		}
		switch op.Kind {
		case schema.OpReplace:
			entry["pattern"] = op.Pattern
			entry["replacement"] = op.Replacement
		case schema.OpSub:
			entry["regex"] = op.Regex
			entry["repl"] = op.Repl
			if op.Flags != "" {
				entry["flags"] = op.Flags
			}
		case schema.OpMatch:
			entry["regex"] = op.Regex
			if op.Flags != "" {
				entry["flags"] = op.Flags
			}
		case schema.OpCapture:
			entry["regex"] = op.Regex
			if op.Flags != "" {
				entry["flags"] = op.Flags
			}
			entry["group"] = op.Group
			entry["tests"] = opsValue(op.Tests)
		case schema.OpMapEval, schema.OpCheckEval:
			entry["expr"] = op.Expr
		case schema.OpContains, schema.OpNotContains, schema.OpEquals, schema.OpNotEquals,
			schema.OpLt, schema.OpLte, schema.OpGt, schema.OpGte,
			schema.OpPluginFilter, schema.OpPluginCheck:
			if op.Value != "" {
				entry["value"] = op.Value
			}
		}
		out = append(out, entry)
	}
	return out
}

func hooksValue(hooks []schema.HookStep) []any {
	out := make([]any, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, map[string]any{string(h.Kind): h.Value})
	}
	return out
}

func stringsValue(items []string) []any {
	out := make([]any, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	return out
}

// --- canonical encoder -------------------------------------------------

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return canonicalString(val)
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case int:
		return []byte(strconv.Itoa(val)), nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case float64:
		return []byte(strconv.FormatFloat(val, 'g', -1, 64)), nil
	case time.Duration:
		return canonicalString(val.String())
	case []any:
		return canonicalArray(val)
	case map[string]any:
		return canonicalObject(val)
	}
	return nil, fmt.Errorf("unsupported type in canonical JSON: %T", v)
}

// canonicalString NFC-normalizes and encodes without HTML escaping, so
// regexes with < > & stay readable in the dump.
func canonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func canonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func canonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := canonicalString(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
