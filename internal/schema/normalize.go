package schema

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/heig-tin-info/baygon2/internal/loader"
)

// Normalize validates a raw document and converts it to the canonical
// model. Operation names are resolved against the registry; unknown
// names fail with a SchemaError carrying suggestions. Normalizing an
// already-canonical document is a no-op: both the compact and the
// canonical form of every operation produce identical Ops.
func Normalize(root *loader.Node, reg *Registry) (*Spec, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	if root == nil || root.Kind != loader.KindMapping {
		return nil, schemaErrorf("", position(root), "the root document must be a mapping")
	}

	spec := &Spec{Version: 1}
	for _, entry := range root.Map {
		switch entry.Key {
		case "version":
			v, err := intValue(entry.Value, "version")
			if err != nil {
				return nil, err
			}
			spec.Version = int(v)
		case "exec":
			ec, err := normalizeExec(entry.Value, "exec")
			if err != nil {
				return nil, err
			}
			spec.Exec = ec
		case "filters":
			ops, err := normalizeOps(entry.Value, "filters", reg, true)
			if err != nil {
				return nil, err
			}
			spec.Filters = ops
		case "tests":
			if entry.Value.Kind != loader.KindSequence {
				return nil, schemaErrorf("tests", entry.Value.Pos, "tests must be a sequence")
			}
			for i, item := range entry.Value.Seq {
				node, err := normalizeTest(item, fmt.Sprintf("tests[%d]", i), reg)
				if err != nil {
					return nil, err
				}
				spec.Tests = append(spec.Tests, node)
			}
		default:
			return nil, unknownKey(entry.Key, "", entry.KeyPos,
				[]string{"version", "exec", "filters", "tests"})
		}
	}

	if len(spec.Tests) == 0 {
		return nil, schemaErrorf("tests", root.Pos, "at least one test is required")
	}
	return spec, nil
}

var testNodeKeys = []string{
	"name", "description", "tests", "filters", "setup", "teardown",
	"repeat", "matrix", "seed", "stdout", "stderr", "files", "exit",
	"exec", "cmd", "timeout", "stdin", "args", "env", "cwd", "shell",
	"limits", "ulimit",
}

func normalizeTest(node *loader.Node, path string, reg *Registry) (*TestNode, error) {
	if node == nil || node.Kind != loader.KindMapping {
		return nil, schemaErrorf(path, position(node), "each test must be a mapping")
	}

	test := &TestNode{Repeat: 1, Pos: node.Pos}
	for _, entry := range node.Map {
		key, val := entry.Key, entry.Value
		sub := path + "." + key
		var err error
		switch key {
		case "name":
			test.Name, err = stringValue(val, sub)
		case "description":
			test.Description, err = stringValue(val, sub)
		case "tests":
			if val.Kind != loader.KindSequence {
				return nil, schemaErrorf(sub, val.Pos, "tests must be a sequence")
			}
			for i, item := range val.Seq {
				child, cerr := normalizeTest(item, fmt.Sprintf("%s[%d]", sub, i), reg)
				if cerr != nil {
					return nil, cerr
				}
				test.Tests = append(test.Tests, child)
			}
		case "filters":
			test.Filters, err = normalizeOps(val, sub, reg, true)
		case "setup":
			test.Setup, err = normalizeHooks(val, sub)
		case "teardown":
			test.Teardown, err = normalizeHooks(val, sub)
		case "repeat":
			var n int64
			n, err = intValue(val, sub)
			if err == nil && n < 1 {
				err = schemaErrorf(sub, val.Pos, "repeat must be at least 1, got %d", n)
			}
			test.Repeat = int(n)
		case "matrix":
			test.Matrix, err = normalizeMatrix(val, sub)
		case "seed":
			var n int64
			n, err = intValue(val, sub)
			test.Seed = &n
		case "stdout":
			test.Stdout, err = normalizeOps(val, sub, reg, false)
		case "stderr":
			test.Stderr, err = normalizeOps(val, sub, reg, false)
		case "files":
			test.Files, err = normalizeFiles(val, sub, reg)
		case "exit":
			test.Exit, err = normalizeExit(val, sub, reg)
		case "exec":
			test.Exec, err = normalizeExec(val, sub)
		case "cmd", "timeout", "stdin", "args", "env", "cwd", "shell", "limits", "ulimit":
			// Convenience: exec fields may appear directly on the node.
			err = normalizeExecField(&test.Exec, key, val, sub)
		default:
			return nil, unknownKey(key, path, entry.KeyPos, testNodeKeys)
		}
		if err != nil {
			return nil, err
		}
	}

	if test.Name == "" {
		return nil, schemaErrorf(path, node.Pos, "every test needs a name")
	}
	return test, nil
}

func normalizeExec(node *loader.Node, path string) (ExecContext, error) {
	var ec ExecContext
	if node.IsNull() {
		return ec, nil
	}
	if node.Kind != loader.KindMapping {
		return ec, schemaErrorf(path, node.Pos, "exec must be a mapping")
	}
	for _, entry := range node.Map {
		if err := normalizeExecField(&ec, entry.Key, entry.Value, path+"."+entry.Key); err != nil {
			return ec, err
		}
	}
	return ec, nil
}

var execKeys = []string{"cmd", "timeout", "stdin", "args", "env", "cwd", "shell", "limits", "ulimit"}

func normalizeExecField(ec *ExecContext, key string, val *loader.Node, path string) error {
	if val.IsNull() {
		// An explicit null leaves the field unset so it defers to the
		// nearest ancestor, same as omitting the key.
		if !slices.Contains(execKeys, key) {
			return unknownKey(key, path, position(val), execKeys)
		}
		return nil
	}
	switch key {
	case "cmd":
		if val.Kind == loader.KindSequence {
			argv := make([]string, 0, len(val.Seq))
			for _, item := range val.Seq {
				s, err := scalarString(item, path)
				if err != nil {
					return err
				}
				argv = append(argv, s)
			}
			if len(argv) == 0 {
				return schemaErrorf(path, val.Pos, "cmd must not be empty")
			}
			ec.Cmd = argv
			return nil
		}
		s, err := stringValue(val, path)
		if err != nil {
			return err
		}
		ec.Cmd = []string{s}
	case "timeout":
		d, err := durationValue(val, path)
		if err != nil {
			return err
		}
		ec.Timeout = &d
	case "stdin":
		stdin, err := normalizeStdin(val, path)
		if err != nil {
			return err
		}
		ec.Stdin = stdin
	case "args":
		items := val.Seq
		if val.Kind == loader.KindScalar {
			items = []*loader.Node{val}
		}
		args := make([]string, 0, len(items))
		for _, item := range items {
			s, err := scalarString(item, path)
			if err != nil {
				return err
			}
			args = append(args, s)
		}
		ec.Args = args
	case "env":
		if val.Kind != loader.KindMapping {
			return schemaErrorf(path, position(val), "env must be a mapping")
		}
		env := make(map[string]string, len(val.Map))
		for _, e := range val.Map {
			s, err := scalarString(e.Value, path+"."+e.Key)
			if err != nil {
				return err
			}
			env[e.Key] = s
		}
		ec.Env = env
	case "cwd":
		s, err := stringValue(val, path)
		if err != nil {
			return err
		}
		ec.Cwd = &s
	case "shell":
		b, ok := val.Value.(bool)
		if !ok {
			return schemaErrorf(path, position(val), "shell must be a boolean")
		}
		ec.Shell = &b
	case "limits", "ulimit":
		limits, err := normalizeLimits(val, path)
		if err != nil {
			return err
		}
		ec.Limits = limits
	default:
		return unknownKey(key, path, position(val), execKeys)
	}
	return nil
}

func normalizeStdin(val *loader.Node, path string) (*Stdin, error) {
	switch val.Kind {
	case loader.KindScalar:
		return &Stdin{Value: scalarText(val)}, nil
	case loader.KindSequence:
		lines := make([]string, 0, len(val.Seq))
		for _, item := range val.Seq {
			s, err := scalarString(item, path)
			if err != nil {
				return nil, err
			}
			lines = append(lines, s)
		}
		return &Stdin{Lines: lines}, nil
	case loader.KindMapping:
		stdin := &Stdin{}
		for _, e := range val.Map {
			switch e.Key {
			case "lines":
				if e.Value.Kind != loader.KindSequence {
					return nil, schemaErrorf(path, e.Value.Pos, "stdin.lines must be a sequence")
				}
				lines := make([]string, 0, len(e.Value.Seq))
				for _, item := range e.Value.Seq {
					s, err := scalarString(item, path)
					if err != nil {
						return nil, err
					}
					lines = append(lines, s)
				}
				stdin.Lines = lines
			case "join":
				s, err := stringValue(e.Value, path+".join")
				if err != nil {
					return nil, err
				}
				stdin.Joiner = s
			default:
				return nil, unknownKey(e.Key, path, e.KeyPos, []string{"lines", "join"})
			}
		}
		if stdin.Lines == nil {
			return nil, schemaErrorf(path, val.Pos, "stdin mapping requires lines")
		}
		return stdin, nil
	}
	return nil, schemaErrorf(path, position(val), "stdin must be a string, a sequence of lines or {lines, join}")
}

func normalizeLimits(val *loader.Node, path string) (*Limits, error) {
	if val.Kind != loader.KindMapping {
		return nil, schemaErrorf(path, position(val), "limits must be a mapping")
	}
	limits := &Limits{}
	for _, e := range val.Map {
		n, err := intValue(e.Value, path+"."+e.Key)
		if err != nil {
			return nil, err
		}
		switch e.Key {
		case "cpu":
			limits.CPU = n
		case "mem", "memory":
			limits.Memory = n
		case "nofile", "files":
			limits.NoFile = n
		default:
			return nil, unknownKey(e.Key, path, e.KeyPos, []string{"cpu", "memory", "nofile"})
		}
	}
	return limits, nil
}

func normalizeMatrix(val *loader.Node, path string) ([]MatrixAxis, error) {
	if val.Kind != loader.KindMapping {
		return nil, schemaErrorf(path, position(val), "matrix must map variable names to value sequences")
	}
	axes := make([]MatrixAxis, 0, len(val.Map))
	for _, e := range val.Map {
		if e.Value.Kind != loader.KindSequence || len(e.Value.Seq) == 0 {
			return nil, schemaErrorf(path+"."+e.Key, position(e.Value), "matrix values must be a non-empty sequence")
		}
		values := make([]any, 0, len(e.Value.Seq))
		for _, item := range e.Value.Seq {
			if item.Kind != loader.KindScalar {
				return nil, schemaErrorf(path+"."+e.Key, position(item), "matrix values must be scalars")
			}
			values = append(values, item.Value)
		}
		axes = append(axes, MatrixAxis{Name: e.Key, Values: values})
	}
	return axes, nil
}

func normalizeHooks(val *loader.Node, path string) ([]HookStep, error) {
	if val.IsNull() {
		return nil, nil
	}
	if val.Kind != loader.KindSequence {
		return nil, schemaErrorf(path, position(val), "hooks must be a sequence")
	}
	hooks := make([]HookStep, 0, len(val.Seq))
	for i, item := range val.Seq {
		sub := fmt.Sprintf("%s[%d]", path, i)
		if item.Kind != loader.KindMapping || len(item.Map) != 1 {
			return nil, schemaErrorf(sub, position(item), "each hook must be {run: ...} or {eval: ...}")
		}
		entry := item.Map[0]
		if entry.Key != string(HookRun) && entry.Key != string(HookEval) {
			return nil, unknownKey(entry.Key, sub, entry.KeyPos, []string{"run", "eval"})
		}
		s, err := scalarString(entry.Value, sub)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, HookStep{Kind: HookKind(entry.Key), Value: s})
	}
	return hooks, nil
}

func normalizeFiles(val *loader.Node, path string, reg *Registry) ([]FileStream, error) {
	if val.Kind != loader.KindMapping {
		return nil, schemaErrorf(path, position(val), "files must map file names to operation lists")
	}
	out := make([]FileStream, 0, len(val.Map))
	for _, e := range val.Map {
		spec, err := normalizeFileSpec(e.Value, path+"."+e.Key, reg)
		if err != nil {
			return nil, err
		}
		out = append(out, FileStream{Name: e.Key, Spec: spec})
	}
	return out, nil
}

func normalizeFileSpec(val *loader.Node, path string, reg *Registry) (*FileSpec, error) {
	switch val.Kind {
	case loader.KindSequence:
		ops, err := normalizeOps(val, path, reg, false)
		if err != nil {
			return nil, err
		}
		return &FileSpec{Ops: ops}, nil
	case loader.KindMapping:
		if ops := val.Get("ops"); ops != nil {
			normalized, err := normalizeOps(ops, path+".ops", reg, false)
			if err != nil {
				return nil, err
			}
			return &FileSpec{Ops: normalized}, nil
		}
		// {filters: [...], checks: [...]} flattens to filters then checks.
		filters, err := normalizeOps(val.Get("filters"), path+".filters", reg, true)
		if err != nil {
			return nil, err
		}
		checks, err := normalizeOps(val.Get("checks"), path+".checks", reg, false)
		if err != nil {
			return nil, err
		}
		if filters == nil && checks == nil {
			return nil, schemaErrorf(path, val.Pos, "a file spec must list operations, {ops: [...]} or {filters, checks}")
		}
		return &FileSpec{Ops: append(filters, checks...)}, nil
	}
	return nil, schemaErrorf(path, position(val), "a file spec must be a sequence of operations")
}

func normalizeExit(val *loader.Node, path string, reg *Registry) (*ExitSpec, error) {
	if val.IsNull() {
		return nil, nil
	}
	if val.Kind == loader.KindScalar {
		n, err := intValue(val, path)
		if err != nil {
			return nil, err
		}
		return &ExitSpec{Ops: []*Op{{Kind: OpEquals, Value: strconv.FormatInt(n, 10)}}}, nil
	}
	ops, err := normalizeOps(val, path, reg, false)
	if err != nil {
		return nil, err
	}
	return &ExitSpec{Ops: ops}, nil
}

// normalizeOps converts a sequence of single-key operation mappings.
// When filtersOnly is set, check operations are rejected (used for the
// inherited filters lists, which never contain assertions).
func normalizeOps(val *loader.Node, path string, reg *Registry, filtersOnly bool) ([]*Op, error) {
	if val.IsNull() {
		return nil, nil
	}
	if val.Kind != loader.KindSequence {
		return nil, schemaErrorf(path, position(val), "operations must be a sequence")
	}
	ops := make([]*Op, 0, len(val.Seq))
	for i, item := range val.Seq {
		sub := fmt.Sprintf("%s[%d]", path, i)
		if item.Kind != loader.KindMapping || len(item.Map) != 1 {
			return nil, schemaErrorf(sub, position(item), "each operation must be a mapping with exactly one key")
		}
		entry := item.Map[0]
		op, err := normalizeOp(entry, sub, reg)
		if err != nil {
			return nil, err
		}
		if filtersOnly && !op.IsFilter() {
			return nil, schemaErrorf(sub, entry.KeyPos, "%q is a check; only filters are allowed here", entry.Key)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func normalizeOp(entry *loader.Entry, path string, reg *Registry) (*Op, error) {
	name, val := entry.Key, entry.Value

	if kind, ok := builtinFilters[name]; ok {
		return normalizeFilterOp(kind, val, path)
	}
	if kind, ok := builtinChecks[name]; ok {
		return normalizeCheckOp(kind, val, path, reg)
	}
	if _, ok := reg.Filter(name); ok {
		value, _, err := scalarOrValueMapping(val, path, false)
		if err != nil {
			return nil, err
		}
		return &Op{Kind: OpPluginFilter, Name: name, Value: value}, nil
	}
	if _, ok := reg.Check(name); ok {
		value, explain, err := scalarOrValueMapping(val, path, true)
		if err != nil {
			return nil, err
		}
		return &Op{Kind: OpPluginCheck, Name: name, Value: value, Explain: explain}, nil
	}

	return nil, &SchemaError{
		Path:        path,
		Pos:         entry.KeyPos,
		Name:        name,
		Suggestions: reg.Suggest(name),
	}
}

func normalizeFilterOp(kind OpKind, val *loader.Node, path string) (*Op, error) {
	op := &Op{Kind: kind}
	switch kind {
	case OpTrim, OpLower, OpUpper, OpIgnoreSpaces:
		if !val.IsNull() && !(val.Kind == loader.KindMapping && len(val.Map) == 0) {
			return nil, schemaErrorf(path, position(val), "%s takes no arguments", kind)
		}
		return op, nil

	case OpReplace:
		switch {
		case val.Kind == loader.KindSequence && len(val.Seq) == 2:
			var err error
			if op.Pattern, err = scalarString(val.Seq[0], path); err != nil {
				return nil, err
			}
			if op.Replacement, err = scalarString(val.Seq[1], path); err != nil {
				return nil, err
			}
		case val.Kind == loader.KindMapping:
			for _, e := range val.Map {
				var err error
				switch e.Key {
				case "pattern":
					op.Pattern, err = scalarString(e.Value, path+".pattern")
				case "replacement":
					op.Replacement, err = scalarString(e.Value, path+".replacement")
				default:
					err = unknownKey(e.Key, path, e.KeyPos, []string{"pattern", "replacement"})
				}
				if err != nil {
					return nil, err
				}
			}
		default:
			return nil, schemaErrorf(path, position(val), "replace takes {pattern, replacement} or a two-element sequence")
		}
		return op, nil

	case OpSub:
		if val.Kind == loader.KindScalar {
			text := scalarText(val)
			if pattern, repl, flags, ok := perlSub(text); ok {
				op.Regex, op.Repl, op.Flags = pattern, repl, flags
			} else {
				// A plain string deletes every match.
				op.Regex = text
			}
		} else if val.Kind == loader.KindMapping {
			for _, e := range val.Map {
				var err error
				switch e.Key {
				case "regex":
					op.Regex, err = stringValue(e.Value, path+".regex")
				case "repl":
					op.Repl, err = scalarString(e.Value, path+".repl")
				case "flags":
					op.Flags, err = stringValue(e.Value, path+".flags")
				default:
					err = unknownKey(e.Key, path, e.KeyPos, []string{"regex", "repl", "flags"})
				}
				if err != nil {
					return nil, err
				}
			}
		} else {
			return nil, schemaErrorf(path, position(val), "sub takes a pattern string or {regex, repl, flags}")
		}
		if _, err := op.CompileRegex(); err != nil {
			return nil, schemaErrorf(path, position(val), "%v", err)
		}
		return op, nil

	case OpMapEval:
		expr, err := exprArgument(val, path)
		if err != nil {
			return nil, err
		}
		op.Expr = expr
		return op, nil
	}
	return nil, schemaErrorf(path, position(val), "unsupported filter kind %q", kind)
}

func normalizeCheckOp(kind OpKind, val *loader.Node, path string, reg *Registry) (*Op, error) {
	op := &Op{Kind: kind}

	switch kind {
	case OpMatch:
		if val.Kind == loader.KindScalar {
			text := scalarText(val)
			if pattern, flags, ok := perlMatch(text); ok {
				op.Regex, op.Flags = pattern, flags
			} else {
				op.Regex = text
			}
		} else if val.Kind == loader.KindMapping {
			for _, e := range val.Map {
				var err error
				switch e.Key {
				case "regex":
					var text string
					if text, err = stringValue(e.Value, path+".regex"); err == nil {
						if pattern, flags, ok := perlMatch(text); ok {
							op.Regex, op.Flags = pattern, flags
						} else {
							op.Regex = text
						}
					}
				case "flags":
					op.Flags, err = stringValue(e.Value, path+".flags")
				case "explain", "explanation", "explaination":
					op.Explain, err = stringValue(e.Value, path+".explain")
				default:
					err = unknownKey(e.Key, path, e.KeyPos, []string{"regex", "flags", "explain"})
				}
				if err != nil {
					return nil, err
				}
			}
		} else {
			return nil, schemaErrorf(path, position(val), "match takes a regex string or {regex, flags}")
		}
		if _, err := op.CompileRegex(); err != nil {
			return nil, schemaErrorf(path, position(val), "%v", err)
		}
		return op, nil

	case OpContains, OpNotContains, OpEquals, OpNotEquals:
		value, explain, err := scalarOrValueMapping(val, path, true)
		if err != nil {
			return nil, err
		}
		op.Value, op.Explain = value, explain
		return op, nil

	case OpLt, OpLte, OpGt, OpGte:
		value, explain, err := scalarOrValueMapping(val, path, true)
		if err != nil {
			return nil, err
		}
		op.Explain = explain
		op.Value = value
		// Literal thresholds are validated up front; templated ones
		// ({{ ... }}) are coerced at evaluation time.
		if !strings.Contains(value, "{{") {
			n, perr := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if perr != nil {
				return nil, schemaErrorf(path, position(val), "%s needs a numeric value, got %q", kind, value)
			}
			op.Number = n
		}
		return op, nil

	case OpCheckEval:
		if val.Kind == loader.KindScalar {
			op.Expr = scalarText(val)
			return op, nil
		}
		if val.Kind == loader.KindMapping {
			for _, e := range val.Map {
				var err error
				switch e.Key {
				case "expr":
					op.Expr, err = stringValue(e.Value, path+".expr")
				case "explain", "explanation", "explaination":
					op.Explain, err = stringValue(e.Value, path+".explain")
				default:
					err = unknownKey(e.Key, path, e.KeyPos, []string{"expr", "explain"})
				}
				if err != nil {
					return nil, err
				}
			}
			if op.Expr == "" {
				return nil, schemaErrorf(path, val.Pos, "check_eval requires expr")
			}
			return op, nil
		}
		return nil, schemaErrorf(path, position(val), "check_eval takes an expression string or {expr, explain}")

	case OpCapture:
		if val.Kind != loader.KindMapping {
			return nil, schemaErrorf(path, position(val), "capture takes {regex, group, tests}")
		}
		op.Group = 1
		for _, e := range val.Map {
			var err error
			switch e.Key {
			case "regex":
				var text string
				if text, err = stringValue(e.Value, path+".regex"); err == nil {
					if pattern, flags, ok := perlMatch(text); ok {
						op.Regex, op.Flags = pattern, flags
					} else {
						op.Regex = text
					}
				}
			case "flags":
				op.Flags, err = stringValue(e.Value, path+".flags")
			case "group":
				var n int64
				if n, err = intValue(e.Value, path+".group"); err == nil {
					op.Group = int(n)
				}
			case "tests":
				op.Tests, err = normalizeOps(e.Value, path+".tests", reg, false)
			case "explain", "explanation", "explaination":
				op.Explain, err = stringValue(e.Value, path+".explain")
			default:
				err = unknownKey(e.Key, path, e.KeyPos, []string{"regex", "flags", "group", "tests", "explain"})
			}
			if err != nil {
				return nil, err
			}
		}
		if op.Regex == "" {
			return nil, schemaErrorf(path, val.Pos, "capture requires a regex")
		}
		if _, err := op.CompileRegex(); err != nil {
			return nil, schemaErrorf(path, position(val), "%v", err)
		}
		return op, nil
	}
	return nil, schemaErrorf(path, position(val), "unsupported check kind %q", kind)
}

// scalarOrValueMapping handles the dual compact/canonical argument form
// shared by value-bearing operations: a bare scalar, or a mapping with
// value and (when allowed) an explain key.
func scalarOrValueMapping(val *loader.Node, path string, allowExplain bool) (value, explain string, err error) {
	if val.IsNull() {
		return "", "", nil
	}
	if val.Kind == loader.KindScalar {
		return scalarText(val), "", nil
	}
	if val.Kind == loader.KindMapping {
		seen := false
		for _, e := range val.Map {
			switch e.Key {
			case "value":
				if e.Value.Kind != loader.KindScalar {
					return "", "", schemaErrorf(path+".value", position(e.Value), "value must be a scalar")
				}
				value = scalarText(e.Value)
				seen = true
			case "explain", "explanation", "explaination":
				if !allowExplain {
					return "", "", unknownKey(e.Key, path, e.KeyPos, []string{"value"})
				}
				if explain, err = stringValue(e.Value, path+".explain"); err != nil {
					return "", "", err
				}
			default:
				keys := []string{"value"}
				if allowExplain {
					keys = append(keys, "explain")
				}
				return "", "", unknownKey(e.Key, path, e.KeyPos, keys)
			}
		}
		if !seen {
			return "", "", schemaErrorf(path, val.Pos, "missing value")
		}
		return value, explain, nil
	}
	return "", "", schemaErrorf(path, position(val), "expected a scalar or {value, explain}")
}

func exprArgument(val *loader.Node, path string) (string, error) {
	if val.Kind == loader.KindScalar {
		return scalarText(val), nil
	}
	if val.Kind == loader.KindMapping {
		if expr := val.Get("expr"); expr != nil {
			return stringValue(expr, path+".expr")
		}
	}
	return "", schemaErrorf(path, position(val), "expected an expression string or {expr: ...}")
}

// --- scalar coercion helpers -------------------------------------------

// scalarText renders a scalar node in its canonical textual form:
// booleans as true/false, integers in base 10, floats in their shortest
// representation, strings as written.
func scalarText(n *loader.Node) string {
	switch v := n.Value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	}
	return n.Raw
}

func scalarString(n *loader.Node, path string) (string, error) {
	if n == nil || n.Kind != loader.KindScalar {
		return "", schemaErrorf(path, position(n), "expected a scalar")
	}
	return scalarText(n), nil
}

func stringValue(n *loader.Node, path string) (string, error) {
	if n == nil || n.Kind != loader.KindScalar {
		return "", schemaErrorf(path, position(n), "expected a string")
	}
	if s, ok := n.Value.(string); ok {
		return s, nil
	}
	return scalarText(n), nil
}

func intValue(n *loader.Node, path string) (int64, error) {
	if n == nil || n.Kind != loader.KindScalar {
		return 0, schemaErrorf(path, position(n), "expected an integer")
	}
	switch v := n.Value.(type) {
	case int64:
		return v, nil
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed, nil
		}
	}
	return 0, schemaErrorf(path, n.Pos, "expected an integer, got %q", n.Raw)
}

// durationValue accepts either a bare number of seconds or a Go
// duration string ("1500ms").
func durationValue(n *loader.Node, path string) (time.Duration, error) {
	if n == nil || n.Kind != loader.KindScalar {
		return 0, schemaErrorf(path, position(n), "expected a duration")
	}
	switch v := n.Value.(type) {
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
	}
	return 0, schemaErrorf(path, n.Pos, "expected seconds or a duration string, got %q", n.Raw)
}

func position(n *loader.Node) loader.Position {
	if n == nil {
		return loader.Position{}
	}
	return n.Pos
}

func unknownKey(key, path string, pos loader.Position, known []string) *SchemaError {
	suggestions := make([]string, 0, 3)
	for _, candidate := range known {
		if fuzzy.LevenshteinDistance(key, candidate) <= 2 {
			suggestions = append(suggestions, candidate)
		}
	}
	return &SchemaError{
		Path:        path,
		Pos:         pos,
		Message:     fmt.Sprintf("unknown key %q", key),
		Suggestions: suggestions,
	}
}
