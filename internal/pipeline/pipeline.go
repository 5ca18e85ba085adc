// Package pipeline applies a stream's ordered operations to a captured
// value: filters transform the running value, checks evaluate it and
// record outcomes without altering what later checks see.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/heig-tin-info/baygon2/internal/sandbox"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

// Outcome is the result of one check (or one failed filter).
type Outcome struct {
	// Stream names the checked stream: stdout, stderr, exit or a file.
	Stream string `json:"stream"`
	// Op is the operation's registry name.
	Op   string `json:"op"`
	Pass bool   `json:"pass"`
	// Message describes a failure in terms of the observed value.
	Message string `json:"message,omitempty"`
	// Explain is the operation's rendered explain template, if any.
	Explain string `json:"explain,omitempty"`
}

// Policy controls failure handling within one stream. The default
// evaluates every check for maximal diagnostics; FailFast stops the
// stream at its first failing check.
type Policy struct {
	FailFast bool
}

// Apply runs the operations in declared order and returns the recorded
// outcomes. Filters that fail (bad eval, plugin error) contribute a
// failed outcome and leave the running value unchanged.
func Apply(stream, value string, ops []*schema.Op, ctx *sandbox.Context, reg *schema.Registry, policy Policy) []Outcome {
	var outcomes []Outcome
	current := value

	for _, op := range ops {
		if op.IsFilter() {
			next, err := applyFilter(op, current, ctx, reg)
			if err != nil {
				outcomes = append(outcomes, failed(stream, op, ctx, err.Error()))
				if policy.FailFast {
					return outcomes
				}
				continue
			}
			current = next
			continue
		}

		result := runCheck(stream, op, current, ctx, reg, policy)
		outcomes = append(outcomes, result...)
		if policy.FailFast {
			for _, o := range result {
				if !o.Pass {
					return outcomes
				}
			}
		}
	}
	return outcomes
}

func applyFilter(op *schema.Op, value string, ctx *sandbox.Context, reg *schema.Registry) (string, error) {
	switch op.Kind {
	case schema.OpTrim:
		return strings.TrimSpace(value), nil
	case schema.OpLower:
		return strings.ToLower(value), nil
	case schema.OpUpper:
		return strings.ToUpper(value), nil
	case schema.OpIgnoreSpaces:
		return strings.ReplaceAll(value, " ", ""), nil
	case schema.OpReplace:
		return strings.ReplaceAll(value, op.Pattern, op.Replacement), nil
	case schema.OpSub:
		re, err := op.CompileRegex()
		if err != nil {
			return "", err
		}
		return re.ReplaceAllString(value, op.Repl), nil
	case schema.OpMapEval:
		result, err := evalWithValue(ctx, op.Expr, value)
		if err != nil {
			return "", err
		}
		return sandbox.FormatValue(result), nil
	case schema.OpPluginFilter:
		fn, ok := reg.Filter(op.Name)
		if !ok {
			return "", fmt.Errorf("filter %q is not registered", op.Name)
		}
		arg, err := ctx.Render(op.Value)
		if err != nil {
			return "", err
		}
		return fn(value, arg)
	}
	return "", fmt.Errorf("unknown filter %q", op.Kind)
}

// evalWithValue binds the running stream value as "value" for the
// duration of one expression, then restores the previous binding so the
// name does not leak into later templates on other streams.
func evalWithValue(ctx *sandbox.Context, expr, value string) (any, error) {
	prev, had := ctx.Get("value")
	ctx.Set("value", value)
	defer func() {
		if had {
			ctx.Set("value", prev)
		} else {
			ctx.Unset("value")
		}
	}()
	return ctx.Eval(expr)
}

func runCheck(stream string, op *schema.Op, value string, ctx *sandbox.Context, reg *schema.Registry, policy Policy) []Outcome {
	switch op.Kind {
	case schema.OpMatch:
		re, err := op.CompileRegex()
		if err != nil {
			return []Outcome{failed(stream, op, ctx, err.Error())}
		}
		if re.MatchString(value) {
			return []Outcome{passed(stream, op)}
		}
		return []Outcome{failed(stream, op, ctx, fmt.Sprintf("%q does not match /%s/", value, op.Regex))}

	case schema.OpContains, schema.OpNotContains, schema.OpEquals, schema.OpNotEquals:
		expected, err := ctx.Render(op.Value)
		if err != nil {
			return []Outcome{failed(stream, op, ctx, err.Error())}
		}
		var ok bool
		var msg string
		switch op.Kind {
		case schema.OpContains:
			ok = strings.Contains(value, expected)
			msg = fmt.Sprintf("%q does not contain %q", value, expected)
		case schema.OpNotContains:
			ok = !strings.Contains(value, expected)
			msg = fmt.Sprintf("%q contains %q", value, expected)
		case schema.OpEquals:
			ok = value == expected
			msg = fmt.Sprintf("got %q, want %q", value, expected)
		case schema.OpNotEquals:
			ok = value != expected
			msg = fmt.Sprintf("got %q, want anything else", value)
		}
		if ok {
			return []Outcome{passed(stream, op)}
		}
		return []Outcome{failed(stream, op, ctx, msg)}

	case schema.OpLt, schema.OpLte, schema.OpGt, schema.OpGte:
		return []Outcome{numericCheck(stream, op, value, ctx)}

	case schema.OpCheckEval:
		result, err := evalWithValue(ctx, op.Expr, value)
		if err != nil {
			return []Outcome{failed(stream, op, ctx, err.Error())}
		}
		ok, isBool := result.(bool)
		if !isBool {
			return []Outcome{failed(stream, op, ctx,
				fmt.Sprintf("expression %q returned %v, want a boolean", op.Expr, result))}
		}
		if ok {
			return []Outcome{passed(stream, op)}
		}
		return []Outcome{failed(stream, op, ctx, fmt.Sprintf("expression %q is false for %q", op.Expr, value))}

	case schema.OpCapture:
		return runCapture(stream, op, value, ctx, reg, policy)

	case schema.OpPluginCheck:
		fn, ok := reg.Check(op.Name)
		if !ok {
			return []Outcome{failed(stream, op, ctx, fmt.Sprintf("check %q is not registered", op.Name))}
		}
		arg, err := ctx.Render(op.Value)
		if err != nil {
			return []Outcome{failed(stream, op, ctx, err.Error())}
		}
		pass, detail, err := fn(value, arg)
		if err != nil {
			return []Outcome{failed(stream, op, ctx, err.Error())}
		}
		if pass {
			return []Outcome{passed(stream, op)}
		}
		if detail == "" {
			detail = fmt.Sprintf("%s failed for %q", op.Name, value)
		}
		return []Outcome{failed(stream, op, ctx, detail)}
	}
	return []Outcome{failed(stream, op, ctx, fmt.Sprintf("unknown check %q", op.Kind))}
}

// numericCheck coerces both operands to floats. A value that cannot be
// coerced fails the check with a coercion message, it never aborts the
// stream.
func numericCheck(stream string, op *schema.Op, value string, ctx *sandbox.Context) Outcome {
	got, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return failed(stream, op, ctx, fmt.Sprintf("cannot coerce %q to a number", value))
	}

	want := op.Number
	if strings.Contains(op.Value, "{{") {
		rendered, rerr := ctx.Render(op.Value)
		if rerr != nil {
			return failed(stream, op, ctx, rerr.Error())
		}
		want, rerr = strconv.ParseFloat(strings.TrimSpace(rendered), 64)
		if rerr != nil {
			return failed(stream, op, ctx, fmt.Sprintf("cannot coerce threshold %q to a number", rendered))
		}
	}

	var ok bool
	var rel string
	switch op.Kind {
	case schema.OpLt:
		ok, rel = got < want, "<"
	case schema.OpLte:
		ok, rel = got <= want, "<="
	case schema.OpGt:
		ok, rel = got > want, ">"
	case schema.OpGte:
		ok, rel = got >= want, ">="
	}
	if ok {
		return passed(stream, op)
	}
	return failed(stream, op, ctx, fmt.Sprintf("expected %v %s %v", got, rel, want))
}

// runCapture extracts the configured group's first match and runs the
// nested operations against it as an independent sub-stream. Without a
// match, every nested check fails explicitly.
func runCapture(stream string, op *schema.Op, value string, ctx *sandbox.Context, reg *schema.Registry, policy Policy) []Outcome {
	re, err := op.CompileRegex()
	if err != nil {
		return []Outcome{failed(stream, op, ctx, err.Error())}
	}

	sub := stream + ":" + op.Regex
	m := re.FindStringSubmatch(value)
	if m == nil || op.Group >= len(m) {
		outcomes := []Outcome{failed(stream, op, ctx, fmt.Sprintf("no match for /%s/ in %q", op.Regex, value))}
		for _, nested := range op.Tests {
			if !nested.IsFilter() {
				outcomes = append(outcomes, failed(sub, nested, ctx, "no captured value"))
			}
		}
		return outcomes
	}
	return Apply(sub, m[op.Group], op.Tests, ctx, reg, policy)
}

func passed(stream string, op *schema.Op) Outcome {
	return Outcome{Stream: stream, Op: op.DisplayName(), Pass: true}
}

func failed(stream string, op *schema.Op, ctx *sandbox.Context, message string) Outcome {
	out := Outcome{Stream: stream, Op: op.DisplayName(), Message: message}
	if op.Explain != "" {
		if rendered, err := ctx.Render(op.Explain); err == nil {
			out.Explain = rendered
		} else {
			out.Explain = op.Explain
		}
	}
	return out
}
