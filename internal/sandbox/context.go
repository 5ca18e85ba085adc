// Package sandbox owns per-test-case variable state, the {{ ... }}
// template renderer and the restricted expression evaluator shared by
// templates, map_eval filters and check_eval checks.
package sandbox

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

var (
	mustacheRE = regexp.MustCompile(`(?s)\{\{\s*(.+?)\s*\}\}`)
	postIncRE  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\+\+$`)
	preIncRE   = regexp.MustCompile(`^\+\+\s*([A-Za-z_][A-Za-z0-9_]*)$`)
)

// Context is the mutable variable environment of one test case. It is
// owned by a single worker and never shared, so it needs no locking.
type Context struct {
	vars map[string]any
	rng  *rand.Rand
}

// New creates a context seeded once for the whole repeat group.
func New(seed int64) *Context {
	return &Context{
		vars: make(map[string]any),
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Set stores a variable. Values are string, bool, int64 or float64.
func (c *Context) Set(name string, value any) {
	c.vars[name] = value
}

// Get returns a variable and whether it is defined.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Unset removes a variable so later lookups fail again.
func (c *Context) Unset(name string) {
	delete(c.vars, name)
}

// Eval evaluates one expression against the current variables. The
// whole-expression forms "x++" and "++x" are recognized before generic
// parsing; both require x to already hold a number.
func (c *Context) Eval(expr string) (any, error) {
	trimmed := strings.TrimSpace(expr)
	if m := postIncRE.FindStringSubmatch(trimmed); m != nil {
		return c.increment(m[1], false)
	}
	if m := preIncRE.FindStringSubmatch(trimmed); m != nil {
		return c.increment(m[1], true)
	}
	return evaluate(trimmed, c.vars, c.rng)
}

func (c *Context) increment(name string, pre bool) (any, error) {
	current, ok := c.vars[name]
	if !ok {
		return nil, evalErrorf(name, "unknown identifier %q", name)
	}
	switch n := current.(type) {
	case int64:
		c.vars[name] = n + 1
		if pre {
			return n + 1, nil
		}
		return n, nil
	case float64:
		c.vars[name] = n + 1
		if pre {
			return n + 1, nil
		}
		return n, nil
	}
	return nil, evalErrorf(name, "%q must be numeric to increment", name)
}

// Render substitutes every {{ ... }} span in the template. An optional
// format verb follows the expression after a top-level colon, e.g.
// {{ score : %05.1f }}, and is applied with Sprintf semantics.
func (c *Context) Render(template string) (string, error) {
	var firstErr error
	out := mustacheRE.ReplaceAllStringFunc(template, func(span string) string {
		if firstErr != nil {
			return span
		}
		inner := mustacheRE.FindStringSubmatch(span)[1]
		expr, verb := splitFormat(inner)
		value, err := c.Eval(expr)
		if err != nil {
			firstErr = err
			return span
		}
		if verb != "" {
			return fmt.Sprintf(verb, value)
		}
		return FormatValue(value)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// splitFormat splits "expr : %verb" at the first colon outside strings
// and parentheses. Colons inside nested spans stay with the expression.
func splitFormat(inner string) (expr, verb string) {
	depth := 0
	var quote byte
	for i := 0; i < len(inner); i++ {
		ch := inner[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 {
				rest := strings.TrimSpace(inner[i+1:])
				if !strings.HasPrefix(rest, "%") {
					// Not a format verb; the colon belongs to the expression.
					continue
				}
				return strings.TrimSpace(inner[:i]), rest
			}
		}
	}
	return strings.TrimSpace(inner), ""
}
