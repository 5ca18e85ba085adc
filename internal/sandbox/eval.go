package sandbox

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// The evaluator is a small recursive-descent interpreter over a closed
// grammar: literals, identifiers, arithmetic, comparisons, boolean
// logic and a fixed set of functions. There is no way to reach the
// filesystem, the network, imports or reflection from an expression.
//
// Values are string, bool, int64 or float64. Integer arithmetic stays
// integral until a float operand appears.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind  tokenKind
	text  string
	num   float64
	int_  int64
	isInt bool
}

type lexer struct {
	src  string
	pos  int
	expr string
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}
	c := l.src[l.pos]

	switch {
	case c >= '0' && c <= '9' || c == '.' && l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9':
		start := l.pos
		isFloat := false
		for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9' || l.src[l.pos] == '.') {
			if l.src[l.pos] == '.' {
				isFloat = true
			}
			l.pos++
		}
		text := l.src[start:l.pos]
		if isFloat {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return token{}, evalErrorf(l.expr, "bad number %q", text)
			}
			return token{kind: tokNumber, text: text, num: f}, nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return token{}, evalErrorf(l.expr, "bad number %q", text)
		}
		return token{kind: tokNumber, text: text, int_: n, isInt: true}, nil

	case c == '\'' || c == '"':
		quote := c
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.src) {
			ch := l.src[l.pos]
			if ch == '\\' && l.pos+1 < len(l.src) {
				l.pos++
				switch l.src[l.pos] {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				case '\\', '\'', '"':
					sb.WriteByte(l.src[l.pos])
				default:
					sb.WriteByte('\\')
					sb.WriteByte(l.src[l.pos])
				}
				l.pos++
				continue
			}
			if ch == quote {
				l.pos++
				return token{kind: tokString, text: sb.String()}, nil
			}
			sb.WriteByte(ch)
			l.pos++
		}
		return token{}, evalErrorf(l.expr, "unterminated string literal")

	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos]}, nil

	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "("}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ","}, nil
	}

	// Multi-character operators first. "++" is only legal as the
	// whole-expression increment form handled before parsing.
	if strings.HasPrefix(l.src[l.pos:], "++") {
		return token{}, evalErrorf(l.expr, "increment is only allowed as a whole expression (x++ or ++x)")
	}
	for _, op := range []string{"==", "!=", "<=", ">=", "&&", "||"} {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += 2
			return token{kind: tokOp, text: op}, nil
		}
	}
	if strings.ContainsRune("+-*/%<>!", rune(c)) {
		l.pos++
		return token{kind: tokOp, text: string(c)}, nil
	}
	return token{}, evalErrorf(l.expr, "unexpected character %q", string(c))
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

type parser struct {
	lex  *lexer
	tok  token
	expr string
	vars map[string]any
	rng  randSource
}

type randSource interface {
	Float64() float64
	Int63n(n int64) int64
}

func evaluate(expr string, vars map[string]any, rng randSource) (any, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, evalErrorf(expr, "empty expression")
	}
	p := &parser{lex: &lexer{src: trimmed, expr: trimmed}, expr: trimmed, vars: vars, rng: rng}
	if err := p.advance(); err != nil {
		return nil, err
	}
	v, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, evalErrorf(trimmed, "unexpected trailing %q", p.tok.text)
	}
	return v, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "||" || p.tok.kind == tokIdent && p.tok.text == "or" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, err := p.truthy(left)
		if err != nil {
			return nil, err
		}
		rb, err := p.truthy(right)
		if err != nil {
			return nil, err
		}
		left = lb || rb
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "&&" || p.tok.kind == tokIdent && p.tok.text == "and" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		lb, err := p.truthy(left)
		if err != nil {
			return nil, err
		}
		rb, err := p.truthy(right)
		if err != nil {
			return nil, err
		}
		left = lb && rb
	}
	return left, nil
}

func (p *parser) parseNot() (any, error) {
	if p.tok.kind == tokOp && p.tok.text == "!" || p.tok.kind == tokIdent && p.tok.text == "not" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		b, err := p.truthy(v)
		if err != nil {
			return nil, err
		}
		return !b, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokOp {
		return left, nil
	}
	op := p.tok.text
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
	default:
		return left, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return p.compare(op, left, right)
}

func (p *parser) parseAdditive() (any, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left, err = p.arith(op, left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/" || p.tok.text == "%") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left, err = p.arith(op, left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (any, error) {
	if p.tok.kind == tokOp && (p.tok.text == "-" || p.tok.text == "+") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return v, nil
		}
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, evalErrorf(p.expr, "unary minus needs a number")
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	switch p.tok.kind {
	case tokNumber:
		tok := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		if tok.isInt {
			return tok.int_, nil
		}
		return tok.num, nil

	case tokString:
		s := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return s, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, evalErrorf(p.expr, "missing closing parenthesis")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return v, nil

	case tokIdent:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		if p.tok.kind == tokLParen {
			return p.parseCall(name)
		}
		v, ok := p.vars[name]
		if !ok {
			return nil, evalErrorf(p.expr, "unknown identifier %q", name)
		}
		return v, nil
	}
	return nil, evalErrorf(p.expr, "unexpected %q", p.tok.text)
}

func (p *parser) parseCall(name string) (any, error) {
	// Consume '('.
	if err := p.advance(); err != nil {
		return nil, err
	}
	var args []any
	if p.tok.kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if p.tok.kind != tokRParen {
		return nil, evalErrorf(p.expr, "missing closing parenthesis in call to %s", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.call(name, args)
}

// call dispatches the function allow-list. Anything outside this table
// is an EvalError, not a lookup into the host runtime.
func (p *parser) call(name string, args []any) (any, error) {
	str := func(i int) (string, error) {
		s, ok := args[i].(string)
		if !ok {
			return "", evalErrorf(p.expr, "%s: argument %d must be a string", name, i+1)
		}
		return s, nil
	}
	arity := func(n int) error {
		if len(args) != n {
			return evalErrorf(p.expr, "%s takes %d argument(s), got %d", name, n, len(args))
		}
		return nil
	}

	switch name {
	case "len":
		if err := arity(1); err != nil {
			return nil, err
		}
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return int64(len(s)), nil
	case "trim":
		if err := arity(1); err != nil {
			return nil, err
		}
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(s), nil
	case "lower":
		if err := arity(1); err != nil {
			return nil, err
		}
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	case "upper":
		if err := arity(1); err != nil {
			return nil, err
		}
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	case "contains":
		if err := arity(2); err != nil {
			return nil, err
		}
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		sub, err := str(1)
		if err != nil {
			return nil, err
		}
		return strings.Contains(s, sub), nil
	case "starts_with":
		if err := arity(2); err != nil {
			return nil, err
		}
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		prefix, err := str(1)
		if err != nil {
			return nil, err
		}
		return strings.HasPrefix(s, prefix), nil
	case "ends_with":
		if err := arity(2); err != nil {
			return nil, err
		}
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		suffix, err := str(1)
		if err != nil {
			return nil, err
		}
		return strings.HasSuffix(s, suffix), nil
	case "replace":
		if err := arity(3); err != nil {
			return nil, err
		}
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		old, err := str(1)
		if err != nil {
			return nil, err
		}
		repl, err := str(2)
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, old, repl), nil
	case "str":
		if err := arity(1); err != nil {
			return nil, err
		}
		return FormatValue(args[0]), nil
	case "num":
		if err := arity(1); err != nil {
			return nil, err
		}
		return toNumber(args[0])
	case "abs":
		if err := arity(1); err != nil {
			return nil, err
		}
		switch n := args[0].(type) {
		case int64:
			if n < 0 {
				return -n, nil
			}
			return n, nil
		case float64:
			return math.Abs(n), nil
		}
		return nil, evalErrorf(p.expr, "abs needs a number")
	case "min", "max":
		if len(args) < 2 {
			return nil, evalErrorf(p.expr, "%s takes at least 2 arguments", name)
		}
		best := args[0]
		for _, arg := range args[1:] {
			cmp, err := numericCompare(best, arg)
			if err != nil {
				return nil, evalErrorf(p.expr, "%s needs numbers: %v", name, err)
			}
			if name == "min" && cmp > 0 || name == "max" && cmp < 0 {
				best = arg
			}
		}
		return best, nil
	case "rand":
		if err := arity(0); err != nil {
			return nil, err
		}
		if p.rng == nil {
			return nil, evalErrorf(p.expr, "rand is unavailable in this context")
		}
		return p.rng.Float64(), nil
	case "randint":
		if err := arity(2); err != nil {
			return nil, err
		}
		lo, lok := args[0].(int64)
		hi, hok := args[1].(int64)
		if !lok || !hok || hi < lo {
			return nil, evalErrorf(p.expr, "randint takes two integers, low <= high")
		}
		if p.rng == nil {
			return nil, evalErrorf(p.expr, "randint is unavailable in this context")
		}
		return lo + p.rng.Int63n(hi-lo+1), nil
	}
	return nil, evalErrorf(p.expr, "unknown function %q", name)
}

func (p *parser) truthy(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, evalErrorf(p.expr, "expected a boolean, got %s", typeName(v))
}

func (p *parser) compare(op string, left, right any) (any, error) {
	// Strings compare with strings, everything numeric compares by value.
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case "==":
			return ls == rs, nil
		case "!=":
			return ls != rs, nil
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		if !ok || op != "==" && op != "!=" {
			return nil, evalErrorf(p.expr, "cannot compare %s with %s", typeName(left), typeName(right))
		}
		if op == "==" {
			return lb == rb, nil
		}
		return lb != rb, nil
	}
	cmp, err := numericCompare(left, right)
	if err != nil {
		return nil, evalErrorf(p.expr, "cannot compare %s with %s", typeName(left), typeName(right))
	}
	switch op {
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return nil, evalErrorf(p.expr, "unsupported comparison %q", op)
}

func (p *parser) arith(op string, left, right any) (any, error) {
	if op == "+" {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
	}
	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, evalErrorf(p.expr, "division by zero")
			}
			if li%ri == 0 {
				return li / ri, nil
			}
			return float64(li) / float64(ri), nil
		case "%":
			if ri == 0 {
				return nil, evalErrorf(p.expr, "division by zero")
			}
			return li % ri, nil
		}
	}
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		return nil, evalErrorf(p.expr, "operator %q needs numbers, got %s and %s", op, typeName(left), typeName(right))
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, evalErrorf(p.expr, "division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, evalErrorf(p.expr, "division by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, evalErrorf(p.expr, "unsupported operator %q", op)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func numericCompare(left, right any) (int, error) {
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		return 0, fmt.Errorf("not numeric")
	}
	switch {
	case lf < rf:
		return -1, nil
	case lf > rf:
		return 1, nil
	}
	return 0, nil
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// toNumber coerces a value to int64 or float64, the coercion applied by
// num() and by the numeric comparison checks.
func toNumber(v any) (any, error) {
	switch n := v.(type) {
	case int64, float64:
		return n, nil
	case bool:
		if n {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		trimmed := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f, nil
		}
		return nil, &CoercionError{Value: n, Message: "not a number"}
	}
	return nil, &CoercionError{Value: fmt.Sprintf("%v", v), Message: "not a number"}
}

// FormatValue renders a value the way templates do: integers without a
// decimal point, floats in their shortest form, booleans as true/false.
func FormatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}
