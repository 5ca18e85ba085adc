package sandbox

import "fmt"

// EvalError reports a failure inside the restricted evaluator: a syntax
// error, an unknown identifier or function, or a type mismatch. It is
// local to the operation that triggered it and never aborts the run.
type EvalError struct {
	Expr    string
	Message string
}

func (e *EvalError) Error() string {
	if e.Expr == "" {
		return e.Message
	}
	return fmt.Sprintf("eval %q: %s", e.Expr, e.Message)
}

// CoercionError reports a value that could not be converted to the
// numeric form an operation required.
type CoercionError struct {
	Value   string
	Message string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %q: %s", e.Value, e.Message)
}

func evalErrorf(expr, format string, args ...any) *EvalError {
	return &EvalError{Expr: expr, Message: fmt.Sprintf(format, args...)}
}
