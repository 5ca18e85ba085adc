package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// OpKind identifies one canonical operation. Filters transform a stream
// value; checks evaluate it without mutating it.
type OpKind string

const (
	// Filters.
	OpTrim         OpKind = "trim"
	OpLower        OpKind = "lower"
	OpUpper        OpKind = "upper"
	OpIgnoreSpaces OpKind = "ignore_spaces"
	OpReplace      OpKind = "replace"
	OpSub          OpKind = "sub"
	OpMapEval      OpKind = "map_eval"

	// Checks.
	OpMatch       OpKind = "match"
	OpContains    OpKind = "contains"
	OpNotContains OpKind = "not_contains"
	OpEquals      OpKind = "equals"
	OpNotEquals   OpKind = "not_equals"
	OpLt          OpKind = "lt"
	OpLte         OpKind = "lte"
	OpGt          OpKind = "gt"
	OpGte         OpKind = "gte"
	OpCheckEval   OpKind = "check_eval"
	OpCapture     OpKind = "capture"

	// Plugin-registered operations, resolved by Name.
	OpPluginFilter OpKind = "plugin_filter"
	OpPluginCheck  OpKind = "plugin_check"
)

// Op is one canonical operation. Only the fields relevant to its Kind
// are populated; the zero values of the rest are part of the canonical
// form so normalization stays idempotent.
type Op struct {
	Kind    OpKind
	Explain string // optional template rendered on failure

	Value  string // string comparisons and plugin argument
	Number float64

	Regex string
	Flags string
	Repl  string

	Pattern     string // replace filter: literal needle
	Replacement string

	Expr string

	Group int
	Tests []*Op // capture sub-pipeline

	Name string // plugin operation name
}

// IsFilter reports whether the operation transforms the stream value.
func (o *Op) IsFilter() bool {
	switch o.Kind {
	case OpTrim, OpLower, OpUpper, OpIgnoreSpaces, OpReplace, OpSub, OpMapEval, OpPluginFilter:
		return true
	}
	return false
}

// DisplayName is the registry name of the operation.
func (o *Op) DisplayName() string {
	if o.Name != "" {
		return o.Name
	}
	return string(o.Kind)
}

// CompileRegex compiles the operation's pattern with its flag string
// translated to Go regexp syntax. Flags i, m and s map to the
// corresponding inline groups; x strips unescaped whitespace and
// comments from the pattern (Go's RE2 has no verbose mode). Unrecognized
// flag letters are ignored, matching the permissive source DSL.
func (o *Op) CompileRegex() (*regexp.Regexp, error) {
	pattern := o.Regex
	var inline strings.Builder
	for _, f := range strings.ToLower(o.Flags) {
		switch f {
		case 'i', 'm', 's':
			inline.WriteRune(f)
		case 'x':
			pattern = stripVerbose(pattern)
		}
	}
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", o.Regex, err)
	}
	return re, nil
}

// stripVerbose removes unescaped whitespace and #-comments outside
// character classes, emulating the extended flag.
func stripVerbose(pattern string) string {
	var out strings.Builder
	inClass := false
	escaped := false
	inComment := false
	for _, r := range pattern {
		if inComment {
			if r == '\n' {
				inComment = false
			}
			continue
		}
		if escaped {
			out.WriteRune('\\')
			out.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped = true
		case r == '[' && !inClass:
			inClass = true
			out.WriteRune(r)
		case r == ']' && inClass:
			inClass = false
			out.WriteRune(r)
		case !inClass && r == '#':
			inComment = true
		case !inClass && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			// dropped
		default:
			out.WriteRune(r)
		}
	}
	if escaped {
		out.WriteRune('\\')
	}
	return out.String()
}
