package schema

import (
	"fmt"
	"strings"

	"github.com/heig-tin-info/baygon2/internal/loader"
)

// SchemaError reports an unknown or malformed operation or key. It
// carries approximate-match suggestions so the CLI can print a
// "did you mean" diagnostic instead of a bare failure.
type SchemaError struct {
	Path        string
	Pos         loader.Position
	Name        string
	Message     string
	Suggestions []string
}

func (e *SchemaError) Error() string {
	var buf strings.Builder
	if e.Path != "" {
		fmt.Fprintf(&buf, "%s: ", e.Path)
	}
	if e.Message != "" {
		buf.WriteString(e.Message)
	} else {
		fmt.Fprintf(&buf, "unknown operation %q", e.Name)
	}
	if e.Pos.Line > 0 {
		fmt.Fprintf(&buf, " (at %s)", e.Pos)
	}
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&buf, "; did you mean %s?", strings.Join(e.Suggestions, ", "))
	}
	if e.Name != "" {
		fmt.Fprintf(&buf, " (an external operation can be provided by installing baygon-%s)", e.Name)
	}
	return buf.String()
}

func schemaErrorf(path string, pos loader.Position, format string, args ...any) *SchemaError {
	return &SchemaError{Path: path, Pos: pos, Message: fmt.Sprintf(format, args...)}
}
