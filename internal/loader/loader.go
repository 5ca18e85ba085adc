// Package loader parses YAML or JSON documents into a raw node tree
// annotated with source positions. It has no knowledge of the test DSL;
// semantic validation happens in the schema package.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the parser used for a document.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Position locates a node in the source document.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	if p.Line == 0 {
		return "<unknown>"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// ParseError reports a syntactically malformed document.
type ParseError struct {
	Source  string
	Pos     Position
	Message string
}

func (e *ParseError) Error() string {
	source := e.Source
	if source == "" {
		source = "<string>"
	}
	if e.Pos.Line > 0 {
		return fmt.Sprintf("%s:%s: %s", source, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s: %s", source, e.Message)
}

// NodeKind categorizes a raw node.
type NodeKind int

const (
	KindNull NodeKind = iota
	KindScalar
	KindSequence
	KindMapping
)

// Node is one fragment of a parsed document. Scalars carry a typed Value
// (string, int64, float64 or bool); sequences and mappings carry their
// children in declaration order.
type Node struct {
	Pos   Position
	Kind  NodeKind
	Value any      // scalar payload, nil for non-scalars
	Raw   string   // scalar source text as written
	Seq   []*Node  // sequence items
	Map   []*Entry // mapping entries, declaration order preserved
}

// Entry is one key/value pair of a mapping node.
type Entry struct {
	Key    string
	KeyPos Position
	Value  *Node
}

// Get returns the value for key, or nil when the mapping has no such entry.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != KindMapping {
		return nil
	}
	for _, e := range n.Map {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

// IsNull reports whether the node is absent or an explicit null.
func (n *Node) IsNull() bool {
	return n == nil || n.Kind == KindNull
}

// Load parses a document into a raw node tree.
// The format hint selects the parser; FormatAuto accepts either syntax
// (a valid JSON document is also valid YAML).
func Load(text []byte, source string, format Format) (*Node, error) {
	if format == FormatJSON {
		// Validate with the JSON parser first so JSON-specific errors
		// point at the right offset instead of a YAML reinterpretation.
		if err := validateJSON(text, source); err != nil {
			return nil, err
		}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(text, &root); err != nil {
		return nil, yamlParseError(err, source)
	}

	// An empty document unmarshals to a zero node.
	if root.Kind == 0 {
		return &Node{Kind: KindNull}, nil
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return &Node{Kind: KindNull}, nil
		}
		doc = doc.Content[0]
	}
	return convert(doc, source)
}

// LoadFile reads and parses a document, inferring the format from the
// file extension when format is FormatAuto.
func LoadFile(path string, format Format) (*Node, error) {
	if format == FormatAuto {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			format = FormatJSON
		case ".yml", ".yaml":
			format = FormatYAML
		}
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Load(text, path, format)
}

func convert(n *yaml.Node, source string) (*Node, error) {
	pos := Position{Line: n.Line, Column: n.Column}

	switch n.Kind {
	case yaml.AliasNode:
		return convert(n.Alias, source)

	case yaml.ScalarNode:
		out := &Node{Pos: pos, Kind: KindScalar, Raw: n.Value}
		switch n.Tag {
		case "!!null":
			out.Kind = KindNull
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, &ParseError{Source: source, Pos: pos, Message: err.Error()}
			}
			out.Value = b
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				return nil, &ParseError{Source: source, Pos: pos, Message: err.Error()}
			}
			out.Value = i
		case "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return nil, &ParseError{Source: source, Pos: pos, Message: err.Error()}
			}
			out.Value = f
		default:
			out.Value = n.Value
		}
		return out, nil

	case yaml.SequenceNode:
		out := &Node{Pos: pos, Kind: KindSequence}
		for _, item := range n.Content {
			child, err := convert(item, source)
			if err != nil {
				return nil, err
			}
			out.Seq = append(out.Seq, child)
		}
		return out, nil

	case yaml.MappingNode:
		out := &Node{Pos: pos, Kind: KindMapping}
		seen := make(map[string]Position, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Kind != yaml.ScalarNode {
				return nil, &ParseError{
					Source:  source,
					Pos:     Position{Line: key.Line, Column: key.Column},
					Message: "mapping keys must be scalars",
				}
			}
			if first, dup := seen[key.Value]; dup {
				return nil, &ParseError{
					Source:  source,
					Pos:     Position{Line: key.Line, Column: key.Column},
					Message: fmt.Sprintf("duplicate key %q, first defined at %s", key.Value, first),
				}
			}
			seen[key.Value] = Position{Line: key.Line, Column: key.Column}
			child, err := convert(val, source)
			if err != nil {
				return nil, err
			}
			out.Map = append(out.Map, &Entry{
				Key:    key.Value,
				KeyPos: Position{Line: key.Line, Column: key.Column},
				Value:  child,
			})
		}
		return out, nil
	}

	return nil, &ParseError{Source: source, Pos: pos, Message: fmt.Sprintf("unsupported node kind %d", n.Kind)}
}

func validateJSON(text []byte, source string) error {
	var v any
	if err := json.Unmarshal(text, &v); err != nil {
		pos := Position{}
		if syn, ok := err.(*json.SyntaxError); ok {
			pos = offsetPosition(text, syn.Offset)
		}
		return &ParseError{Source: source, Pos: pos, Message: err.Error()}
	}
	return nil
}

func offsetPosition(text []byte, offset int64) Position {
	line, col := 1, 1
	for i := int64(0); i < offset && i < int64(len(text)); i++ {
		if text[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return Position{Line: line, Column: col}
}

// yamlParseError extracts a position from yaml.v3's error text when one
// is present ("yaml: line N: ...").
func yamlParseError(err error, source string) error {
	msg := err.Error()
	pos := Position{}
	if rest, ok := strings.CutPrefix(msg, "yaml: line "); ok {
		var line int
		if _, scanErr := fmt.Sscanf(rest, "%d:", &line); scanErr == nil {
			pos.Line = line
			if idx := strings.Index(rest, ": "); idx >= 0 {
				msg = rest[idx+2:]
			}
		}
	}
	return &ParseError{Source: source, Pos: pos, Message: msg}
}
