package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// FilterFunc is a plugin filter: it receives the current stream value
// and the operation's argument, and returns the transformed value.
type FilterFunc func(value, arg string) (string, error)

// CheckFunc is a plugin check: it receives the current stream value and
// the operation's argument, and reports whether the check passed along
// with an optional failure detail.
type CheckFunc func(value, arg string) (ok bool, detail string, err error)

// Registry resolves operation names. Built-in names are always present;
// plugins register additional filters and checks behind the same table,
// consulted by the normalizer for name resolution and by the pipeline
// for execution.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]FilterFunc
	checks  map[string]CheckFunc
}

// NewRegistry returns a registry containing only the built-in names.
func NewRegistry() *Registry {
	return &Registry{
		filters: make(map[string]FilterFunc),
		checks:  make(map[string]CheckFunc),
	}
}

// builtinFilters and builtinChecks map operation keys to canonical kinds.
var builtinFilters = map[string]OpKind{
	"trim":          OpTrim,
	"lower":         OpLower,
	"upper":         OpUpper,
	"ignore_spaces": OpIgnoreSpaces,
	"replace":       OpReplace,
	"sub":           OpSub,
	"map_eval":      OpMapEval,
}

var builtinChecks = map[string]OpKind{
	"match":        OpMatch,
	"contains":     OpContains,
	"not_contains": OpNotContains,
	"equals":       OpEquals,
	"not_equals":   OpNotEquals,
	"lt":           OpLt,
	"lte":          OpLte,
	"gt":           OpGt,
	"gte":          OpGte,
	"check_eval":   OpCheckEval,
	"capture":      OpCapture,
}

// RegisterFilter adds a plugin filter. Built-in names cannot be shadowed.
func (r *Registry) RegisterFilter(name string, fn FilterFunc) error {
	if _, ok := builtinFilters[name]; ok {
		return fmt.Errorf("filter %q is a builtin", name)
	}
	if _, ok := builtinChecks[name]; ok {
		return fmt.Errorf("%q is a builtin check", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.filters[name]; ok {
		return fmt.Errorf("filter %q is already registered", name)
	}
	r.filters[name] = fn
	return nil
}

// RegisterCheck adds a plugin check. Built-in names cannot be shadowed.
func (r *Registry) RegisterCheck(name string, fn CheckFunc) error {
	if _, ok := builtinChecks[name]; ok {
		return fmt.Errorf("check %q is a builtin", name)
	}
	if _, ok := builtinFilters[name]; ok {
		return fmt.Errorf("%q is a builtin filter", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checks[name]; ok {
		return fmt.Errorf("check %q is already registered", name)
	}
	r.checks[name] = fn
	return nil
}

// Filter returns the plugin filter registered under name.
func (r *Registry) Filter(name string) (FilterFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.filters[name]
	return fn, ok
}

// Check returns the plugin check registered under name.
func (r *Registry) Check(name string) (CheckFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.checks[name]
	return fn, ok
}

// Names returns every resolvable operation name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(builtinFilters)+len(builtinChecks)+len(r.filters)+len(r.checks))
	for name := range builtinFilters {
		names = append(names, name)
	}
	for name := range builtinChecks {
		names = append(names, name)
	}
	for name := range r.filters {
		names = append(names, name)
	}
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Suggest returns up to three close matches for an unknown name,
// ranked by edit distance. Subsequence matches rank first so partial
// names ("contain") beat pure typo distance; transpositions and typos
// ("contanis") are caught by the Levenshtein fallback.
func (r *Registry) Suggest(name string) []string {
	names := r.Names()

	out := make([]string, 0, 3)
	seen := make(map[string]bool)

	ranks := fuzzy.RankFindFold(name, names)
	sort.Sort(ranks)
	for _, rank := range ranks {
		if len(out) == 3 {
			return out
		}
		out = append(out, rank.Target)
		seen[rank.Target] = true
	}

	type scored struct {
		name string
		dist int
	}
	var close []scored
	for _, candidate := range names {
		if seen[candidate] {
			continue
		}
		dist := fuzzy.LevenshteinDistance(name, candidate)
		limit := len(candidate) / 2
		if limit < 2 {
			limit = 2
		}
		if dist <= limit {
			close = append(close, scored{candidate, dist})
		}
	}
	sort.Slice(close, func(i, j int) bool {
		if close[i].dist != close[j].dist {
			return close[i].dist < close[j].dist
		}
		return close[i].name < close[j].name
	})
	for _, s := range close {
		if len(out) == 3 {
			break
		}
		out = append(out, s.name)
	}
	return out
}
