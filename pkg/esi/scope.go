package esi

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Scope is a variable namespace with read-only access to an enclosing scope.
//
// Lookups walk the chain upwards; Set only ever writes the scope it is
// called on. A Scope is not safe for concurrent writes; the processor only
// writes a scope while evaluating the body that owns it.
type Scope struct {
	vars   map[string]any
	parent *Scope
}

// NewScope returns a root scope seeded with a copy of vars.
func NewScope(vars map[string]any) *Scope {
	s := &Scope{vars: make(map[string]any, len(vars))}
	for k, v := range vars {
		s.vars[k] = v
	}
	return s
}

// Fork returns an empty child scope reading through to s.
func (s *Scope) Fork() *Scope {
	return &Scope{vars: map[string]any{}, parent: s}
}

// Parent returns the enclosing scope, nil for a root scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Lookup finds name in s or the nearest enclosing scope that defines it.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds name in s only.
func (s *Scope) Set(name string, value any) {
	s.vars[name] = value
}

// HasOwn reports whether name is bound in s itself, ignoring ancestors.
func (s *Scope) HasOwn(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Indexer is implemented by values that support $(NAME{key}) lookups.
type Indexer interface {
	Index(key string) (string, bool)
}

var variableRe = regexp.MustCompile(`\$\((.*?)(?:\{(\w+)\})?\)`)

// Substitute replaces $(NAME) and $(NAME{key}) references in text with values
// from scope. Unknown names and keys become empty text. Substituted output is
// not scanned again.
func Substitute(text string, scope *Scope) string {
	if !strings.Contains(text, "$(") {
		return text
	}
	return variableRe.ReplaceAllStringFunc(text, func(ref string) string {
		m := variableRe.FindStringSubmatch(ref)
		v, ok := scope.Lookup(m[1])
		if !ok {
			return ""
		}
		if m[2] != "" {
			return indexValue(v, m[2])
		}
		return formatValue(v)
	})
}

// formatValue renders a variable value as text.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case []string:
		return strings.Join(val, ",")
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ",")
	case map[string]string, map[string]any, url.Values:
		// no meaningful text form
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// indexValue looks key up in a collection value.
func indexValue(v any, key string) string {
	switch val := v.(type) {
	case Indexer:
		s, _ := val.Index(key)
		return s
	case map[string]string:
		return val[key]
	case map[string]any:
		return formatValue(val[key])
	case url.Values:
		return val.Get(key)
	case []string:
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(val) {
			return val[i]
		}
	case []any:
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(val) {
			return formatValue(val[i])
		}
	}
	return ""
}
