package esi

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScope_InheritedReads(t *testing.T) {
	root := NewScope(map[string]any{"a": "root"})
	child := root.Fork()
	grandchild := child.Fork()

	v, ok := grandchild.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "root", v)
	assert.False(t, grandchild.HasOwn("a"))
	assert.Same(t, root, child.Parent())

	grandchild.Set("a", "shadow")
	v, _ = grandchild.Lookup("a")
	assert.Equal(t, "shadow", v)

	v, _ = root.Lookup("a")
	assert.Equal(t, "root", v, "writes never reach ancestors")
	assert.False(t, child.HasOwn("a"))

	_, ok = grandchild.Lookup("missing")
	assert.False(t, ok)
}

func TestNewScope_CopiesSeed(t *testing.T) {
	seed := map[string]any{"a": "1"}
	s := NewScope(seed)
	seed["a"] = "2"
	s.Set("b", "3")

	v, _ := s.Lookup("a")
	assert.Equal(t, "1", v)
	_, found := seed["b"]
	assert.False(t, found)
}

type upper string

func (u upper) String() string { return "UP:" + string(u) }

func TestSubstitute(t *testing.T) {
	scope := NewScope(map[string]any{
		"x":      "X",
		"ref":    "$(x)",
		"num":    42,
		"flag":   true,
		"nilval": nil,
		"m":      map[string]string{"k": "mv"},
		"ma":     map[string]any{"k": 7},
		"q":      url.Values{"a": {"qa", "qb"}},
		"list":   []string{"l0", "l1"},
		"anys":   []any{"x", 2},
		"d":      Dict{Raw: "raw", Values: map[string]string{"k": "dv"}},
		"s":      upper("v"),
	})

	tests := []struct {
		input string
		want  string
	}{
		{"$(x)", "X"},
		{"a$(x)b$(x)c", "aXbXc"},
		{"$(missing)", ""},
		{"$(missing{k})", ""},
		{"$(ref)", "$(x)"},
		{"$(num)", "42"},
		{"$(flag)", "true"},
		{"$(nilval)", ""},
		{"$(m{k})", "mv"},
		{"$(m{nope})", ""},
		{"$(m)", ""},
		{"$(ma{k})", "7"},
		{"$(q{a})", "qa"},
		{"$(list{1})", "l1"},
		{"$(list{5})", ""},
		{"$(list)", "l0,l1"},
		{"$(anys{1})", "2"},
		{"$(d)", "raw"},
		{"$(d{k})", "dv"},
		{"$(s)", "UP:v"},
		{"$(x{k})", ""},
		{"no refs $ ( x )", "no refs $ ( x )"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.input, scope))
		})
	}
}

func TestSubstitute_NilScope(t *testing.T) {
	assert.Equal(t, "a", Substitute("a$(x)", nil))
}
