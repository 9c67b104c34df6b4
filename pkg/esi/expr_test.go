package esi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	scope := NewScope(map[string]any{
		"a":    "1",
		"name": "Alice",
		"ua":   "Mozilla/5.0 Firefox/120",
	})

	tests := []struct {
		test string
		want bool
	}{
		{`$(a) == 1`, true},
		{`$(a) = 1`, true},
		{`$(a) == 2`, false},
		{`$(a) != 2`, true},
		{`$(a) != 1`, false},
		{`!$(a) == 1`, false},
		{`$(a)`, true},
		{`$(missing)`, false},
		{`!$(missing)`, true},
		{`$(name) has lic`, true},
		{`$(name) has LIC`, false},
		{`$(name) has_i LIC`, true},
		{`$(ua) matches Firefox`, true},
		{`$(ua) matches firefox`, false},
		{`$(ua) matches_i firefox`, true},
		{`b >= a`, true},
		{`a >= b`, false},
		{`10 <= 9`, true},
		{`$(name) == 'Alice'`, true},
		{`'''$(a)''' == '''1'''`, true},
		{`$(a) == 1 && $(name) == Bob`, false},
		{`$(a) == 1 && $(name) == Alice`, true},
		{`$(a) == 2 || $(name) == Alice`, true},
		{`$(a) == 1 || $(missing)`, true},
		{`$(a) == 2 && $(missing) || $(name) == Alice`, false},
		{`$(a) matches (`, false},
		{``, false},
	}

	for _, tt := range tests {
		t.Run(tt.test, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.test, scope).OK)
		})
	}
}

func TestEvaluate_MatchResult(t *testing.T) {
	scope := NewScope(map[string]any{"ua": "Mozilla/5.0 Firefox/120"})

	cond := Evaluate(`$(ua) matches '(?P<browser>Firefox)/(\d+)'`, scope)
	require.True(t, cond.OK)
	require.NotNil(t, cond.Match)

	assert.Equal(t, "Firefox/120", cond.Match.String())
	v, ok := cond.Match.Index("browser")
	assert.True(t, ok)
	assert.Equal(t, "Firefox", v)
	v, _ = cond.Match.Index("2")
	assert.Equal(t, "120", v)
	_, ok = cond.Match.Index("9")
	assert.False(t, ok)

	assert.Same(t, cond.Match, cond.Value())
}

func TestEvaluate_NonMatchValue(t *testing.T) {
	cond := Evaluate(`x == x`, NewScope(nil))
	require.True(t, cond.OK)
	assert.Nil(t, cond.Match)
	assert.Equal(t, "true", cond.Value())
}

func TestSplitLogical(t *testing.T) {
	atoms, ops := splitLogical(`a == 1 && b || c`)
	assert.Equal(t, []string{"a == 1", "b", "c"}, atoms)
	assert.Equal(t, []string{"&&", "||"}, ops)

	// operators need surrounding whitespace
	atoms, ops = splitLogical(`a&&b`)
	assert.Equal(t, []string{"a&&b"}, atoms)
	assert.Empty(t, ops)
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "abc", unquote("'abc'"))
	assert.Equal(t, "abc", unquote("'''abc'''"))
	assert.Equal(t, "it's", unquote("'''it's'''"))
	assert.Equal(t, "'", unquote("'"))
	assert.Equal(t, "abc", unquote("  abc "))
}
