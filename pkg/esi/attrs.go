package esi

import "strings"

// Attribute is a single tag attribute. HasValue is false for bare
// attributes such as <esi:comment a/>.
type Attribute struct {
	Value    string
	HasValue bool
}

// Attributes maps attribute names to their values.
type Attributes map[string]Attribute

// Get returns the attribute value, or "" when absent or bare.
func (a Attributes) Get(name string) string {
	return a[name].Value
}

// Lookup returns the value and whether the attribute carries a non-empty value.
func (a Attributes) Lookup(name string) (string, bool) {
	attr, ok := a[name]
	if !ok || !attr.HasValue || attr.Value == "" {
		return "", false
	}
	return attr.Value, true
}

// Has reports whether the attribute is present at all.
func (a Attributes) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// ParseAttributes parses the attribute text of a tag.
//
// Values may be double-quoted, single-quoted or bare. Inside a quoted value a
// backslash followed by the quote character stands for a literal quote; any
// other backslash is kept as is. An unterminated quote runs to the end of the
// text. Later duplicates win.
func ParseAttributes(s string) Attributes {
	attrs := Attributes{}
	i := 0
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			break
		}

		start := i
		for i < len(s) && !isSpace(s[i]) && s[i] != '=' {
			i++
		}
		name := s[start:i]
		if name == "" {
			// stray '='
			i++
			continue
		}

		if i >= len(s) || s[i] != '=' {
			attrs[name] = Attribute{}
			continue
		}
		i++ // '='

		if i < len(s) && (s[i] == '"' || s[i] == '\'') {
			var value string
			value, i = readQuoted(s, i)
			attrs[name] = Attribute{Value: value, HasValue: true}
			continue
		}

		start = i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		attrs[name] = Attribute{Value: s[start:i], HasValue: true}
	}
	return attrs
}

// readQuoted reads a quoted value starting at the opening quote s[i] and
// returns the unescaped value and the index after the closing quote.
func readQuoted(s string, i int) (string, int) {
	quote := s[i]
	i++
	var b strings.Builder
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == quote {
			b.WriteByte(quote)
			i += 2
			continue
		}
		if c == quote {
			return b.String(), i + 1
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), i
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
