package esi

import (
	"strconv"
	"strings"
)

// Match holds the captures of a successful matches/matches_i test.
// $(NAME) yields the whole match, $(NAME{1}) a numbered group and
// $(NAME{group}) a named group.
type Match struct {
	Groups []string
	Names  []string
}

// String returns the whole match.
func (m *Match) String() string {
	if m == nil || len(m.Groups) == 0 {
		return ""
	}
	return m.Groups[0]
}

// Index returns a capture group by number or name.
func (m *Match) Index(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	if i, err := strconv.Atoi(key); err == nil {
		if i >= 0 && i < len(m.Groups) {
			return m.Groups[i], true
		}
		return "", false
	}
	for i, name := range m.Names {
		if name != "" && name == key && i < len(m.Groups) {
			return m.Groups[i], true
		}
	}
	return "", false
}

// Dict is a variable with a text form and keyed sub-values, like
// QUERY_STRING or HTTP_COOKIE.
type Dict struct {
	Raw    string
	Values map[string]string
}

// String returns the raw text form.
func (d Dict) String() string {
	return d.Raw
}

// Index returns the sub-value for key.
func (d Dict) Index(key string) (string, bool) {
	v, ok := d.Values[key]
	return v, ok
}

// List is a variable whose sub-keys test membership, like
// HTTP_ACCEPT_LANGUAGE: $(HTTP_ACCEPT_LANGUAGE{en}) is "true" or "false".
type List struct {
	Raw   string
	Items []string
}

// String returns the raw text form.
func (l List) String() string {
	return l.Raw
}

// Index reports membership as "true" or "false".
func (l List) Index(key string) (string, bool) {
	for _, item := range l.Items {
		if strings.EqualFold(item, key) {
			return "true", true
		}
	}
	return "false", true
}
