package esi

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var (
	logicalRe    = regexp.MustCompile(`\s+(\|\||&&)\s+`)
	comparisonRe = regexp.MustCompile(`(?s)^(.*?)\s+(==|=|!=|<=|>=|matches_i|matches|has_i|has)\s+(.*)$`)
)

// Condition is the outcome of an esi:when test.
type Condition struct {
	OK bool
	// Match is set when a matches/matches_i test succeeded during evaluation.
	Match *Match
}

// Value is what a truthy condition binds to MATCHES and matchname.
func (c Condition) Value() any {
	if c.Match != nil {
		return c.Match
	}
	return "true"
}

// Evaluate runs an esi:when test against scope.
//
// Tests are joined with && and || (surrounded by whitespace) and evaluated
// strictly left to right: evaluation stops at an && following a false result
// or an || following a true one, and the result is that of the last test
// evaluated. There is no operator precedence and there are no parentheses.
func Evaluate(test string, scope *Scope) Condition {
	atoms, ops := splitLogical(test)

	var match *Match
	ok := evalAtom(atoms[0], scope, &match)
	for i, op := range ops {
		if op == "&&" && !ok {
			break
		}
		if op == "||" && ok {
			break
		}
		ok = evalAtom(atoms[i+1], scope, &match)
	}

	if !ok {
		return Condition{}
	}
	return Condition{OK: true, Match: match}
}

// splitLogical splits test into atomic tests and the operators between them.
func splitLogical(test string) (atoms []string, ops []string) {
	last := 0
	for _, loc := range logicalRe.FindAllStringSubmatchIndex(test, -1) {
		atoms = append(atoms, test[last:loc[0]])
		ops = append(ops, test[loc[2]:loc[3]])
		last = loc[1]
	}
	atoms = append(atoms, test[last:])
	return atoms, ops
}

// evalAtom evaluates one atomic test with optional leading negation.
func evalAtom(atom string, scope *Scope, match **Match) bool {
	atom = strings.TrimSpace(atom)
	negate := strings.HasPrefix(atom, "!")
	if negate {
		atom = strings.TrimSpace(atom[1:])
	}

	var ok bool
	if m := comparisonRe.FindStringSubmatch(atom); m != nil {
		a := Substitute(unquote(m[1]), scope)
		b := Substitute(unquote(m[3]), scope)
		ok = compare(a, m[2], b, match)
	} else {
		ok = Substitute(atom, scope) != ""
	}

	return ok != negate
}

func compare(a, op, b string, match **Match) bool {
	switch op {
	case "=", "==":
		return a == b
	case "!=":
		return a != b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case "has":
		return strings.Contains(a, b)
	case "has_i":
		fold := cases.Fold()
		return strings.Contains(fold.String(a), fold.String(b))
	case "matches", "matches_i":
		pattern := b
		if op == "matches_i" {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		groups := re.FindStringSubmatch(a)
		if groups == nil {
			return false
		}
		*match = &Match{Groups: groups, Names: re.SubexpNames()}
		return true
	}
	return false
}

// unquote strips one pair of surrounding triple or single quotes from an operand.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 6 && strings.HasPrefix(s, "'''") && strings.HasSuffix(s, "'''") {
		return s[3 : len(s)-3]
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}
