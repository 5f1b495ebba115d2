package catalog

import (
	"regexp"
	"regexp/syntax"
	"strings"
)

// filterPredicate converts re, when possible, into a SQL predicate on field
// that can be appended to a discovery query's WHERE clause:
// exact-match (^name$) becomes "field = 'name'", prefix (^pre_) becomes
// "field LIKE 'pre_%'", and top-level alternation (^(a|b|c)$) becomes
// "field IN ('a','b','c')". Patterns outside these shapes return "": the
// discovery query then carries no name predicate, and the callers do not
// re-check the returned names against re, so such a pattern does not
// narrow discovery.
func filterPredicate(field string, re *regexp.Regexp) string {
	if re == nil {
		return ""
	}
	if literals, ok := topLevelAlternates(re); ok {
		if len(literals) == 1 {
			return field + " = " + quoteLiteral(literals[0])
		}
		quoted := make([]string, len(literals))
		for i, lit := range literals {
			quoted[i] = quoteLiteral(lit)
		}
		return field + " IN (" + strings.Join(quoted, ", ") + ")"
	}
	if prefix, ok := literalPrefix(re); ok {
		return field + " LIKE " + quoteLiteral(likeEscape(prefix)+"%")
	}
	return ""
}

// topLevelAlternates reports whether re is exactly an anchored alternation
// of literal strings, e.g. "^(a|b|c)$" or a bare "^name$" (an alternation of
// one). Returns the literals in pattern order.
func topLevelAlternates(re *regexp.Regexp) ([]string, bool) {
	parsed, err := syntax.Parse(re.String(), syntax.Perl)
	if err != nil {
		return nil, false
	}
	parsed = parsed.Simplify()

	body, ok := stripAnchors(parsed)
	if !ok {
		return nil, false
	}
	body = unwrapCapture(body)

	if lit, ok := asLiteral(body); ok {
		return []string{lit}, true
	}
	if body.Op != syntax.OpAlternate {
		return nil, false
	}
	out := make([]string, 0, len(body.Sub))
	for _, sub := range body.Sub {
		lit, ok := asLiteral(sub)
		if !ok {
			return nil, false
		}
		out = append(out, lit)
	}
	return out, true
}

// literalPrefix reports whether re is "^" followed by a literal run with no
// trailing "$" (a true prefix match, e.g. "^pre_").
func literalPrefix(re *regexp.Regexp) (string, bool) {
	parsed, err := syntax.Parse(re.String(), syntax.Perl)
	if err != nil {
		return "", false
	}
	parsed = parsed.Simplify()

	if parsed.Op != syntax.OpConcat || len(parsed.Sub) < 2 {
		return "", false
	}
	if parsed.Sub[0].Op != syntax.OpBeginLine && parsed.Sub[0].Op != syntax.OpBeginText {
		return "", false
	}
	rest := &syntax.Regexp{Op: syntax.OpConcat, Sub: parsed.Sub[1:]}
	if lit, ok := asLiteral(rest); ok {
		return lit, true
	}
	// A literal run followed by unanchored "anything" (".*" etc) still
	// counts as a prefix match; only require the leading literal segment.
	if len(rest.Sub) == 0 {
		return "", false
	}
	if lit, ok := asLiteral(rest.Sub[0]); ok {
		return lit, true
	}
	return "", false
}

// unwrapCapture strips a non-capturing wrapper that "(...)" introduces
// around a group, so "(a|b|c)" sees straight through to the OpAlternate.
func unwrapCapture(re *syntax.Regexp) *syntax.Regexp {
	for re.Op == syntax.OpCapture && len(re.Sub) == 1 {
		re = re.Sub[0]
	}
	return re
}

func stripAnchors(re *syntax.Regexp) (*syntax.Regexp, bool) {
	if re.Op != syntax.OpConcat {
		return nil, false
	}
	sub := re.Sub
	if len(sub) < 2 {
		return nil, false
	}
	if sub[0].Op != syntax.OpBeginLine && sub[0].Op != syntax.OpBeginText {
		return nil, false
	}
	last := sub[len(sub)-1]
	if last.Op != syntax.OpEndLine && last.Op != syntax.OpEndText {
		return nil, false
	}
	sub = sub[1 : len(sub)-1]
	if len(sub) == 1 {
		return sub[0], true
	}
	return &syntax.Regexp{Op: syntax.OpConcat, Sub: sub}, true
}

// asLiteral reports whether re matches exactly one literal string.
func asLiteral(re *syntax.Regexp) (string, bool) {
	switch re.Op {
	case syntax.OpLiteral:
		return string(re.Rune), true
	case syntax.OpConcat:
		var b strings.Builder
		for _, sub := range re.Sub {
			if sub.Op != syntax.OpLiteral {
				return "", false
			}
			b.WriteString(string(sub.Rune))
		}
		return b.String(), true
	case syntax.OpEmptyMatch:
		return "", true
	default:
		return "", false
	}
}

// likeEscape escapes LIKE wildcard characters in a literal fragment before
// it is embedded in a LIKE pattern (the design: "%", "_", "[").
func likeEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%', '_', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
