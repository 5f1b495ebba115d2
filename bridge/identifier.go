package bridge

import "strings"

// QuoteIdent brackets a SQL Server identifier, doubling any ']' it
// contains, so that quoting and unquoting round-trip exactly:
// QuoteIdent("a]b") == "[a]]b]", and UnquoteIdent of that returns "a]b".
func QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QuoteQualified brackets a two-part schema.table (or schema.column)
// reference, quoting each part independently.
func QuoteQualified(schema, name string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// UnquoteIdent reverses QuoteIdent: it strips the surrounding brackets and
// un-doubles any "]]" pair. Returns the input unchanged if it isn't
// bracket-quoted.
func UnquoteIdent(quoted string) string {
	if len(quoted) < 2 || quoted[0] != '[' || quoted[len(quoted)-1] != ']' {
		return quoted
	}
	inner := quoted[1 : len(quoted)-1]
	return strings.ReplaceAll(inner, "]]", "]")
}
