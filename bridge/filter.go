package bridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash"

	"github.com/hugr-lab/mssql-extension/tds"
)

// ExprKind identifies one node's shape in a pushdown filter tree.
type ExprKind int

const (
	ExprColumn ExprKind = iota
	ExprLiteral
	ExprFuncCall
	ExprCompare
	ExprIsNull
	ExprIsNotNull
	ExprIn
	ExprBetween
	ExprAnd
	ExprOr
	ExprArith
	ExprLike
)

// CompareOp is the operator of an ExprCompare node.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op CompareOp) sql() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "="
	}
}

// ArithOp is the operator of an ExprArith node. Per the design, arithmetic
// operators pass straight through to T-SQL rather than being evaluated
// client-side.
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
)

func (op ArithOp) sql() string {
	switch op {
	case ArithAdd:
		return "+"
	case ArithSub:
		return "-"
	case ArithMul:
		return "*"
	case ArithDiv:
		return "/"
	default:
		return "+"
	}
}

// LikeMode selects which end of an ExprLike node's Pattern the translated
// LIKE predicate anchors: prefix ("pat%"), suffix ("%pat"), or contains
// ("%pat%").
type LikeMode int

const (
	LikePrefix LikeMode = iota
	LikeSuffix
	LikeContains
)

// Expr is one node of a host-supplied filter predicate, following the design
// §4.7's pushdown grammar. Only the fields relevant to Kind are populated;
// the zero value of the rest is ignored.
type Expr struct {
	Kind ExprKind

	// ExprColumn
	Column string

	// ExprLiteral
	Literal any
	LitKind tds.HostKind

	// ExprFuncCall: Func is one of the names in funcTable (or "date_diff"/
	// "date_add", whose first Args entry is a raw unit literal string
	// rather than a compiled operand).
	Func string
	Args []*Expr

	// ExprCompare
	Op          CompareOp
	Left, Right *Expr

	// ExprIsNull / ExprIsNotNull
	Operand *Expr

	// ExprIn
	Values []*Expr

	// ExprBetween
	Low, High *Expr

	// ExprAnd / ExprOr
	Children []*Expr

	// ExprArith: Left/Right are shared with ExprCompare.
	ArithOp ArithOp

	// ExprLike: Operand is shared with ExprIsNull/ExprIsNotNull. Pattern is
	// the raw, unescaped substring the host matched against (e.g. the "pre"
	// of a prefix("col","pre") call) rather than a compiled operand, the
	// same convention unitLiteral uses for date_diff/date_add's unit arg.
	Mode    LikeMode
	Pattern string
}

// maxFilterDepth bounds recursion through nested function calls and
// boolean trees; anything deeper is treated as unsupported for that
// subtree rather than risking a stack overflow on a pathological filter.
const maxFilterDepth = 100

// funcTable maps the host's scalar function names to their T-SQL
// equivalent's pushdown function table.
var funcTable = map[string]string{
	"lower":  "LOWER",
	"upper":  "UPPER",
	"length": "LEN",
	"trim":   "TRIM",
	"ltrim":  "LTRIM",
	"rtrim":  "RTRIM",
	"year":   "YEAR",
	"month":  "MONTH",
	"day":    "DAY",
}

var datepartFuncs = map[string]string{
	"hour":   "HOUR",
	"minute": "MINUTE",
	"second": "SECOND",
}

var dateUnits = map[string]string{
	"year": "YEAR", "month": "MONTH", "day": "DAY",
	"hour": "HOUR", "minute": "MINUTE", "second": "SECOND",
}

// CompileResult is the outcome of compiling one filter tree.
type CompileResult struct {
	// SQL is the pushed-down WHERE-clause fragment (without the "WHERE"
	// keyword), or "" if nothing could be pushed.
	SQL string
	// NeedsLocalRefilter is true unless SQL is an exact translation of the
	// original predicate; the host must then reapply the full predicate
	// client-side as a safety net, using the pushed SQL only to narrow the
	// server-side result set.
	NeedsLocalRefilter bool
}

// Compile translates a filter tree into a T-SQL WHERE fragment. It never
// errors: an unsupported predicate simply fails to push, reported through
// NeedsLocalRefilter rather than as an error, since the host always has a
// local-evaluation fallback.
func Compile(e *Expr) CompileResult {
	if e == nil {
		return CompileResult{}
	}
	sql, full := compileNode(e, 0)
	return CompileResult{SQL: sql, NeedsLocalRefilter: !full}
}

func compileNode(e *Expr, depth int) (sql string, full bool) {
	if e == nil || depth > maxFilterDepth {
		return "", false
	}
	switch e.Kind {
	case ExprAnd:
		return compileAnd(e.Children, depth)
	case ExprOr:
		return compileOr(e.Children, depth)
	case ExprCompare:
		return compileCompare(e, depth)
	case ExprIsNull:
		s, ok := compileValue(e.Operand, depth+1)
		if !ok {
			return "", false
		}
		return s + " IS NULL", true
	case ExprIsNotNull:
		s, ok := compileValue(e.Operand, depth+1)
		if !ok {
			return "", false
		}
		return s + " IS NOT NULL", true
	case ExprIn:
		return compileIn(e, depth)
	case ExprBetween:
		return compileBetween(e, depth)
	case ExprLike:
		return compileLike(e, depth)
	default:
		return "", false
	}
}

func compileAnd(children []*Expr, depth int) (string, bool) {
	parts := make([]string, 0, len(children))
	allFull := true
	for _, child := range children {
		s, full := compileNode(child, depth+1)
		if s == "" {
			allFull = false
			continue
		}
		parts = append(parts, s)
		if !full {
			allFull = false
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return "(" + strings.Join(parts, " AND ") + ")", allFull
}

func compileOr(children []*Expr, depth int) (string, bool) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		s, full := compileNode(child, depth+1)
		// A disjunction can only be pushed whole: dropping or
		// over-approximating one branch could exclude rows a true OR
		// would have matched.
		if s == "" || !full {
			return "", false
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "", false
	}
	return "(" + strings.Join(parts, " OR ") + ")", true
}

func compileCompare(e *Expr, depth int) (string, bool) {
	left, ok := compileValue(e.Left, depth+1)
	if !ok {
		return "", false
	}
	right, ok := compileValue(e.Right, depth+1)
	if !ok {
		return "", false
	}
	return left + " " + e.Op.sql() + " " + right, true
}

func compileIn(e *Expr, depth int) (string, bool) {
	operand, ok := compileValue(e.Operand, depth+1)
	if !ok {
		return "", false
	}
	vals := make([]string, 0, len(e.Values))
	for _, v := range e.Values {
		s, ok := compileValue(v, depth+1)
		if !ok {
			return "", false
		}
		vals = append(vals, s)
	}
	if len(vals) == 0 {
		return "", false
	}
	return operand + " IN (" + strings.Join(vals, ", ") + ")", true
}

// compileBetween lowers a BETWEEN into two comparisons
func compileBetween(e *Expr, depth int) (string, bool) {
	operand, ok := compileValue(e.Operand, depth+1)
	if !ok {
		return "", false
	}
	low, ok := compileValue(e.Low, depth+1)
	if !ok {
		return "", false
	}
	high, ok := compileValue(e.High, depth+1)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("(%s >= %s AND %s <= %s)", operand, low, operand, high), true
}

// compileLike lowers a prefix/suffix/contains pattern match into a LIKE
// predicate, bracket-escaping the pattern's literal wildcard characters
// first so a pattern containing "%", "_", or "[" matches only that literal
// text rather than acting as a wildcard itself.
func compileLike(e *Expr, depth int) (string, bool) {
	operand, ok := compileValue(e.Operand, depth+1)
	if !ok {
		return "", false
	}
	escaped := likeEscape(e.Pattern)
	var pattern string
	switch e.Mode {
	case LikePrefix:
		pattern = escaped + "%"
	case LikeSuffix:
		pattern = "%" + escaped
	case LikeContains:
		pattern = "%" + escaped + "%"
	default:
		return "", false
	}
	lit, err := EncodeLiteral(pattern, tds.HostString)
	if err != nil {
		return "", false
	}
	return operand + " LIKE " + lit, true
}

// likeEscape escapes LIKE wildcard characters in a literal pattern fragment
// before it is combined with the prefix/suffix/contains anchors (the
// design: "%", "_", "[").
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

// compileValue compiles an operand: a column reference, a literal, or a
// function call, as used inside a comparison/IN/BETWEEN/IS NULL node.
func compileValue(e *Expr, depth int) (string, bool) {
	if e == nil || depth > maxFilterDepth {
		return "", false
	}
	switch e.Kind {
	case ExprColumn:
		return QuoteIdent(e.Column), true
	case ExprLiteral:
		s, err := EncodeLiteral(e.Literal, e.LitKind)
		if err != nil {
			return "", false
		}
		return s, true
	case ExprFuncCall:
		return compileFuncCall(e, depth)
	case ExprArith:
		return compileArith(e, depth)
	default:
		return "", false
	}
}

// compileArith lowers an arithmetic binary operation, passing the operator
// straight through to T-SQL per the design.
func compileArith(e *Expr, depth int) (string, bool) {
	left, ok := compileValue(e.Left, depth+1)
	if !ok {
		return "", false
	}
	right, ok := compileValue(e.Right, depth+1)
	if !ok {
		return "", false
	}
	return "(" + left + " " + e.ArithOp.sql() + " " + right + ")", true
}

func compileFuncCall(e *Expr, depth int) (string, bool) {
	if depth > maxFilterDepth {
		return "", false
	}

	switch e.Func {
	case "date_diff":
		if len(e.Args) != 3 {
			return "", false
		}
		unit, ok := unitLiteral(e.Args[0])
		if !ok {
			return "", false
		}
		a, ok := compileValue(e.Args[1], depth+1)
		if !ok {
			return "", false
		}
		b, ok := compileValue(e.Args[2], depth+1)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("DATEDIFF(%s, %s, %s)", unit, a, b), true

	case "date_add":
		if len(e.Args) != 3 {
			return "", false
		}
		unit, ok := unitLiteral(e.Args[0])
		if !ok {
			return "", false
		}
		n, ok := compileValue(e.Args[1], depth+1)
		if !ok {
			return "", false
		}
		d, ok := compileValue(e.Args[2], depth+1)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("DATEADD(%s, %s, %s)", unit, n, d), true
	}

	if sqlFunc, ok := datepartFuncs[e.Func]; ok {
		if len(e.Args) != 1 {
			return "", false
		}
		arg, ok := compileValue(e.Args[0], depth+1)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("DATEPART(%s, %s)", sqlFunc, arg), true
	}

	sqlFunc, ok := funcTable[e.Func]
	if !ok || len(e.Args) != 1 {
		return "", false
	}
	arg, ok := compileValue(e.Args[0], depth+1)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s(%s)", sqlFunc, arg), true
}

// unitLiteral reads a date_diff/date_add unit argument, which is a raw
// token name (e.g. "day") rather than a quoted string literal, and
// validates it against the supported unit set.
func unitLiteral(e *Expr) (string, bool) {
	if e == nil || e.Kind != ExprLiteral {
		return "", false
	}
	name, ok := e.Literal.(string)
	if !ok {
		return "", false
	}
	unit, ok := dateUnits[strings.ToLower(name)]
	return unit, ok
}

// Cache memoizes Compile results keyed by an xxhash of the filter tree's
// shape, so repeated scans against the same table with the same filter
// skip recompiling the predicate (the design's per-scan pushdown cost should
// not be paid on every batch of a long-running scan).
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]CompileResult
}

// NewCache creates an empty filter compilation cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[uint64]CompileResult)}
}

// Compile returns the cached CompileResult for e, compiling and storing it
// on a miss.
func (c *Cache) Compile(e *Expr) CompileResult {
	if e == nil {
		return CompileResult{}
	}
	key := shapeHash(e)

	c.mu.Lock()
	if cached, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	result := Compile(e)

	c.mu.Lock()
	c.entries[key] = result
	c.mu.Unlock()
	return result
}

// shapeHash fingerprints e's structure and literal values into a single
// xxhash, the same shard-key technique catalog.Cache uses for its
// table-mutex sharding.
func shapeHash(e *Expr) uint64 {
	var b strings.Builder
	fingerprint(&b, e)
	return xxhash.Sum64String(b.String())
}

func fingerprint(b *strings.Builder, e *Expr) {
	if e == nil {
		b.WriteString("<nil>;")
		return
	}
	fmt.Fprintf(b, "%d|%s|%v|%d|%s|%d|%d|%s|", e.Kind, e.Column, e.Literal, e.Op, e.Func, e.ArithOp, e.Mode, e.Pattern)
	for _, a := range e.Args {
		fingerprint(b, a)
	}
	fingerprint(b, e.Left)
	fingerprint(b, e.Right)
	fingerprint(b, e.Operand)
	for _, v := range e.Values {
		fingerprint(b, v)
	}
	fingerprint(b, e.Low)
	fingerprint(b, e.High)
	for _, c := range e.Children {
		fingerprint(b, c)
	}
	b.WriteString(";")
}
