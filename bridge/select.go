package bridge

import (
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/catalog"
)

// SelectPlan is a compiled scan: the T-SQL SELECT text to run, the
// resulting column list in result order, and where each primary-key column
// a synthesized rowid needs lands within that list.
type SelectPlan struct {
	SQL     string
	Columns []string
	// RowIDIndexes holds, for each of the table's primary-key columns in
	// order, its index into Columns — built once here so Scan doesn't
	// re-derive it per row.
	RowIDIndexes       []int
	NeedsLocalRefilter bool
}

// BuildSelect generates "SELECT col_list FROM [schema].[table] [WHERE ...]"
// for a scan over t: it projects requestedColumns in host order, and pushes
// filter down through fc (nil disables the cache; pass a nil filter to scan
// unfiltered). needsRowID is set only when the host actually asked for the
// virtual rowid column; per spec.md §4.7 a plain projection over a view or a
// PK-less table must still succeed, so primary-key lookup (and its two
// distinct rejections) happens only in that case. When needsRowID is set,
// any primary-key column the rowid needs that wasn't already requested is
// appended to the projection.
func BuildSelect(t *catalog.Table, requestedColumns []string, filter *Expr, fc *Cache, needsRowID bool) (SelectPlan, error) {
	var pk []string
	if needsRowID {
		var err error
		pk, err = RowIDColumns(t)
		if err != nil {
			return SelectPlan{}, err
		}
	}

	columns := append([]string{}, requestedColumns...)
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	for _, c := range pk {
		if !present[c] {
			columns = append(columns, c)
			present[c] = true
		}
	}

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	rowIDIdx := make([]int, len(pk))
	for i, c := range pk {
		rowIDIdx[i] = index[c]
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdent(c)
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), QuoteQualified(t.Schema, t.Name))

	var needsLocalRefilter bool
	if filter != nil {
		var result CompileResult
		if fc != nil {
			result = fc.Compile(filter)
		} else {
			result = Compile(filter)
		}
		needsLocalRefilter = result.NeedsLocalRefilter
		if result.SQL != "" {
			sql += " WHERE " + result.SQL
		}
	}

	return SelectPlan{
		SQL:                sql,
		Columns:            columns,
		RowIDIndexes:       rowIDIdx,
		NeedsLocalRefilter: needsLocalRefilter,
	}, nil
}
