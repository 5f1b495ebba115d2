package bridge

import (
	"fmt"

	"github.com/hugr-lab/mssql-extension/catalog"
	"github.com/hugr-lab/mssql-extension/dberr"
)

// RowID is a synthesized row identity: the table's primary-key column
// values, in catalog.Table.PrimaryKey order. A single-column key produces a
// one-element RowID; a composite key produces one element per key column
// (the "single-column PK = direct copy, composite PK =
// field-ordered record").
type RowID struct {
	Values []any
}

// RowIDColumns returns t's primary-key column names, the source columns a
// rowid is built from. It errors distinctly for the two cases a rowid
// cannot be synthesized: a view and a table with no
// primary key.
func RowIDColumns(t *catalog.Table) ([]string, error) {
	if t.IsView {
		return nil, dberr.NewNotImplementedError(fmt.Sprintf("rowid synthesis on view %q.%q", t.Schema, t.Name))
	}
	if len(t.PrimaryKey) == 0 {
		return nil, dberr.NewBadConfigurationError("primary key",
			fmt.Sprintf("table %q.%q has no primary key; rowid synthesis is not possible", t.Schema, t.Name))
	}
	return t.PrimaryKey, nil
}

// BuildRowID extracts a RowID from one decoded result row, given the
// indexes (into row) of the primary-key columns, in PK order — the
// SelectPlan.RowIDIndexes a BuildSelect call already computed.
func BuildRowID(row []any, rowIDIndexes []int) RowID {
	vals := make([]any, len(rowIDIndexes))
	for i, idx := range rowIDIndexes {
		vals[i] = row[idx]
	}
	return RowID{Values: vals}
}
