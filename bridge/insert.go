package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/catalog"
	"github.com/hugr-lab/mssql-extension/tds"
)

// InsertRow is one row's values, positionally aligned with InsertRequest's
// Columns and ColumnKinds.
type InsertRow struct {
	Values []any
}

// InsertRequest describes a batch of rows the host wants inserted into one
// table, following the INSERT bridge.
type InsertRequest struct {
	Columns     []string
	ColumnKinds []tds.HostKind // aligned with Columns; used to disambiguate literal encoding
	Rows        []InsertRow
	// ReturningColumns, when non-empty, requests "OUTPUT INSERTED.col, ..."
	// so the server-assigned values (identity columns, computed columns,
	// defaults) come back without a round trip.
	ReturningColumns []string
}

// BuildInsertBatches splits req into one or more "INSERT INTO ... VALUES
// (...), (...);" statements, each bounded by maxRows (the VALUES-clause row
// cap, default 1000 to match SQL Server's own limit) and maxSQLBytes (the
// generated statement's text length).
func BuildInsertBatches(t *catalog.Table, req InsertRequest, maxRows, maxSQLBytes int) ([]string, error) {
	if len(req.Rows) == 0 {
		return nil, nil
	}

	colList := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		colList[i] = QuoteIdent(c)
	}
	header := fmt.Sprintf("INSERT INTO %s (%s)", QuoteQualified(t.Schema, t.Name), strings.Join(colList, ", "))

	output := ""
	if len(req.ReturningColumns) > 0 {
		outCols := make([]string, len(req.ReturningColumns))
		for i, c := range req.ReturningColumns {
			outCols[i] = "INSERTED." + QuoteIdent(c)
		}
		output = " OUTPUT " + strings.Join(outCols, ", ")
	}
	prefix := header + output + " VALUES "

	var batches []string
	var tuples []string
	curLen := len(prefix)

	flush := func() {
		if len(tuples) == 0 {
			return
		}
		batches = append(batches, prefix+strings.Join(tuples, ", ")+";")
		tuples = nil
		curLen = len(prefix)
	}

	for i, row := range req.Rows {
		tupleVals := make([]string, len(row.Values))
		for j, v := range row.Values {
			kind := tds.HostUnknown
			if j < len(req.ColumnKinds) {
				kind = req.ColumnKinds[j]
			}
			s, err := EncodeLiteral(v, kind)
			if err != nil {
				col := ""
				if j < len(req.Columns) {
					col = req.Columns[j]
				}
				return nil, fmt.Errorf("bridge: insert row %d column %q: %w", i, col, err)
			}
			tupleVals[j] = s
		}
		tuple := "(" + strings.Join(tupleVals, ", ") + ")"

		sep := 0
		if len(tuples) > 0 {
			sep = len(", ")
		}
		if len(tuples) > 0 && (len(tuples) >= maxRows || curLen+sep+len(tuple)+1 > maxSQLBytes) {
			flush()
			sep = 0
		}
		tuples = append(tuples, tuple)
		curLen += sep + len(tuple)
	}
	flush()

	return batches, nil
}

// Insert runs req against t, batched through BuildInsertBatches, returning
// every row any OUTPUT INSERTED clause produced, in batch order.
func Insert(ctx context.Context, exec Executor, t *catalog.Table, req InsertRequest, maxRows, maxSQLBytes int) ([][]any, error) {
	batches, err := BuildInsertBatches(t, req, maxRows, maxSQLBytes)
	if err != nil {
		return nil, err
	}
	return runBatches(ctx, exec, batches)
}
