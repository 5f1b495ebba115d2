package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/catalog"
	"github.com/hugr-lab/mssql-extension/tds"
)

// UpdateRow is one row to update: its rowid (the primary-key values
// identifying it) and the new values for UpdateRequest.SetColumns, in the
// same order.
type UpdateRow struct {
	RowID  RowID
	Values []any
}

// UpdateRequest describes a batch of per-row UPDATEs against one table,
// following the VALUES-join-by-primary-key DML pattern.
type UpdateRequest struct {
	SetColumns     []string
	SetColumnKinds []tds.HostKind
	Rows           []UpdateRow
}

// BuildUpdateBatches splits req into one or more
//
//	UPDATE t SET t.[c1] = v.[c1], ... FROM [schema].[table] AS t
//	INNER JOIN (VALUES (pk..., c1, ...), ...) AS v(pk..., c1, ...)
//	ON t.[pk1] = v.[pk1] AND ...;
//
// statements. Each batch holds at most maxRows rows, further capped so
// that rows * (len(primary key) + len(SetColumns)) never exceeds
// parameterCap (the parameter_cap, default 2000).
func BuildUpdateBatches(t *catalog.Table, req UpdateRequest, maxRows, parameterCap int) ([]string, error) {
	if len(req.Rows) == 0 {
		return nil, nil
	}
	pk, err := RowIDColumns(t)
	if err != nil {
		return nil, err
	}

	paramsPerRow := len(pk) + len(req.SetColumns)
	batchSize := effectiveBatchSize(maxRows, parameterCap, paramsPerRow)

	pkCols := make([]string, len(pk))
	for i, c := range pk {
		pkCols[i] = QuoteIdent(c)
	}
	setCols := make([]string, len(req.SetColumns))
	for i, c := range req.SetColumns {
		setCols[i] = QuoteIdent(c)
	}
	valueCols := append(append([]string{}, pkCols...), setCols...)

	setClauses := make([]string, len(setCols))
	for i, c := range setCols {
		setClauses[i] = fmt.Sprintf("t.%s = v.%s", c, c)
	}
	joinClauses := make([]string, len(pkCols))
	for i, c := range pkCols {
		joinClauses[i] = fmt.Sprintf("t.%s = v.%s", c, c)
	}

	header := fmt.Sprintf("UPDATE t SET %s FROM %s AS t INNER JOIN (VALUES ",
		strings.Join(setClauses, ", "), QuoteQualified(t.Schema, t.Name))
	footer := fmt.Sprintf(") AS v(%s) ON %s;", strings.Join(valueCols, ", "), strings.Join(joinClauses, " AND "))

	var batches []string
	for start := 0; start < len(req.Rows); start += batchSize {
		end := start + batchSize
		if end > len(req.Rows) {
			end = len(req.Rows)
		}
		tuples := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			row := req.Rows[i]
			vals := make([]string, 0, paramsPerRow)
			for _, pv := range row.RowID.Values {
				s, err := EncodeLiteral(pv, tds.HostUnknown)
				if err != nil {
					return nil, fmt.Errorf("bridge: update row %d rowid: %w", i, err)
				}
				vals = append(vals, s)
			}
			for j, v := range row.Values {
				kind := tds.HostUnknown
				if j < len(req.SetColumnKinds) {
					kind = req.SetColumnKinds[j]
				}
				s, err := EncodeLiteral(v, kind)
				if err != nil {
					return nil, fmt.Errorf("bridge: update row %d column %q: %w", i, req.SetColumns[j], err)
				}
				vals = append(vals, s)
			}
			tuples = append(tuples, "("+strings.Join(vals, ", ")+")")
		}
		batches = append(batches, header+strings.Join(tuples, ", ")+footer)
	}
	return batches, nil
}

// Update runs req against t, batched through BuildUpdateBatches.
func Update(ctx context.Context, exec Executor, t *catalog.Table, req UpdateRequest, maxRows, parameterCap int) error {
	batches, err := BuildUpdateBatches(t, req, maxRows, parameterCap)
	if err != nil {
		return err
	}
	_, err = runBatches(ctx, exec, batches)
	return err
}
