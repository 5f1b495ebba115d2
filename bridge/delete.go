package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/catalog"
	"github.com/hugr-lab/mssql-extension/tds"
)

// DeleteRequest describes a batch of per-row DELETEs against one table,
// identified by rowid, following the VALUES-join-by-primary-key
// DML pattern.
type DeleteRequest struct {
	RowIDs []RowID
}

// BuildDeleteBatches splits req into one or more
//
//	DELETE t FROM [schema].[table] AS t
//	INNER JOIN (VALUES (pk1, ...), ...) AS v(pk1, ...)
//	ON t.[pk1] = v.[pk1] AND ...;
//
// statements, batched the same way BuildUpdateBatches is.
func BuildDeleteBatches(t *catalog.Table, req DeleteRequest, maxRows, parameterCap int) ([]string, error) {
	if len(req.RowIDs) == 0 {
		return nil, nil
	}
	pk, err := RowIDColumns(t)
	if err != nil {
		return nil, err
	}

	batchSize := effectiveBatchSize(maxRows, parameterCap, len(pk))

	pkCols := make([]string, len(pk))
	for i, c := range pk {
		pkCols[i] = QuoteIdent(c)
	}
	joinClauses := make([]string, len(pkCols))
	for i, c := range pkCols {
		joinClauses[i] = fmt.Sprintf("t.%s = v.%s", c, c)
	}

	header := fmt.Sprintf("DELETE t FROM %s AS t INNER JOIN (VALUES ", QuoteQualified(t.Schema, t.Name))
	footer := fmt.Sprintf(") AS v(%s) ON %s;", strings.Join(pkCols, ", "), strings.Join(joinClauses, " AND "))

	var batches []string
	for start := 0; start < len(req.RowIDs); start += batchSize {
		end := start + batchSize
		if end > len(req.RowIDs) {
			end = len(req.RowIDs)
		}
		tuples := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			vals := make([]string, len(req.RowIDs[i].Values))
			for j, pv := range req.RowIDs[i].Values {
				s, err := EncodeLiteral(pv, tds.HostUnknown)
				if err != nil {
					return nil, fmt.Errorf("bridge: delete row %d rowid: %w", i, err)
				}
				vals[j] = s
			}
			tuples = append(tuples, "("+strings.Join(vals, ", ")+")")
		}
		batches = append(batches, header+strings.Join(tuples, ", ")+footer)
	}
	return batches, nil
}

// Delete runs req against t, batched through BuildDeleteBatches.
func Delete(ctx context.Context, exec Executor, t *catalog.Table, req DeleteRequest, maxRows, parameterCap int) error {
	batches, err := BuildDeleteBatches(t, req, maxRows, parameterCap)
	if err != nil {
		return err
	}
	_, err = runBatches(ctx, exec, batches)
	return err
}
