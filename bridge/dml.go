package bridge

import (
	"context"

	"github.com/hugr-lab/mssql-extension/conn"
	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/tds"
)

// drainRows runs rs to completion, collecting every decoded row (an
// OUTPUT/RETURNING result set, typically) and surfacing the first server
// ERROR token as a *dberr.ServerError. DML batches are statement-atomic:
// the first error aborts the remaining rows in that batch.
func drainRows(rs *conn.ResultStream) ([][]any, error) {
	var rows [][]any
	for {
		ev, ok, err := rs.Next()
		if err != nil {
			return rows, err
		}
		if !ok {
			return rows, nil
		}
		switch ev.Kind {
		case tds.EventRow:
			rows = append(rows, ev.Row)
		case tds.EventError:
			return rows, dberr.NewServerError(ev.SQLError.Message, ev.SQLError.Number, ev.SQLError.State, ev.SQLError.Class, ev.SQLError.ProcName, ev.SQLError.LineNumber)
		}
	}
}

// runBatches executes each sql statement in order through exec, collecting
// rows returned by OUTPUT/RETURNING clauses. A batch failure stops before
// running the remaining statements, so the host can determine exactly
// which row range committed by cross-referencing the returned row count
// against the batch it was building.
func runBatches(ctx context.Context, exec Executor, batches []string) ([][]any, error) {
	var all [][]any
	for _, sql := range batches {
		rs, err := exec(ctx, sql)
		if err != nil {
			return all, err
		}
		rows, err := drainRows(rs)
		all = append(all, rows...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// effectiveBatchSize caps configuredBatch so that configuredBatch rows,
// each contributing paramsPerRow literal values, never exceeds
// SQL Server's 2100-parameter statement limit (the
// parameter_cap, default 2000 to leave headroom). paramsPerRow <= 0 is
// treated as 1 to avoid a division by zero.
func effectiveBatchSize(configuredBatch, parameterCap, paramsPerRow int) int {
	if paramsPerRow <= 0 {
		paramsPerRow = 1
	}
	if parameterCap <= 0 {
		return configuredBatch
	}
	capped := parameterCap / paramsPerRow
	if capped <= 0 {
		capped = 1
	}
	if configuredBatch <= 0 || capped < configuredBatch {
		return capped
	}
	return configuredBatch
}
