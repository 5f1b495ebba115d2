package diag

import (
	"context"

	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/tds"
)

// Exec is the "exec" diagnostic function: it runs sql against the named
// attachment and returns the affected row count accumulated from every
// DONE_COUNT token in the response (a batch may carry several statements).
func (m *Manager) Exec(ctx context.Context, name, sql string) (int64, error) {
	a, err := m.resolveAttachment(name)
	if err != nil {
		return 0, err
	}
	c, err := a.Pool().Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer a.Pool().Release(c)

	stream, err := c.ExecuteBatch(ctx, sql)
	if err != nil {
		return 0, err
	}

	var affected int64
	for {
		ev, ok, err := stream.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			return affected, nil
		}
		switch ev.Kind {
		case tds.EventError:
			return 0, dberr.NewServerError(ev.SQLError.Message, ev.SQLError.Number, ev.SQLError.State, ev.SQLError.Class, ev.SQLError.ProcName, ev.SQLError.LineNumber)
		case tds.EventDone, tds.EventDoneProc, tds.EventDoneInProc:
			if ev.Done.HasCount {
				affected += int64(ev.Done.RowCount)
			}
		}
	}
}
