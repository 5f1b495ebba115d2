package bridge

import (
	"context"

	"github.com/hugr-lab/mssql-extension/conn"
	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/tds"
)

// Row is one decoded result row plus the rowid synthesized from its
// primary-key columns.
type Row struct {
	Values []any
	RowID  RowID
}

// Scan drives one SelectPlan to completion: the host asks for rows a chunk
// at a time and rows are decoded on demand. The response message itself is
// not streamed from the wire: ExecuteBatch reads it in full before NewScan
// returns, so the whole result is held in memory.
type Scan struct {
	conn   *conn.Connection
	stream *conn.ResultStream
	plan   SelectPlan
}

// NewScan issues plan's SQL on c and returns a Scan ready to pull rows.
func NewScan(ctx context.Context, c *conn.Connection, plan SelectPlan) (*Scan, error) {
	rs, err := c.ExecuteBatch(ctx, plan.SQL)
	if err != nil {
		return nil, err
	}
	return &Scan{conn: c, stream: rs, plan: plan}, nil
}

// Plan returns the SelectPlan this scan is executing.
func (s *Scan) Plan() SelectPlan { return s.plan }

// Next decodes the next row. ok is false once the result set is exhausted.
func (s *Scan) Next() (Row, bool, error) {
	for {
		ev, ok, err := s.stream.Next()
		if err != nil {
			return Row{}, false, err
		}
		if !ok {
			return Row{}, false, nil
		}
		switch ev.Kind {
		case tds.EventRow:
			return Row{Values: ev.Row, RowID: BuildRowID(ev.Row, s.plan.RowIDIndexes)}, true, nil
		case tds.EventError:
			return Row{}, false, dberr.NewServerError(ev.SQLError.Message, ev.SQLError.Number, ev.SQLError.State, ev.SQLError.Class, ev.SQLError.ProcName, ev.SQLError.LineNumber)
		default:
			continue
		}
	}
}

// FillChunk pulls up to maxRows rows into a single slice, for a host that
// wants output in fixed-size vectorized chunks rather than one row at a
// time. done reports whether the result set is now exhausted.
func (s *Scan) FillChunk(maxRows int) (rows []Row, done bool, err error) {
	rows = make([]Row, 0, maxRows)
	for len(rows) < maxRows {
		row, ok, err := s.Next()
		if err != nil {
			return rows, false, err
		}
		if !ok {
			return rows, true, nil
		}
		rows = append(rows, row)
	}
	return rows, false, nil
}

// Cancel aborts an in-flight scan: it sends ATTENTION and drains to
// DONE_ATTN (conn.Connection.SendAttention already implements the drain),
// leaving the connection reusable afterward.
func (s *Scan) Cancel() error {
	return s.conn.SendAttention()
}
