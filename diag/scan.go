package diag

import (
	"context"

	"github.com/hugr-lab/mssql-extension/conn"
	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/pool"
	"github.com/hugr-lab/mssql-extension/tds"
)

// ScanResult streams an ad hoc diagnostic query's rows with its schema
// inferred from COLMETADATA. Unlike bridge.Scan it carries no rowid
// (diagnostic SQL is not tied to a table's primary key) and owns the
// connection it was acquired on, releasing it back to the pool on Close.
type ScanResult struct {
	pool   *pool.Pool
	conn   *conn.Connection
	stream *conn.ResultStream
	closed bool
}

// Columns returns the column set established by the query's COLMETADATA.
// It is only populated once Next has been called at least once.
func (s *ScanResult) Columns() []tds.Column {
	return s.stream.Columns()
}

// Next decodes the next row. ok is false once the stream is exhausted.
func (s *ScanResult) Next() ([]any, bool, error) {
	for {
		ev, ok, err := s.stream.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		switch ev.Kind {
		case tds.EventRow:
			return ev.Row, true, nil
		case tds.EventError:
			return nil, false, dberr.NewServerError(ev.SQLError.Message, ev.SQLError.Number, ev.SQLError.State, ev.SQLError.Class, ev.SQLError.ProcName, ev.SQLError.LineNumber)
		default:
			continue
		}
	}
}

// Close releases the underlying connection back to the pool. Safe to call
// more than once.
func (s *ScanResult) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Release(s.conn)
	return nil
}

// Scan is the "scan" diagnostic function: it runs sql against the named
// attachment and returns a ScanResult the caller drains row by row.
func (m *Manager) Scan(ctx context.Context, name, sql string) (*ScanResult, error) {
	a, err := m.resolveAttachment(name)
	if err != nil {
		return nil, err
	}
	c, err := a.Pool().Acquire(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := c.ExecuteBatch(ctx, sql)
	if err != nil {
		a.Pool().Release(c)
		return nil, err
	}
	return &ScanResult{pool: a.Pool(), conn: c, stream: stream}, nil
}
