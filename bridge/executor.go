// Package bridge implements the query/DML bridge: translating a
// host-issued scan (column projection, filter set) into pushed-down T-SQL,
// streaming the result back, synthesizing rowids from a table's primary
// key, and batching INSERT/UPDATE/DELETE/DDL into T-SQL statements run
// through the connection pool or a pinned transaction.
package bridge

import (
	"context"

	"github.com/hugr-lab/mssql-extension/conn"
)

// Executor runs one T-SQL batch and returns its streamed token response.
// *conn.Connection.ExecuteBatch and *pool.Transaction.Exec both have this
// exact signature, so every bridge operation works identically whether it
// runs on a freshly acquired connection or inside a host's pinned
// transaction — callers pass the bound method value rather
// than an interface.
type Executor func(ctx context.Context, sql string) (*conn.ResultStream, error)
