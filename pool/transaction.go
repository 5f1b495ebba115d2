package pool

import (
	"context"
	"sync"

	"github.com/hugr-lab/mssql-extension/conn"
	"github.com/hugr-lab/mssql-extension/dberr"
	"github.com/hugr-lab/mssql-extension/log"
	"github.com/hugr-lab/mssql-extension/tds"
)

// Transaction implements the transaction pinning: created with
// no pinned connection, it acquires one lazily on its first operation and
// holds it for the transaction's lifetime, propagating the server-assigned
// transaction descriptor through every subsequent batch.
type Transaction struct {
	pool *Pool

	mu         sync.Mutex
	conn       *conn.Connection
	descriptor [8]byte
	pinned     bool
	done       bool
	log        log.Logger
}

// NewTransaction creates an unpinned Transaction bound to pool. The first
// Pin or Exec acquires the connection and issues BEGIN TRANSACTION.
func NewTransaction(pool *Pool, logger log.Logger) *Transaction {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Transaction{pool: pool, log: logger.WithFields(log.String("component", "transaction"))}
}

// Pin acquires a connection from the pool (if not already pinned), issues
// BEGIN TRANSACTION, and stores the ENVCHANGE-carried descriptor on both the
// transaction and the connection so every subsequent ExecuteBatch on this
// connection carries it via ALL_HEADERS.
func (tx *Transaction) Pin(ctx context.Context) (*conn.Connection, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return nil, dberr.NewBadConfigurationError("transaction", "already committed or rolled back")
	}
	if tx.pinned {
		return tx.conn, nil
	}

	c, err := tx.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	descriptor, err := execForTxDescriptor(ctx, c, "BEGIN TRANSACTION;")
	if err != nil {
		tx.pool.Release(c)
		return nil, err
	}

	c.SetTransactionDescriptor(descriptor)
	tx.conn = c
	tx.descriptor = descriptor
	tx.pinned = true
	return tx.conn, nil
}

// execForTxDescriptor runs sql on c and returns the 8-byte descriptor from
// the last ENVCHANGE transaction-begin/commit/rollback token observed, or
// the connection's existing descriptor if the server sent none (COMMIT and
// ROLLBACK clear it implicitly).
func execForTxDescriptor(ctx context.Context, c *conn.Connection, sql string) ([8]byte, error) {
	rs, err := c.ExecuteBatch(ctx, sql)
	if err != nil {
		return [8]byte{}, err
	}
	descriptor := c.TransactionDescriptor()
	for {
		ev, ok, err := rs.Next()
		if err != nil {
			return [8]byte{}, err
		}
		if !ok {
			break
		}
		if ev.Kind == tds.EventEnvChange && isTransactionEnvChange(ev.EnvChange.Type) {
			if len(ev.EnvChange.NewValue) == 8 {
				copy(descriptor[:], ev.EnvChange.NewValue)
			} else if len(ev.EnvChange.NewValue) == 0 {
				descriptor = [8]byte{}
			}
		}
		if ev.Kind == tds.EventError {
			return [8]byte{}, dberr.NewServerError(ev.SQLError.Message, ev.SQLError.Number, ev.SQLError.State, ev.SQLError.Class, ev.SQLError.ProcName, ev.SQLError.LineNumber)
		}
	}
	return descriptor, nil
}

func isTransactionEnvChange(t tds.EnvChangeType) bool {
	return t == tds.EnvChangeBeginTrans || t == tds.EnvChangeCommitTrans || t == tds.EnvChangeRollbackTrans
}

// Exec runs sql on the transaction's pinned connection, pinning it first if
// this is the first operation.
func (tx *Transaction) Exec(ctx context.Context, sql string) (*conn.ResultStream, error) {
	c, err := tx.Pin(ctx)
	if err != nil {
		return nil, err
	}
	return c.ExecuteBatch(ctx, sql)
}

// Commit issues COMMIT TRANSACTION on the pinned connection, clears the
// descriptor, and returns the connection to the pool. A no-op (returns nil)
// if the transaction never pinned a connection.
func (tx *Transaction) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return dberr.NewBadConfigurationError("transaction", "already committed or rolled back")
	}
	if !tx.pinned {
		tx.done = true
		return nil
	}

	_, err := execForTxDescriptor(ctx, tx.conn, "COMMIT TRANSACTION;")
	tx.conn.SetTransactionDescriptor([8]byte{})
	tx.done = true
	tx.pool.Release(tx.conn)
	return err
}

// Rollback issues ROLLBACK TRANSACTION on the pinned connection. Unlike
// Commit, a failure here is logged rather than returned: the connection must
// always return to the pool since the rollback intent is unambiguous.
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return nil
	}
	if !tx.pinned {
		tx.done = true
		return nil
	}

	_, err := execForTxDescriptor(ctx, tx.conn, "ROLLBACK TRANSACTION;")
	if err != nil {
		tx.log.Warn("rollback failed on pinned connection", log.Error("error", err))
	}
	tx.conn.SetTransactionDescriptor([8]byte{})
	tx.done = true
	tx.pool.Release(tx.conn)
	return nil
}

// Abandon closes the pinned connection outright instead of releasing it, so
// the server rolls back automatically (the "on abandonment"
// rule). Used when the host destroys the transaction object without an
// explicit Commit/Rollback.
func (tx *Transaction) Abandon() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done || !tx.pinned {
		tx.done = true
		return
	}
	tx.done = true
	_ = tx.conn.Close()
}

// Descriptor returns the 8-byte transaction descriptor, or zero if the
// transaction has not yet pinned a connection.
func (tx *Transaction) Descriptor() [8]byte {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.descriptor
}

