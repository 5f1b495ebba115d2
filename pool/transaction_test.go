package pool

import (
	"context"
	"testing"
	"time"

	"github.com/hugr-lab/mssql-extension/conn"
)

func TestTransactionPinCommitReturnsConnectionToPool(t *testing.T) {
	srv, port := startFakeTDSServer(t)
	defer srv.ln.Close()

	p := New(Config{ConnectionLimit: 2, ConnectionCache: true}, testFactory(t, port), nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx := NewTransaction(p, nil)
	c, err := tx.Pin(ctx)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	want := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	if tx.Descriptor() != want {
		t.Fatalf("expected descriptor %v, got %v", want, tx.Descriptor())
	}
	if c.TransactionDescriptor() != want {
		t.Fatalf("expected connection to carry the same descriptor")
	}

	// Pinning again must return the same connection without re-acquiring.
	c2, err := tx.Pin(ctx)
	if err != nil || c2 != c {
		t.Fatalf("expected Pin to be idempotent, got %v, %v", c2, err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if c.TransactionDescriptor() != ([8]byte{}) {
		t.Fatalf("expected descriptor cleared after commit")
	}
	if stats := p.Stats(); stats.Idle != 1 {
		t.Fatalf("expected connection returned to pool after commit, got %+v", stats)
	}

	if err := tx.Commit(ctx); err == nil {
		t.Fatalf("expected error committing an already-committed transaction")
	}
}

func TestTransactionRollbackReturnsConnectionToPool(t *testing.T) {
	srv, port := startFakeTDSServer(t)
	defer srv.ln.Close()

	p := New(Config{ConnectionLimit: 2, ConnectionCache: true}, testFactory(t, port), nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx := NewTransaction(p, nil)
	if _, err := tx.Pin(ctx); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if stats := p.Stats(); stats.Idle != 1 {
		t.Fatalf("expected connection returned to pool after rollback, got %+v", stats)
	}

	// Rollback is idempotent.
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("second Rollback should be a no-op, got %v", err)
	}
}

func TestTransactionUnpinnedCommitIsNoop(t *testing.T) {
	p := New(Config{ConnectionLimit: 1, ConnectionCache: true}, func(ctx context.Context) (*conn.Connection, error) {
		t.Fatalf("factory should not be called for an unpinned transaction")
		return nil, nil
	}, nil)
	defer p.Close()

	tx := NewTransaction(p, nil)
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("expected no-op commit on unpinned transaction, got %v", err)
	}
}

func TestTransactionAbandonClosesConnectionInsteadOfReleasing(t *testing.T) {
	srv, port := startFakeTDSServer(t)
	defer srv.ln.Close()

	p := New(Config{ConnectionLimit: 2, ConnectionCache: true}, testFactory(t, port), nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx := NewTransaction(p, nil)
	if _, err := tx.Pin(ctx); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	tx.Abandon()

	if stats := p.Stats(); stats.Idle != 0 {
		t.Fatalf("expected abandoned connection not returned to the idle pool, got %+v", stats)
	}
}
