package database

import (
	"context"
	"errors"
	"testing"
)

func TestTransactionCommit(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	mustExec(t, conn, "CREATE TABLE frames (id INTEGER PRIMARY KEY, name TEXT)")

	tx, err := conn.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	defer tx.Close()

	if !conn.InTransaction() {
		t.Error("InTransaction() = false inside transaction")
	}
	mustExec(t, conn, "INSERT INTO frames (name) VALUES ('light_001')")

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if tx.State() != TxCommitted {
		t.Errorf("State() = %v, want committed", tx.State())
	}
	if conn.InTransaction() {
		t.Error("InTransaction() = true after commit")
	}
	if got := countRows(t, conn, "frames"); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}

	// Terminal states are exclusive.
	if err := tx.Rollback(ctx); !errors.Is(err, ErrTransaction) {
		t.Errorf("Rollback after Commit error = %v, want ErrTransaction", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, ErrTransaction) {
		t.Errorf("second Commit error = %v, want ErrTransaction", err)
	}
	if tx.State() != TxCommitted {
		t.Errorf("State() changed to %v", tx.State())
	}
}

func TestTransactionRollback(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	mustExec(t, conn, "CREATE TABLE frames (id INTEGER PRIMARY KEY, name TEXT)")

	tx, err := conn.BeginTransaction(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mustExec(t, conn, "INSERT INTO frames (name) VALUES ('light_001')")

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, ErrTransaction) {
		t.Errorf("Commit after Rollback error = %v, want ErrTransaction", err)
	}
	if got := countRows(t, conn, "frames"); got != 0 {
		t.Errorf("rows = %d, want 0", got)
	}
	tx.Close() // no-op
}

// TestTransactionCloseRollsBack verifies an unfinished transaction leaves
// the store as it was.
func TestTransactionCloseRollsBack(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	mustExec(t, conn, "CREATE TABLE frames (id INTEGER PRIMARY KEY, name TEXT)")
	mustExec(t, conn, "INSERT INTO frames (name) VALUES ('existing')")

	work := func() error {
		tx, err := conn.BeginTransaction(ctx)
		if err != nil {
			return err
		}
		defer tx.Close()

		for i := 0; i < 5; i++ {
			if err := conn.Execute(ctx, "INSERT INTO frames (name) VALUES ('pending')"); err != nil {
				return err
			}
		}
		return errors.New("aborted before commit")
	}

	if err := work(); err == nil {
		t.Fatal("work() should fail")
	}
	if got := countRows(t, conn, "frames"); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
	if conn.InTransaction() {
		t.Error("transaction left open")
	}
}

func TestTransactionCloseSwallowsFailure(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, MemoryPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := conn.BeginTransaction(ctx)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close() //nolint:errcheck // Forces the implicit rollback to fail

	tx.Close()
	if tx.State() != TxRolledBack {
		t.Errorf("State() = %v, want rolled_back", tx.State())
	}
}

func TestNestedBeginFails(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	tx, err := conn.BeginTransaction(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Close()

	if _, err := conn.BeginTransaction(ctx); !errors.Is(err, ErrTransaction) {
		t.Errorf("nested BeginTransaction error = %v, want ErrTransaction", err)
	}
}

func TestWithTransaction(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	mustExec(t, conn, "CREATE TABLE frames (name TEXT)")

	err := WithTransaction(ctx, conn, func(*Transaction) error {
		return conn.Execute(ctx, "INSERT INTO frames VALUES ('a')")
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}

	errBoom := errors.New("boom")
	err = WithTransaction(ctx, conn, func(*Transaction) error {
		if err := conn.Execute(ctx, "INSERT INTO frames VALUES ('b')"); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("WithTransaction() error = %v, want boom", err)
	}

	err = WithTransaction(ctx, conn, func(tx *Transaction) error {
		if err := conn.Execute(ctx, "INSERT INTO frames VALUES ('c')"); err != nil {
			return err
		}
		return tx.Rollback(ctx)
	})
	if err != nil {
		t.Fatalf("WithTransaction(explicit rollback) error = %v", err)
	}

	if got := countRows(t, conn, "frames"); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
}
