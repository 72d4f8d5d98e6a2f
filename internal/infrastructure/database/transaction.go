package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TxState is the lifecycle state of a Transaction.
type TxState int

// Transaction states. Committed and RolledBack are terminal and exclusive.
const (
	TxOpen TxState = iota
	TxCommitted
	TxRolledBack
)

// String returns the state name.
func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// rollbackTimeout bounds the implicit rollback issued by Close.
const rollbackTimeout = 5 * time.Second

// Transaction is an open unit of work on a Connection.
//
// Exactly one of Commit or Rollback may succeed. Close rolls back a
// transaction that is still open and never returns the rollback's failure,
// so it is safe to defer immediately after BeginTransaction.
type Transaction struct {
	_ noCopy

	conn       *Connection
	committed  bool
	rolledBack bool
}

// State returns the current lifecycle state.
func (tx *Transaction) State() TxState {
	switch {
	case tx.committed:
		return TxCommitted
	case tx.rolledBack:
		return TxRolledBack
	default:
		return TxOpen
	}
}

func (tx *Transaction) checkOpen(op string) error {
	if tx.committed {
		return &Error{Kind: KindTransaction, Op: op, Err: errors.New("transaction already committed")}
	}
	if tx.rolledBack {
		return &Error{Kind: KindTransaction, Op: op, Err: errors.New("transaction already rolled back")}
	}
	return nil
}

// Commit makes the transaction's writes durable.
//
// Returns:
//   - error: KindTransaction if the transaction is not open or COMMIT fails
func (tx *Transaction) Commit(ctx context.Context) error {
	if err := tx.checkOpen("commit"); err != nil {
		return err
	}
	if err := tx.conn.Commit(ctx); err != nil {
		return err
	}
	tx.committed = true
	return nil
}

// Rollback discards the transaction's writes.
//
// Returns:
//   - error: KindTransaction if the transaction is not open or ROLLBACK fails
func (tx *Transaction) Rollback(ctx context.Context) error {
	if err := tx.checkOpen("rollback"); err != nil {
		return err
	}
	if err := tx.conn.Rollback(ctx); err != nil {
		return err
	}
	tx.rolledBack = true
	return nil
}

// Close rolls back the transaction if it is still open. Rollback failures
// are logged as warnings. Closing a finished transaction is a no-op.
func (tx *Transaction) Close() {
	if tx.State() != TxOpen {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := tx.conn.Rollback(ctx); err != nil {
		tx.conn.logger.Warn("implicit rollback failed", "path", tx.conn.path, "error", err)
	}
	// The handle is no longer in a usable transaction either way.
	tx.rolledBack = true
}

// WithTransaction runs fn inside a transaction on conn. The transaction is
// committed when fn returns nil and rolled back otherwise.
//
// Example:
//
//	err := database.WithTransaction(ctx, conn, func(tx *database.Transaction) error {
//	    return conn.Execute(ctx, "DELETE FROM sequences WHERE state = 'archived'")
//	})
func WithTransaction(ctx context.Context, conn *Connection, fn func(tx *Transaction) error) error {
	tx, err := conn.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	if err := fn(tx); err != nil {
		return err
	}
	if tx.State() != TxOpen {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
