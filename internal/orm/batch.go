package orm

import (
	"context"
	"fmt"
	"time"

	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
)

// DefaultChunkSize is the number of rows written per transaction by the
// batch operations when no chunk size is given.
const DefaultChunkSize = 100

// BatchInsert inserts models in chunks of chunkSize, each chunk in its own
// transaction.
//
// # Partial failure
//
// If chunk N fails, chunk N is rolled back and the error is returned.
// Chunks before N stay committed; chunks after N are not attempted. The
// whole batch is therefore NOT atomic. Callers needing all-or-nothing
// should use Insert inside their own Transaction.
//
// Parameters:
//   - ctx: Context for the SQL statements
//   - models: Rows to insert, in order
//   - chunkSize: Rows per transaction; <= 0 means DefaultChunkSize
//
// Returns:
//   - error: The failing chunk's error, wrapped with its position
func (t *Table[M]) BatchInsert(ctx context.Context, models []M, chunkSize int) error {
	if len(models) == 0 {
		t.logger.Warn("batch insert called with no models", "table", t.Name())
		return nil
	}
	return t.batch(ctx, OpInsert, models, chunkSize, t.insertChunk)
}

// BatchUpdate updates models in chunks of chunkSize, each chunk in its own
// transaction, using cond(m) as the WHERE clause of each row. Failure
// semantics match BatchInsert.
func (t *Table[M]) BatchUpdate(ctx context.Context, models []M, cond func(M) string, chunkSize int) error {
	if len(models) == 0 {
		t.logger.Warn("batch update called with no models", "table", t.Name())
		return nil
	}
	if cond == nil {
		return database.NewValidationError("batch update "+t.Name(), "condition builder cannot be nil")
	}
	return t.batch(ctx, OpUpdate, models, chunkSize, func(ctx context.Context, chunk []M) error {
		return t.updateChunk(ctx, chunk, cond)
	})
}

// batch runs write once per chunk, each inside its own transaction.
func (t *Table[M]) batch(ctx context.Context, op string, models []M, chunkSize int, write func(context.Context, []M) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	start := time.Now()
	var written int64
	t.logger.Info("starting batch", "table", t.Name(), "op", op, "rows", len(models), "chunk_size", chunkSize)

	for from := 0; from < len(models); from += chunkSize {
		to := min(from+chunkSize, len(models))
		chunk := models[from:to]

		err := database.WithTransaction(ctx, t.conn, func(*database.Transaction) error {
			return write(ctx, chunk)
		})
		if err != nil {
			err = fmt.Errorf("batch %s on %s: chunk at row %d (rows %d-%d rolled back, %d rows committed): %w",
				op, t.Name(), from, from, to-1, written, err)
			t.observe(op, start, written, err)
			return err
		}
		written += int64(len(chunk))
		t.logger.Debug("batch chunk committed", "table", t.Name(), "op", op, "rows", written)
	}

	t.observe(op, start, written, nil)
	t.logger.Info("batch completed", "table", t.Name(), "op", op, "rows", written)
	return nil
}

// insertChunk reuses one prepared INSERT for the whole chunk.
func (t *Table[M]) insertChunk(ctx context.Context, chunk []M) error {
	stmt, err := t.conn.Prepare(ctx, t.insertSQL())
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck // Finalized before commit

	for i := range chunk {
		if err := t.validate(&chunk[i]); err != nil {
			return err
		}
		if err := t.bindModel(stmt, &chunk[i], nil); err != nil {
			return err
		}
		if err := stmt.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[M]) updateChunk(ctx context.Context, chunk []M, cond func(M) string) error {
	for i := range chunk {
		m := chunk[i]
		where := cond(m)
		if where == "" {
			return database.NewValidationError("batch update "+t.Name(), "condition cannot be empty")
		}
		if err := t.validate(&m); err != nil {
			return err
		}
		err := t.execPrepared(ctx, t.updateSQL(where), func(stmt *database.Statement) error {
			return t.bindModel(stmt, &m, nil)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
