// Package database provides the SQLite persistence primitives for Lithium.
//
// This package manages:
//   - Connection: one owned SQLite handle, opened and configured once
//   - Statement: prepared, parameterised queries with typed bind/read
//   - Transaction: a unit of work that rolls back unless committed
//   - Schema migrations applied from an fs.FS, one transaction each
//
// Index Conventions:
//
// Statement parameters are 1-based and result columns are 0-based, exactly
// as SQLite numbers them. Out-of-range indices fail with ErrValidation
// before the handle is touched.
//
// Concurrency:
//
// Nothing in this package is internally synchronised. A Connection and
// every Statement and Transaction created from it must be used by one
// goroutine at a time; callers that share a Connection must hold their
// own mutex around each use. Give each worker its own Connection where
// possible.
//
// Error Handling:
//
// Every failure is a *Error whose Kind selects a sentinel for errors.Is:
//
//	if errors.Is(err, database.ErrValidation) { ... }
//	if errors.Is(err, database.ErrSQLExecution) { ... }
//
// Backend failures are logged with SQLite's own message before they are
// returned. Two cleanup paths log and swallow instead: the optimize pass in
// Connection.Close and the implicit rollback in Transaction.Close.
//
// Usage:
//
//	conn, err := database.Open(ctx, "/var/lib/lithium/lithium.db", database.DefaultOpenFlags,
//	    database.WithLogger(log),
//	    database.WithPragmas(database.RecommendedPragmas()),
//	)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	stmt, err := conn.Prepare(ctx, "SELECT name FROM sequences WHERE state = ?")
//	if err != nil {
//	    return err
//	}
//	defer stmt.Close()
//
//	_ = stmt.BindText(1, "running")
//	for {
//	    ok, err := stmt.Step(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    name, _ := stmt.GetText(0)
//	    ...
//	}
package database
