package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory store.
const MemoryPath = ":memory:"

// Connection constants.
const (
	// defaultBusyTimeout is how long SQLite waits on a locked database.
	defaultBusyTimeout = 5 * time.Second

	// closeTimeout bounds the optimize pass run by Close.
	closeTimeout = 5 * time.Second

	// dirPermissions for the directory holding the store file.
	dirPermissions = 0750
)

// OpenFlags select how the store file is opened.
type OpenFlags int

// Open flags. They mirror sqlite3_open_v2 flags and are translated into
// URI parameters understood by the driver.
const (
	OpenReadOnly OpenFlags = 1 << iota
	OpenReadWrite
	OpenCreate
	// OpenURI means path is already a "file:" URI and is passed through.
	OpenURI
	// OpenMemory opens a named in-memory store (mode=memory).
	OpenMemory
	// OpenSharedCache enables SQLite shared-cache mode.
	OpenSharedCache
)

// DefaultOpenFlags opens read/write, creating the file when missing.
const DefaultOpenFlags = OpenReadWrite | OpenCreate

// Logger defines the logging interface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// noCopy lets go vet flag accidental copies of a Connection.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Connection owns a single SQLite handle.
//
// It is the only creator of Statements and Transactions. A Connection is
// always used through a pointer; copying one would duplicate ownership of
// the handle.
//
// Thread Safety:
//   - A Connection is NOT safe for concurrent use. Callers must serialise
//     access (one Connection per goroutine, or an external mutex). The same
//     applies to every Statement and Transaction created from it.
type Connection struct {
	_ noCopy

	conn   *sqlite3.SQLiteConn
	path   string
	flags  OpenFlags
	valid  bool
	logger Logger

	busyTimeout time.Duration
	pragmas     map[string]string

	lastInsertID int64
	changes      int64
}

// Option configures Open.
type Option func(*Connection)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPragmas adds settings applied after the baseline configuration.
func WithPragmas(pragmas map[string]string) Option {
	return func(c *Connection) {
		for k, v := range pragmas {
			c.pragmas[k] = v
		}
	}
}

// WithBusyTimeout overrides how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d >= 0 {
			c.busyTimeout = d
		}
	}
}

// Open opens the store at path and applies the baseline configuration
// (foreign keys on, WAL journal, NORMAL synchronous), then any pragmas
// given through WithPragmas.
//
// Parameters:
//   - ctx: Context for the configuration statements
//   - path: Filesystem path, MemoryPath, or a "file:" URI with OpenURI
//   - flags: Combination of Open* flags; 0 means DefaultOpenFlags
//
// Returns:
//   - *Connection: Valid connection ready for use
//   - error: KindDatabaseOpen if the handle cannot be opened; the
//     configuration error if a pragma fails (the handle is released)
func Open(ctx context.Context, path string, flags OpenFlags, opts ...Option) (*Connection, error) {
	if flags == 0 {
		flags = DefaultOpenFlags
	}

	c := &Connection{
		path:        path,
		flags:       flags,
		logger:      noopLogger{},
		busyTimeout: defaultBusyTimeout,
		pragmas:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}

	if strings.TrimSpace(path) == "" {
		return nil, NewValidationError("open", "database path cannot be empty")
	}

	if flags&OpenCreate != 0 && flags&(OpenURI|OpenMemory) == 0 && path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, &Error{Kind: KindDatabaseOpen, Op: "open " + path, Err: fmt.Errorf("creating database directory: %w", err)}
		}
	}

	dsn := buildDSN(path, flags, c.busyTimeout)
	drv := &sqlite3.SQLiteDriver{}
	dc, err := drv.Open(dsn)
	if err != nil {
		c.logger.Error("failed to open database", "path", path, "error", err)
		return nil, newError(KindDatabaseOpen, "open "+path, "", err)
	}
	conn, ok := dc.(*sqlite3.SQLiteConn)
	if !ok {
		dc.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, &Error{Kind: KindDatabaseOpen, Op: "open " + path, Err: fmt.Errorf("unexpected driver connection %T", dc)}
	}
	c.conn = conn

	if err := c.applyPragmas(ctx, c.baseline()); err != nil {
		c.release()
		return nil, fmt.Errorf("configuring database: %w", err)
	}
	if len(c.pragmas) > 0 {
		if err := c.applyPragmas(ctx, sortedPragmas(c.pragmas)); err != nil {
			c.release()
			return nil, fmt.Errorf("configuring database: %w", err)
		}
	}

	c.valid = true
	c.logger.Info("database opened", "path", path, "sqlite_version", Version())
	return c, nil
}

// buildDSN translates flags into a driver connection string.
// See: https://github.com/mattn/go-sqlite3#connection-string
func buildDSN(path string, flags OpenFlags, busy time.Duration) string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))

	switch {
	case flags&OpenMemory != 0:
		params.Set("mode", "memory")
	case flags&OpenReadOnly != 0:
		params.Set("mode", "ro")
	case flags&OpenCreate != 0:
		params.Set("mode", "rwc")
	default:
		params.Set("mode", "rw")
	}
	if flags&OpenSharedCache != 0 {
		params.Set("cache", "shared")
	}

	if flags&OpenURI != 0 && strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params.Encode()
	}
	if path == MemoryPath {
		params.Del("mode")
		return "file::memory:?" + params.Encode()
	}

	escaped := strings.NewReplacer("?", "%3f", "#", "%23").Replace(path)
	return "file:" + escaped + "?" + params.Encode()
}

// baseline returns the settings every connection is opened with.
func (c *Connection) baseline() []pragma {
	p := []pragma{{"foreign_keys", "ON"}}
	if !c.inMemory() && c.flags&OpenReadOnly == 0 {
		p = append(p, pragma{"journal_mode", "WAL"})
	}
	return append(p, pragma{"synchronous", "NORMAL"})
}

func (c *Connection) inMemory() bool {
	return c.path == MemoryPath || c.flags&OpenMemory != 0 || strings.Contains(c.path, "mode=memory")
}

// IsValid reports whether the connection is open and configured.
func (c *Connection) IsValid() bool {
	return c != nil && c.valid && c.conn != nil
}

// Path returns the path the connection was opened with.
func (c *Connection) Path() string {
	return c.path
}

// InTransaction reports whether an explicit transaction is open on the handle.
func (c *Connection) InTransaction() bool {
	if !c.IsValid() {
		return false
	}
	return !c.conn.AutoCommit()
}

// LastInsertID returns the rowid of the most recent successful INSERT
// made through Execute or Statement.Execute.
func (c *Connection) LastInsertID() int64 {
	return c.lastInsertID
}

// Changes returns the number of rows modified by the most recent
// Execute or Statement.Execute.
func (c *Connection) Changes() int64 {
	return c.changes
}

// check fails fast when the connection is not usable.
func (c *Connection) check(op string) error {
	if !c.IsValid() {
		return validationError(op, ErrConnectionClosed, "operation on invalid connection")
	}
	return nil
}

// Execute runs sql without capturing results. Multiple statements
// separated by semicolons are executed in order.
//
// Returns:
//   - error: KindValidation on an invalid connection, KindSQLExecution
//     with the backend's message if SQLite rejects the statement
func (c *Connection) Execute(ctx context.Context, sql string) error {
	if err := c.check("execute"); err != nil {
		return err
	}
	return c.exec(ctx, sql)
}

// exec runs sql on the handle without the validity check.
func (c *Connection) exec(ctx context.Context, sql string) error {
	res, err := c.conn.ExecContext(ctx, sql, nil)
	if err != nil {
		c.logger.Error("sql execution failed", "sql", sql, "error", err)
		return newError(KindSQLExecution, "execute", sql, err)
	}
	c.recordResult(res)
	return nil
}

func (c *Connection) recordResult(res driver.Result) {
	if res == nil {
		return
	}
	if id, err := res.LastInsertId(); err == nil {
		c.lastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		c.changes = n
	}
}

// Configure applies named settings as PRAGMA statements, in key order,
// stopping at the first failure.
//
// Example:
//
//	err := conn.Configure(ctx, map[string]string{
//	    "cache_size": "-2000",
//	    "temp_store": "MEMORY",
//	})
func (c *Connection) Configure(ctx context.Context, pragmas map[string]string) error {
	if err := c.check("configure"); err != nil {
		return err
	}
	return c.applyPragmas(ctx, sortedPragmas(pragmas))
}

func (c *Connection) applyPragmas(ctx context.Context, pragmas []pragma) error {
	for _, p := range pragmas {
		if err := p.validate(); err != nil {
			return err
		}
		if err := c.exec(ctx, p.statement()); err != nil {
			return err
		}
		c.logger.Debug("pragma applied", "name", p.name, "value", p.value)
	}
	return nil
}

// Pragma reads back the current value of a setting.
func (c *Connection) Pragma(ctx context.Context, name string) (string, error) {
	if err := c.check("pragma"); err != nil {
		return "", err
	}
	p := pragma{name: name}
	if err := p.validate(); err != nil {
		return "", err
	}
	stmt, err := c.Prepare(ctx, "PRAGMA "+name)
	if err != nil {
		return "", err
	}
	defer stmt.Close() //nolint:errcheck // Read-only statement

	ok, err := stmt.Step(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return stmt.GetText(0)
}

// Prepare compiles sql into a Statement bound to this connection.
//
// Returns:
//   - *Statement: Prepared statement; the caller must Close it
//   - error: KindValidation on an invalid connection, KindStatementPrepare
//     if SQLite rejects the text
func (c *Connection) Prepare(ctx context.Context, sql string) (*Statement, error) {
	if err := c.check("prepare"); err != nil {
		return nil, err
	}
	return newStatement(ctx, c, sql)
}

// BeginTransaction starts a unit of work. The returned Transaction must be
// finished with Commit or Rollback, or closed; Close rolls back an open
// transaction.
//
// Example:
//
//	tx, err := conn.BeginTransaction(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Close() // No-op after Commit
//
//	// ... execute statements on conn ...
//
//	return tx.Commit(ctx)
func (c *Connection) BeginTransaction(ctx context.Context) (*Transaction, error) {
	if err := c.check("begin transaction"); err != nil {
		return nil, err
	}
	if err := c.exec(ctx, "BEGIN TRANSACTION"); err != nil {
		return nil, &Error{Kind: KindTransaction, Op: "begin transaction", Err: err}
	}
	return &Transaction{conn: c}, nil
}

// Commit executes COMMIT on the connection.
func (c *Connection) Commit(ctx context.Context) error {
	return c.endTransaction(ctx, "COMMIT", "commit")
}

// Rollback executes ROLLBACK on the connection.
func (c *Connection) Rollback(ctx context.Context) error {
	return c.endTransaction(ctx, "ROLLBACK", "rollback")
}

func (c *Connection) endTransaction(ctx context.Context, sql, op string) error {
	if err := c.check(op); err != nil {
		return &Error{Kind: KindTransaction, Op: op, Err: err}
	}
	if err := c.exec(ctx, sql); err != nil {
		return &Error{Kind: KindTransaction, Op: op, Err: err}
	}
	return nil
}

// HealthCheck verifies the store answers a trivial query.
func (c *Connection) HealthCheck(ctx context.Context) error {
	stmt, err := c.Prepare(ctx, "SELECT 1")
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Read-only statement

	if _, err := stmt.Step(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Optimize runs SQLite's storage-optimisation pass.
func (c *Connection) Optimize(ctx context.Context) error {
	return c.Execute(ctx, "PRAGMA optimize")
}

// Close runs a best-effort optimisation pass and releases the handle.
// Optimisation failures are logged as warnings and never returned.
// Closing an invalid connection is a no-op.
//
// Returns:
//   - error: If the handle itself cannot be closed
func (c *Connection) Close() error {
	if !c.IsValid() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if c.flags&OpenReadOnly == 0 {
		if err := c.exec(ctx, "PRAGMA optimize"); err != nil {
			c.logger.Warn("optimize on close failed", "path", c.path, "error", err)
		}
	}

	c.valid = false
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("closing database handle failed", "path", c.path, "error", err)
		return fmt.Errorf("closing database: %w", err)
	}
	c.conn = nil
	c.logger.Info("database closed", "path", c.path)
	return nil
}

// release drops the handle after a failed Open.
func (c *Connection) release() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("releasing database handle failed", "path", c.path, "error", err)
		}
		c.conn = nil
	}
	c.valid = false
}

// Version returns the linked SQLite library version.
func Version() string {
	v, _, _ := sqlite3.Version()
	return v
}
