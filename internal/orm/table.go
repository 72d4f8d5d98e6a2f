package orm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
	"github.com/lithium-next/lithium-core/internal/query"
)

// Table operation names reported to an Observer.
const (
	OpCreate = "create"
	OpDrop   = "drop"
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpQuery  = "query"
	OpCount  = "count"
	OpIndex  = "index"
)

// Logger defines the logging interface used by Table.
// Compatible with logging.Logger and slog.Logger.
type Logger = database.Logger

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is notified after every table operation, successful or not.
// rows is the number of rows written or returned.
type Observer interface {
	OnTableOp(table, op string, rows int64, elapsed time.Duration, err error)
}

// Observers fans a notification out to several observers.
type Observers []Observer

// OnTableOp implements Observer.
func (o Observers) OnTableOp(table, op string, rows int64, elapsed time.Duration, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.OnTableOp(table, op, rows, elapsed, err)
		}
	}
}

// Validator is implemented by models that check themselves before they
// are written. A failure is reported as database.ErrValidation.
type Validator interface {
	Validate() error
}

// Table provides typed CRUD over one Schema.
//
// A Table uses its Connection directly and inherits its concurrency rule:
// one goroutine at a time.
type Table[M any] struct {
	conn     *database.Connection
	schema   *Schema[M]
	logger   Logger
	observer Observer
}

// TableOption configures a Table.
type TableOption func(*tableConfig)

type tableConfig struct {
	logger   Logger
	observer Observer
}

// WithLogger sets the logger for SQL tracing and failures.
func WithLogger(logger Logger) TableOption {
	return func(c *tableConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets the Observer notified after each operation.
func WithObserver(obs Observer) TableOption {
	return func(c *tableConfig) {
		c.observer = obs
	}
}

// NewTable returns a Table for schema on conn.
func NewTable[M any](conn *database.Connection, schema *Schema[M], opts ...TableOption) *Table[M] {
	cfg := tableConfig{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Table[M]{
		conn:     conn,
		schema:   schema,
		logger:   cfg.logger,
		observer: cfg.observer,
	}
}

// Name returns the table name.
func (t *Table[M]) Name() string {
	return t.schema.Table()
}

// Schema returns the table's schema.
func (t *Table[M]) Schema() *Schema[M] {
	return t.schema
}

// Columns returns the column names in declared order.
func (t *Table[M]) Columns() []string {
	return t.schema.ColumnNames()
}

func (t *Table[M]) observe(op string, start time.Time, rows int64, err error) {
	if err != nil {
		t.logger.Error("table operation failed", "table", t.Name(), "op", op, "error", err)
	}
	if t.observer != nil {
		t.observer.OnTableOp(t.Name(), op, rows, time.Since(start), err)
	}
}

// CreateTable creates the table from the schema's columns.
func (t *Table[M]) CreateTable(ctx context.Context, ifNotExists bool) (err error) {
	start := time.Now()
	defer func() { t.observe(OpCreate, start, 0, err) }()

	sql := "CREATE TABLE "
	if ifNotExists {
		sql += "IF NOT EXISTS "
	}
	sql += t.Name() + " (" + t.schema.Definition() + ")"

	t.logger.Debug("creating table", "table", t.Name(), "sql", sql)
	return t.conn.Execute(ctx, sql)
}

// DropTable drops the table.
func (t *Table[M]) DropTable(ctx context.Context, ifExists bool) (err error) {
	start := time.Now()
	defer func() { t.observe(OpDrop, start, 0, err) }()

	sql := "DROP TABLE "
	if ifExists {
		sql += "IF EXISTS "
	}
	return t.conn.Execute(ctx, sql+t.Name())
}

func (t *Table[M]) validate(m *M) error {
	v, ok := any(m).(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if errors.Is(err, database.ErrValidation) {
			return err
		}
		return database.NewValidationError("validate "+t.Name(), err.Error())
	}
	return nil
}

func (t *Table[M]) insertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.schema.columns)), ", ")
	return "INSERT INTO " + t.Name() + " (" + strings.Join(t.schema.ColumnNames(), ", ") + ") VALUES (" + placeholders + ")"
}

func (t *Table[M]) updateSQL(cond string) string {
	sets := make([]string, len(t.schema.columns))
	for i, c := range t.schema.columns {
		sets[i] = c.Name() + " = ?"
	}
	return "UPDATE " + t.Name() + " SET " + strings.Join(sets, ", ") + " WHERE " + cond
}

// bindModel binds every column of m starting at parameter 1, then args.
func (t *Table[M]) bindModel(stmt *database.Statement, m *M, args []any) error {
	for i, c := range t.schema.columns {
		if err := c.Bind(stmt, i+1, m); err != nil {
			return fmt.Errorf("binding column %s: %w", c.Name(), err)
		}
	}
	return bindArgs(stmt, len(t.schema.columns)+1, args)
}

func bindArgs(stmt *database.Statement, first int, args []any) error {
	for i, a := range args {
		if err := stmt.Bind(first+i, a); err != nil {
			return fmt.Errorf("binding argument %d: %w", i+1, err)
		}
	}
	return nil
}

// Insert writes m as a new row. Columns are bound in declared order.
func (t *Table[M]) Insert(ctx context.Context, m M) (err error) {
	start := time.Now()
	defer func() { t.observe(OpInsert, start, t.affected(err), err) }()

	if err := t.validate(&m); err != nil {
		return err
	}
	return t.execPrepared(ctx, t.insertSQL(), func(stmt *database.Statement) error {
		return t.bindModel(stmt, &m, nil)
	})
}

// Update overwrites every column of the rows matching cond with m.
// Placeholders in cond are bound from args after the column values.
//
// Returns:
//   - error: database.ErrValidation if cond is empty
func (t *Table[M]) Update(ctx context.Context, m M, cond string, args ...any) (err error) {
	start := time.Now()
	defer func() { t.observe(OpUpdate, start, t.affected(err), err) }()

	if strings.TrimSpace(cond) == "" {
		return database.NewValidationError("update "+t.Name(), "condition cannot be empty")
	}
	if err := t.validate(&m); err != nil {
		return err
	}
	return t.execPrepared(ctx, t.updateSQL(cond), func(stmt *database.Statement) error {
		return t.bindModel(stmt, &m, args)
	})
}

// Remove deletes the rows matching cond. An empty condition is rejected
// without issuing any SQL.
func (t *Table[M]) Remove(ctx context.Context, cond string, args ...any) (err error) {
	if strings.TrimSpace(cond) == "" {
		return database.NewValidationError("remove "+t.Name(), "condition for removal cannot be empty")
	}

	start := time.Now()
	defer func() { t.observe(OpDelete, start, t.affected(err), err) }()

	return t.execPrepared(ctx, "DELETE FROM "+t.Name()+" WHERE "+cond, func(stmt *database.Statement) error {
		return bindArgs(stmt, 1, args)
	})
}

func (t *Table[M]) affected(err error) int64 {
	if err != nil {
		return 0
	}
	return t.conn.Changes()
}

func (t *Table[M]) execPrepared(ctx context.Context, sql string, bind func(*database.Statement) error) error {
	t.logger.Debug("executing", "table", t.Name(), "sql", sql)

	stmt, err := t.conn.Prepare(ctx, sql)
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck // Executed once

	if err := bind(stmt); err != nil {
		return err
	}
	return stmt.Execute(ctx)
}

// Query returns the rows matching cond in storage order. An empty cond
// matches every row; limit <= 0 means no limit and offset <= 0 no offset.
// Placeholders in cond are bound from args.
func (t *Table[M]) Query(ctx context.Context, cond string, limit, offset int, args ...any) (out []M, err error) {
	start := time.Now()
	defer func() { t.observe(OpQuery, start, int64(len(out)), err) }()

	b := query.New(t.Name()).Select(t.schema.ColumnNames()...).Where(cond)
	sql, err := b.Build()
	if err != nil {
		return nil, err
	}
	switch {
	case limit > 0:
		sql += " LIMIT " + strconv.Itoa(limit)
	case offset > 0:
		sql += " LIMIT -1"
	}
	if offset > 0 {
		sql += " OFFSET " + strconv.Itoa(offset)
	}

	return t.collect(ctx, sql, args, false)
}

// Select runs a builder against the table. Result columns are matched to
// schema columns by name, so b may select a subset. b's parameters are
// bound in order.
func (t *Table[M]) Select(ctx context.Context, b *query.Builder) (out []M, err error) {
	start := time.Now()
	defer func() { t.observe(OpQuery, start, int64(len(out)), err) }()

	sql, err := b.Build()
	if err != nil {
		return nil, err
	}
	return t.collect(ctx, sql, b.Params(), true)
}

func (t *Table[M]) collect(ctx context.Context, sql string, args []any, byName bool) ([]M, error) {
	t.logger.Debug("querying", "table", t.Name(), "sql", sql)

	stmt, err := t.conn.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer stmt.Close() //nolint:errcheck // Read-only statement

	if err := bindArgs(stmt, 1, args); err != nil {
		return nil, err
	}

	var positions []int
	if byName {
		positions = t.schema.positions(stmt)
	}

	var out []M
	for {
		ok, err := stmt.Step(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		var m M
		if byName {
			m, err = t.schema.decodeByName(stmt, positions)
		} else {
			m, err = t.schema.decodePositional(stmt)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// QueryResult carries the outcome of QueryAsync.
type QueryResult[M any] struct {
	Rows []M
	Err  error
}

// QueryAsync runs Query on a new goroutine. The channel receives exactly
// one result and is then closed. The Connection must not be used by the
// caller until the result has been received.
func (t *Table[M]) QueryAsync(ctx context.Context, cond string, limit, offset int, args ...any) <-chan QueryResult[M] {
	ch := make(chan QueryResult[M], 1)
	go func() {
		defer close(ch)
		rows, err := t.Query(ctx, cond, limit, offset, args...)
		ch <- QueryResult[M]{Rows: rows, Err: err}
	}()
	return ch
}

// FindOne returns the first row matching cond.
//
// Returns:
//   - error: database.ErrNoRow when nothing matches
func (t *Table[M]) FindOne(ctx context.Context, cond string, args ...any) (M, error) {
	rows, err := t.Query(ctx, cond, 1, 0, args...)
	if err != nil {
		var zero M
		return zero, err
	}
	if len(rows) == 0 {
		var zero M
		return zero, fmt.Errorf("%s: %w", t.Name(), database.ErrNoRow)
	}
	return rows[0], nil
}

// Count returns the number of rows matching cond; empty cond counts all.
func (t *Table[M]) Count(ctx context.Context, cond string, args ...any) (n int64, err error) {
	start := time.Now()
	defer func() { t.observe(OpCount, start, n, err) }()

	sql, err := query.New(t.Name()).Where(cond).BuildCount()
	if err != nil {
		return 0, err
	}
	stmt, err := t.conn.Prepare(ctx, sql)
	if err != nil {
		return 0, err
	}
	defer stmt.Close() //nolint:errcheck // Read-only statement

	if err := bindArgs(stmt, 1, args); err != nil {
		return 0, err
	}
	ok, err := stmt.Step(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &database.Error{Kind: database.KindSQLExecution, Op: "count", SQL: sql, Err: errors.New("count returned no row")}
	}
	return stmt.GetInt64(0)
}

// Exists reports whether any row matches cond; empty cond checks whether
// the table has any row.
func (t *Table[M]) Exists(ctx context.Context, cond string, args ...any) (found bool, err error) {
	start := time.Now()
	defer func() {
		var n int64
		if found {
			n = 1
		}
		t.observe(OpQuery, start, n, err)
	}()

	sql := "SELECT 1 FROM " + t.Name()
	if strings.TrimSpace(cond) != "" {
		sql += " WHERE " + cond
	}
	sql += " LIMIT 1"

	stmt, err := t.conn.Prepare(ctx, sql)
	if err != nil {
		return false, err
	}
	defer stmt.Close() //nolint:errcheck // Read-only statement

	if err := bindArgs(stmt, 1, args); err != nil {
		return false, err
	}
	return stmt.Step(ctx)
}

// CreateIndex creates an index on columns of the table.
//
// Returns:
//   - error: database.ErrValidation if name or columns is empty
func (t *Table[M]) CreateIndex(ctx context.Context, name string, columns []string, unique, ifNotExists bool) (err error) {
	if strings.TrimSpace(name) == "" {
		return database.NewValidationError("create index", "index name cannot be empty")
	}
	if len(columns) == 0 {
		return database.NewValidationError("create index", "columns for index cannot be empty")
	}

	start := time.Now()
	defer func() { t.observe(OpIndex, start, 0, err) }()

	sql := "CREATE "
	if unique {
		sql += "UNIQUE "
	}
	sql += "INDEX "
	if ifNotExists {
		sql += "IF NOT EXISTS "
	}
	sql += name + " ON " + t.Name() + " (" + strings.Join(columns, ", ") + ")"
	return t.conn.Execute(ctx, sql)
}

// Export writes every row as an INSERT statement with literal values,
// one per line, suitable for replaying with Connection.Execute.
func (t *Table[M]) Export(ctx context.Context, w io.Writer) error {
	rows, err := t.Query(ctx, "", -1, 0)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	prefix := "INSERT INTO " + t.Name() + " (" + strings.Join(t.schema.ColumnNames(), ", ") + ") VALUES ("
	for i := range rows {
		if _, err := fmt.Fprintf(bw, "%s%s);\n", prefix, strings.Join(t.schema.ToText(&rows[i]), ", ")); err != nil {
			return fmt.Errorf("exporting %s: %w", t.Name(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("exporting %s: %w", t.Name(), err)
	}
	return nil
}
