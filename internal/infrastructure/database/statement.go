package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ColumnType is the storage class of a value read from a result row.
type ColumnType int

// Storage classes.
const (
	TypeNull ColumnType = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBlob
)

// String returns the SQL name of the storage class.
func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	default:
		return "NULL"
	}
}

// Statement is a prepared, parameterised query bound to one Connection.
//
// Parameters are addressed with 1-based indices and result columns with
// 0-based indices, following SQLite's own convention. Every index is
// checked before the handle is touched.
//
// A Statement must be closed when no longer needed. It is not safe for
// concurrent use; see Connection.
type Statement struct {
	_ noCopy

	conn    *Connection
	stmt    *sqlite3.SQLiteStmt
	sql     string
	columns []string
	params  []driver.Value
	named   map[string]int

	rows    *sqlite3.SQLiteRows
	current []driver.Value
	hasRow  bool
	done    bool
	closed  bool
}

func newStatement(ctx context.Context, c *Connection, sql string) (*Statement, error) {
	ds, err := c.conn.PrepareContext(ctx, sql)
	if err != nil {
		c.logger.Error("statement prepare failed", "sql", sql, "error", err)
		return nil, newError(KindStatementPrepare, "prepare", sql, err)
	}
	st, ok := ds.(*sqlite3.SQLiteStmt)
	if !ok {
		ds.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, &Error{Kind: KindStatementPrepare, Op: "prepare", SQL: sql, Err: fmt.Errorf("unexpected driver statement %T", ds)}
	}

	s := &Statement{
		conn:   c,
		stmt:   st,
		sql:    sql,
		params: make([]driver.Value, st.NumInput()),
	}

	// Opening a cursor without stepping exposes the result column names.
	dr, err := st.QueryContext(ctx, s.namedParams())
	if err != nil {
		st.Close() //nolint:errcheck // Best effort cleanup on error path
		c.logger.Error("statement prepare failed", "sql", sql, "error", err)
		return nil, newError(KindStatementPrepare, "prepare", sql, err)
	}
	s.columns = dr.Columns()
	if err := dr.Close(); err != nil {
		st.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, newError(KindStatementPrepare, "prepare", sql, err)
	}
	return s, nil
}

// SQL returns the text the statement was prepared from.
func (s *Statement) SQL() string {
	return s.sql
}

// ParamCount returns the number of bind parameters.
func (s *Statement) ParamCount() int {
	return len(s.params)
}

// ColumnCount returns the number of result columns.
func (s *Statement) ColumnCount() int {
	return len(s.columns)
}

// ColumnName returns the name of result column index (0-based).
func (s *Statement) ColumnName(index int) (string, error) {
	if err := s.checkColumn("column name", index); err != nil {
		return "", err
	}
	return s.columns[index], nil
}

// ColumnIndex returns the 0-based index of the named column, or -1.
func (s *Statement) ColumnIndex(name string) int {
	for i, c := range s.columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func (s *Statement) checkOpen(op string) error {
	if s.closed {
		return validationError(op, ErrStatementClosed, "statement %q already closed", s.sql)
	}
	return s.conn.check(op)
}

func (s *Statement) checkParam(op string, index int) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if index < 1 || index > len(s.params) {
		return validationError(op, ErrIndexOutOfRange, "parameter index %d outside 1..%d", index, len(s.params))
	}
	if s.rows != nil {
		return &Error{Kind: KindStatementPrepare, Op: op, SQL: s.sql, Err: errors.New("statement must be reset before rebinding")}
	}
	return nil
}

func (s *Statement) checkColumn(op string, index int) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if index < 0 || index >= len(s.columns) {
		return validationError(op, ErrIndexOutOfRange, "column index %d outside 0..%d", index, len(s.columns)-1)
	}
	return nil
}

// bind stores v for parameter index. Values are copied, so callers may
// reuse their buffers after the call returns.
func (s *Statement) bind(op string, index int, v driver.Value) error {
	if err := s.checkParam(op, index); err != nil {
		return err
	}
	s.params[index-1] = v
	return nil
}

// BindInt binds a native integer at the 1-based parameter index.
func (s *Statement) BindInt(index int, v int) error {
	return s.bind("bind int", index, int64(v))
}

// BindInt64 binds a 64-bit integer at the 1-based parameter index.
func (s *Statement) BindInt64(index int, v int64) error {
	return s.bind("bind int64", index, v)
}

// BindFloat binds a double at the 1-based parameter index.
func (s *Statement) BindFloat(index int, v float64) error {
	return s.bind("bind float", index, v)
}

// BindText binds a string at the 1-based parameter index.
func (s *Statement) BindText(index int, v string) error {
	return s.bind("bind text", index, strings.Clone(v))
}

// BindBlob binds a copy of v at the 1-based parameter index.
func (s *Statement) BindBlob(index int, v []byte) error {
	if v == nil {
		return s.bind("bind blob", index, []byte{})
	}
	return s.bind("bind blob", index, append([]byte(nil), v...))
}

// BindBool binds v as 0 or 1.
func (s *Statement) BindBool(index int, v bool) error {
	n := int64(0)
	if v {
		n = 1
	}
	return s.bind("bind bool", index, n)
}

// BindNull binds SQL NULL at the 1-based parameter index.
func (s *Statement) BindNull(index int) error {
	return s.bind("bind null", index, nil)
}

// Bind binds a dynamically typed value, dispatching to the typed binders.
//
// Supported: nil, all integer kinds, float32/64, string, []byte, bool and
// time.Time (stored as RFC 3339 text).
func (s *Statement) Bind(index int, v any) error {
	switch x := v.(type) {
	case nil:
		return s.BindNull(index)
	case int:
		return s.BindInt(index, x)
	case int8:
		return s.BindInt64(index, int64(x))
	case int16:
		return s.BindInt64(index, int64(x))
	case int32:
		return s.BindInt64(index, int64(x))
	case int64:
		return s.BindInt64(index, x)
	case uint:
		return s.bindUint("bind", index, uint64(x))
	case uint8:
		return s.BindInt64(index, int64(x))
	case uint16:
		return s.BindInt64(index, int64(x))
	case uint32:
		return s.BindInt64(index, int64(x))
	case uint64:
		return s.bindUint("bind", index, x)
	case float32:
		return s.BindFloat(index, float64(x))
	case float64:
		return s.BindFloat(index, x)
	case string:
		return s.BindText(index, x)
	case []byte:
		return s.BindBlob(index, x)
	case bool:
		return s.BindBool(index, x)
	case time.Time:
		return s.BindText(index, x.UTC().Format(time.RFC3339Nano))
	default:
		if err := s.checkParam("bind", index); err != nil {
			return err
		}
		return &Error{Kind: KindStatementPrepare, Op: "bind", SQL: s.sql, Err: fmt.Errorf("unsupported parameter type %T", v)}
	}
}

func (s *Statement) bindUint(op string, index int, v uint64) error {
	if v > math.MaxInt64 {
		if err := s.checkParam(op, index); err != nil {
			return err
		}
		return &Error{Kind: KindStatementPrepare, Op: op, SQL: s.sql, Err: fmt.Errorf("value %d overflows int64", v)}
	}
	return s.BindInt64(index, int64(v))
}

// BindNamed binds v to the parameter written as :name, @name or $name.
func (s *Statement) BindNamed(name string, v any) error {
	if err := s.checkOpen("bind named"); err != nil {
		return err
	}
	name = strings.TrimLeft(name, ":@$")
	if s.named == nil {
		s.named = namedParams(s.sql)
	}
	idx, ok := s.named[name]
	if !ok {
		return validationError("bind named", ErrIndexOutOfRange, "no parameter named %q", name)
	}
	return s.Bind(idx, v)
}

// ClearBindings resets every parameter to NULL.
func (s *Statement) ClearBindings() error {
	if err := s.checkOpen("clear bindings"); err != nil {
		return err
	}
	if s.rows != nil {
		return &Error{Kind: KindStatementPrepare, Op: "clear bindings", SQL: s.sql, Err: errors.New("statement must be reset before rebinding")}
	}
	for i := range s.params {
		s.params[i] = nil
	}
	return nil
}

func (s *Statement) namedParams() []driver.NamedValue {
	args := make([]driver.NamedValue, len(s.params))
	for i, v := range s.params {
		args[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return args
}

// Execute runs the statement once with the current bindings. Producing a
// row counts as success, as does completing without one; the statement is
// left ready for the next Execute.
func (s *Statement) Execute(ctx context.Context) error {
	if err := s.checkOpen("execute"); err != nil {
		return err
	}
	if s.rows != nil {
		if err := s.Reset(); err != nil {
			return err
		}
	}
	res, err := s.stmt.ExecContext(ctx, s.namedParams())
	if err != nil {
		s.conn.logger.Error("statement execution failed", "sql", s.sql, "error", err)
		return newError(KindSQLExecution, "execute", s.sql, err)
	}
	s.conn.recordResult(res)
	return nil
}

// Step advances to the next result row.
//
// Returns:
//   - bool: true if a row is available for the Get* accessors, false at the end
//   - error: KindSQLExecution if SQLite reports anything other than a row or done
func (s *Statement) Step(ctx context.Context) (bool, error) {
	if err := s.checkOpen("step"); err != nil {
		return false, err
	}
	if s.done {
		return false, nil
	}
	if s.rows == nil {
		dr, err := s.stmt.QueryContext(ctx, s.namedParams())
		if err != nil {
			s.conn.logger.Error("statement step failed", "sql", s.sql, "error", err)
			return false, newError(KindSQLExecution, "step", s.sql, err)
		}
		rows, ok := dr.(*sqlite3.SQLiteRows)
		if !ok {
			dr.Close() //nolint:errcheck // Best effort cleanup on error path
			return false, &Error{Kind: KindSQLExecution, Op: "step", SQL: s.sql, Err: fmt.Errorf("unexpected driver rows %T", dr)}
		}
		s.rows = rows
		s.current = make([]driver.Value, len(s.columns))
	}

	err := s.rows.Next(s.current)
	switch {
	case err == nil:
		s.hasRow = true
		return true, nil
	case errors.Is(err, io.EOF):
		s.hasRow = false
		s.done = true
		return false, nil
	default:
		s.hasRow = false
		s.conn.logger.Error("statement step failed", "sql", s.sql, "error", err)
		return false, newError(KindSQLExecution, "step", s.sql, err)
	}
}

// Reset rewinds the statement so it can be stepped or executed again.
// Bindings are kept; use ClearBindings to drop them.
func (s *Statement) Reset() error {
	if err := s.checkOpen("reset"); err != nil {
		return err
	}
	s.hasRow = false
	s.done = false
	s.current = nil
	if s.rows == nil {
		return nil
	}
	rows := s.rows
	s.rows = nil
	if err := rows.Close(); err != nil {
		s.conn.logger.Error("statement reset failed", "sql", s.sql, "error", err)
		return newError(KindStatementPrepare, "reset", s.sql, err)
	}
	return nil
}

// Close finalizes the statement. Calling Close more than once is a no-op.
func (s *Statement) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.rows != nil {
		s.rows.Close() //nolint:errcheck // Finalize below reports the failure
		s.rows = nil
	}
	if err := s.stmt.Close(); err != nil {
		s.conn.logger.Warn("statement finalize failed", "sql", s.sql, "error", err)
		return newError(KindStatementPrepare, "finalize", s.sql, err)
	}
	return nil
}

// value returns the raw value of column index in the current row.
func (s *Statement) value(op string, index int) (driver.Value, error) {
	if err := s.checkColumn(op, index); err != nil {
		return nil, err
	}
	if !s.hasRow {
		return nil, validationError(op, ErrNoRow, "step must return true before reading columns")
	}
	return s.current[index], nil
}

// GetValue returns column index of the current row as the driver produced it:
// nil, int64, float64, string, []byte, bool or time.Time.
func (s *Statement) GetValue(index int) (any, error) {
	return s.value("get value", index)
}

// IsNull reports whether column index of the current row is NULL.
func (s *Statement) IsNull(index int) (bool, error) {
	v, err := s.value("is null", index)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// GetColumnType returns the storage class of column index in the current row.
func (s *Statement) GetColumnType(index int) (ColumnType, error) {
	v, err := s.value("column type", index)
	if err != nil {
		return TypeNull, err
	}
	return storageClass(v), nil
}

func storageClass(v driver.Value) ColumnType {
	switch v.(type) {
	case nil:
		return TypeNull
	case int64, bool:
		return TypeInteger
	case float64:
		return TypeFloat
	case []byte:
		return TypeBlob
	default:
		return TypeText
	}
}

// mismatch logs a lenient coercion between storage class and accessor.
func (s *Statement) mismatch(index int, want string, v driver.Value) {
	s.conn.logger.Warn("column type mismatch, coercing",
		"sql", s.sql,
		"column", s.columns[index],
		"index", index,
		"stored", storageClass(v).String(),
		"requested", want,
	)
}

// GetInt64 reads column index as a 64-bit integer. Non-integer storage is
// coerced with a logged warning; NULL reads as 0.
func (s *Statement) GetInt64(index int) (int64, error) {
	v, err := s.value("get int64", index)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		s.mismatch(index, "INTEGER", v)
		return int64(x), nil
	case string:
		s.mismatch(index, "INTEGER", v)
		return parseIntPrefix(x), nil
	case []byte:
		s.mismatch(index, "INTEGER", v)
		return parseIntPrefix(string(x)), nil
	case time.Time:
		s.mismatch(index, "INTEGER", v)
		return x.Unix(), nil
	default:
		s.mismatch(index, "INTEGER", v)
		return 0, nil
	}
}

// GetInt reads column index as a native integer.
func (s *Statement) GetInt(index int) (int, error) {
	n, err := s.GetInt64(index)
	return int(n), err
}

// GetDouble reads column index as a double. Non-numeric storage is coerced
// with a logged warning; NULL reads as 0.
func (s *Statement) GetDouble(index int) (float64, error) {
	v, err := s.value("get double", index)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s.mismatch(index, "REAL", v)
		return parseFloatPrefix(x), nil
	case []byte:
		s.mismatch(index, "REAL", v)
		return parseFloatPrefix(string(x)), nil
	default:
		s.mismatch(index, "REAL", v)
		return 0, nil
	}
}

// GetText reads column index as text. Numeric storage is formatted the way
// SQLite renders it; NULL reads as "".
func (s *Statement) GetText(index int) (string, error) {
	v, err := s.value("get text", index)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		s.mismatch(index, "TEXT", v)
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	default:
		s.mismatch(index, "TEXT", v)
		return fmt.Sprint(x), nil
	}
}

// GetBlob reads column index as bytes. The returned slice is a copy.
func (s *Statement) GetBlob(index int) ([]byte, error) {
	v, err := s.value("get blob", index)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return append([]byte(nil), x...), nil
	case string:
		return []byte(x), nil
	default:
		s.mismatch(index, "BLOB", v)
		text, err := s.GetText(index)
		return []byte(text), err
	}
}

// GetBool reads column index as a boolean: any non-zero integer is true.
func (s *Statement) GetBool(index int) (bool, error) {
	v, err := s.value("get bool", index)
	if err != nil {
		return false, err
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	n, err := s.GetInt64(index)
	return n != 0, err
}

// GetTime reads column index as a timestamp. Text is parsed with RFC 3339
// first, then the driver's timestamp layouts; integers are Unix seconds.
func (s *Statement) GetTime(index int) (time.Time, error) {
	v, err := s.value("get time", index)
	if err != nil {
		return time.Time{}, err
	}
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case string:
		if t, ok := ParseTime(x); ok {
			return t, nil
		}
	case []byte:
		if t, ok := ParseTime(string(x)); ok {
			return t, nil
		}
	}
	s.mismatch(index, "TIMESTAMP", v)
	return time.Time{}, nil
}

// ParseTime parses text written by Bind(time.Time) or by SQLite's date
// functions.
func ParseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	trimmed := strings.TrimSuffix(s, "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Get reads column index of the current row as T using the accessor for T.
//
// Example:
//
//	name, err := database.Get[string](stmt, 1)
func Get[T any](s *Statement, index int) (T, error) {
	var zero T
	var out any
	var err error

	switch any(zero).(type) {
	case int:
		out, err = s.GetInt(index)
	case int64:
		out, err = s.GetInt64(index)
	case float64:
		out, err = s.GetDouble(index)
	case string:
		out, err = s.GetText(index)
	case []byte:
		out, err = s.GetBlob(index)
	case bool:
		out, err = s.GetBool(index)
	case time.Time:
		out, err = s.GetTime(index)
	default:
		return zero, NewValidationError("get", fmt.Sprintf("unsupported result type %T", zero))
	}
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

// parseIntPrefix mirrors SQLite's text-to-integer cast: leading whitespace
// is skipped and the longest integer prefix is used.
func parseIntPrefix(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		if f := parseFloatPrefix(s); f != 0 {
			return int64(f)
		}
		return 0
	}
	return n
}

func parseFloatPrefix(s string) float64 {
	s = strings.TrimSpace(s)
	for end := len(s); end > 0; end-- {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return f
		}
	}
	return 0
}
