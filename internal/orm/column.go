package orm

import (
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
)

// Column maps one named column to one field of model type M.
//
// Bind uses 1-based parameter indices and Read uses 0-based column
// indices, matching database.Statement.
type Column[M any] interface {
	// Name is the column name.
	Name() string

	// Type is the declared SQL type, explicit or inferred from the field.
	Type() string

	// Constraints is extra column definition text such as "PRIMARY KEY".
	Constraints() string

	// ToSQL renders the field of m as a SQL literal.
	ToSQL(m *M) string

	// FromSQL parses text (a literal produced by ToSQL, or bare text) into the field of m.
	FromSQL(m *M, text string) error

	// Bind binds the field of m at parameter index.
	Bind(stmt *database.Statement, index int, m *M) error

	// Read stores column index of the current row into the field of m.
	Read(stmt *database.Statement, index int, m *M) error
}

// fieldKind is the storage mapping chosen for a Go field type.
type fieldKind int

const (
	kindInt fieldKind = iota + 1
	kindUint
	kindFloat
	kindString
	kindBool
	kindBytes
	kindTime
)

var timeType = reflect.TypeOf(time.Time{})

func kindOf(t reflect.Type) (fieldKind, string, bool) {
	if t == timeType {
		return kindTime, "TEXT", true
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return kindInt, "INTEGER", true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return kindUint, "INTEGER", true
	case reflect.Float32, reflect.Float64:
		return kindFloat, "REAL", true
	case reflect.String:
		return kindString, "TEXT", true
	case reflect.Bool:
		return kindBool, "BOOLEAN", true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return kindBytes, "BLOB", true
		}
	}
	return 0, "", false
}

// ColumnOption customises a column built by Field.
type ColumnOption func(*columnDef)

type columnDef struct {
	sqlType     string
	constraints []string
}

// Type overrides the inferred SQL type.
func Type(sqlType string) ColumnOption {
	return func(s *columnDef) {
		s.sqlType = strings.TrimSpace(sqlType)
	}
}

// Constraints appends raw constraint text, e.g. "DEFAULT 0".
func Constraints(text string) ColumnOption {
	return func(s *columnDef) {
		if text = strings.TrimSpace(text); text != "" {
			s.constraints = append(s.constraints, text)
		}
	}
}

// PrimaryKey marks the column PRIMARY KEY.
func PrimaryKey() ColumnOption {
	return Constraints("PRIMARY KEY")
}

// NotNull marks the column NOT NULL.
func NotNull() ColumnOption {
	return Constraints("NOT NULL")
}

// Unique marks the column UNIQUE.
func Unique() ColumnOption {
	return Constraints("UNIQUE")
}

type field[M, T any] struct {
	name        string
	sqlType     string
	constraints string
	kind        fieldKind
	ref         func(*M) *T
}

// Field returns the Column for the field of M that ref points at.
//
// The SQL type is inferred from T unless Type is given: integers map to
// INTEGER, floats to REAL, strings to TEXT, bool to BOOLEAN (stored 0/1),
// []byte to BLOB and time.Time to TEXT holding RFC 3339 with nanoseconds.
//
// Field panics for any other T. Schemas are built once at package
// initialisation, so an unsupported field is a programming error.
//
// Example:
//
//	orm.Field("name", func(s *Sequence) *string { return &s.Name }, orm.NotNull())
func Field[M, T any](name string, ref func(*M) *T, opts ...ColumnOption) Column[M] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	kind, inferred, ok := kindOf(t)
	if !ok {
		panic(fmt.Sprintf("orm: unsupported field type %s for column %q", t, name))
	}
	if ref == nil {
		panic(fmt.Sprintf("orm: nil field accessor for column %q", name))
	}

	def := columnDef{sqlType: inferred}
	for _, opt := range opts {
		opt(&def)
	}
	if def.sqlType == "" {
		def.sqlType = inferred
	}

	return &field[M, T]{
		name:        name,
		sqlType:     def.sqlType,
		constraints: strings.Join(def.constraints, " "),
		kind:        kind,
		ref:         ref,
	}
}

func (f *field[M, T]) Name() string        { return f.name }
func (f *field[M, T]) Type() string        { return f.sqlType }
func (f *field[M, T]) Constraints() string { return f.constraints }

func (f *field[M, T]) value(m *M) reflect.Value {
	return reflect.ValueOf(f.ref(m)).Elem()
}

func (f *field[M, T]) ToSQL(m *M) string {
	v := f.value(m)
	switch f.kind {
	case kindInt:
		return strconv.FormatInt(v.Int(), 10)
	case kindUint:
		return strconv.FormatUint(v.Uint(), 10)
	case kindFloat:
		return strconv.FormatFloat(v.Float(), 'g', -1, v.Type().Bits())
	case kindString:
		return QuoteString(v.String())
	case kindBool:
		if v.Bool() {
			return "1"
		}
		return "0"
	case kindBytes:
		return "X'" + strings.ToUpper(hex.EncodeToString(v.Bytes())) + "'"
	case kindTime:
		t := v.Interface().(time.Time)
		return QuoteString(t.UTC().Format(time.RFC3339Nano))
	}
	return "NULL"
}

func (f *field[M, T]) FromSQL(m *M, text string) error {
	v := f.value(m)
	raw := strings.TrimSpace(text)

	switch f.kind {
	case kindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v.OverflowInt(n) {
			return f.parseError(text)
		}
		v.SetInt(n)
	case kindUint:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v.OverflowUint(n) {
			return f.parseError(text)
		}
		v.SetUint(n)
	case kindFloat:
		x, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return f.parseError(text)
		}
		v.SetFloat(x)
	case kindString:
		if s, ok := unquote(raw); ok {
			v.SetString(s)
		} else {
			v.SetString(text)
		}
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f.parseError(text)
		}
		v.SetBool(b)
	case kindBytes:
		if len(raw) >= 3 && (raw[0] == 'X' || raw[0] == 'x') && raw[1] == '\'' && raw[len(raw)-1] == '\'' {
			b, err := hex.DecodeString(raw[2 : len(raw)-1])
			if err != nil {
				return f.parseError(text)
			}
			v.SetBytes(b)
		} else {
			v.SetBytes([]byte(text))
		}
	case kindTime:
		s, ok := unquote(raw)
		if !ok {
			s = raw
		}
		t, ok := database.ParseTime(s)
		if !ok {
			return f.parseError(text)
		}
		v.Set(reflect.ValueOf(t))
	}
	return nil
}

func (f *field[M, T]) parseError(text string) error {
	return database.NewValidationError("parse column "+f.name, fmt.Sprintf("cannot parse %q as %s", text, f.sqlType))
}

func (f *field[M, T]) Bind(stmt *database.Statement, index int, m *M) error {
	v := f.value(m)
	switch f.kind {
	case kindInt:
		return stmt.BindInt64(index, v.Int())
	case kindUint:
		u := v.Uint()
		if u > math.MaxInt64 {
			return database.NewValidationError("bind column "+f.name, fmt.Sprintf("value %d overflows INTEGER", u))
		}
		return stmt.BindInt64(index, int64(u))
	case kindFloat:
		return stmt.BindFloat(index, v.Float())
	case kindString:
		return stmt.BindText(index, v.String())
	case kindBool:
		return stmt.BindBool(index, v.Bool())
	case kindBytes:
		return stmt.BindBlob(index, v.Bytes())
	case kindTime:
		t := v.Interface().(time.Time)
		return stmt.BindText(index, t.UTC().Format(time.RFC3339Nano))
	}
	return stmt.BindNull(index)
}

func (f *field[M, T]) Read(stmt *database.Statement, index int, m *M) error {
	v := f.value(m)
	switch f.kind {
	case kindInt:
		n, err := stmt.GetInt64(index)
		if err != nil {
			return err
		}
		if v.OverflowInt(n) {
			return f.parseError(strconv.FormatInt(n, 10))
		}
		v.SetInt(n)
	case kindUint:
		n, err := stmt.GetInt64(index)
		if err != nil {
			return err
		}
		if n < 0 || v.OverflowUint(uint64(n)) {
			return f.parseError(strconv.FormatInt(n, 10))
		}
		v.SetUint(uint64(n))
	case kindFloat:
		x, err := stmt.GetDouble(index)
		if err != nil {
			return err
		}
		v.SetFloat(x)
	case kindString:
		s, err := stmt.GetText(index)
		if err != nil {
			return err
		}
		v.SetString(s)
	case kindBool:
		b, err := stmt.GetBool(index)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case kindBytes:
		b, err := stmt.GetBlob(index)
		if err != nil {
			return err
		}
		v.SetBytes(b)
	case kindTime:
		t, err := stmt.GetTime(index)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(t))
	}
	return nil
}

// QuoteString renders s as a SQL string literal, doubling single quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// unquote reverses QuoteString.
func unquote(s string) (string, bool) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", false
	}
	return strings.ReplaceAll(s[1:len(s)-1], "''", "'"), true
}
