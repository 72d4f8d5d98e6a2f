package orm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Schema is the ordered column list of a model type and the table it is
// stored in. Column order is used for CREATE TABLE, positional INSERT and
// positional row decoding; reordering columns is a schema change.
//
// Build a Schema once per model, usually as a package-level variable.
type Schema[M any] struct {
	table   string
	columns []Column[M]
	byName  map[string]int
}

// NewSchema validates and returns the schema for table.
//
// Returns:
//   - error: database.ErrValidation if the table or a column name is not
//     a plain identifier, no columns are given, or a name repeats
func NewSchema[M any](table string, columns ...Column[M]) (*Schema[M], error) {
	if !identRE.MatchString(table) {
		return nil, database.NewValidationError("schema", fmt.Sprintf("invalid table name %q", table))
	}
	if len(columns) == 0 {
		return nil, database.NewValidationError("schema", fmt.Sprintf("table %s has no columns", table))
	}

	byName := make(map[string]int, len(columns))
	for i, c := range columns {
		name := c.Name()
		if !identRE.MatchString(name) {
			return nil, database.NewValidationError("schema", fmt.Sprintf("invalid column name %q in %s", name, table))
		}
		key := strings.ToLower(name)
		if _, dup := byName[key]; dup {
			return nil, database.NewValidationError("schema", fmt.Sprintf("duplicate column %q in %s", name, table))
		}
		byName[key] = i
	}

	return &Schema[M]{table: table, columns: columns, byName: byName}, nil
}

// MustSchema is NewSchema that panics on error.
func MustSchema[M any](table string, columns ...Column[M]) *Schema[M] {
	s, err := NewSchema(table, columns...)
	if err != nil {
		panic(err)
	}
	return s
}

// Table returns the table name.
func (s *Schema[M]) Table() string {
	return s.table
}

// Columns returns the columns in declared order.
func (s *Schema[M]) Columns() []Column[M] {
	return append([]Column[M](nil), s.columns...)
}

// ColumnNames returns the column names in declared order.
func (s *Schema[M]) ColumnNames() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name()
	}
	return names
}

// Column looks a column up by name, case-insensitively.
func (s *Schema[M]) Column(name string) (Column[M], bool) {
	i, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return s.columns[i], true
}

// Definition returns the column list of CREATE TABLE, e.g.
// "id TEXT PRIMARY KEY, name TEXT NOT NULL".
func (s *Schema[M]) Definition() string {
	defs := make([]string, len(s.columns))
	for i, c := range s.columns {
		def := c.Name() + " " + c.Type()
		if cons := c.Constraints(); cons != "" {
			def += " " + cons
		}
		defs[i] = def
	}
	return strings.Join(defs, ", ")
}

// ToText renders every column of m as a SQL literal, in declared order.
func (s *Schema[M]) ToText(m *M) []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.ToSQL(m)
	}
	return out
}

// FromText builds a model from one literal per column, in declared order.
func (s *Schema[M]) FromText(values []string) (M, error) {
	var m M
	if len(values) != len(s.columns) {
		return m, database.NewValidationError("from text",
			fmt.Sprintf("%s has %d columns, got %d values", s.table, len(s.columns), len(values)))
	}
	for i, c := range s.columns {
		if err := c.FromSQL(&m, values[i]); err != nil {
			return m, err
		}
	}
	return m, nil
}

// decodePositional reads the current row into a new model, column i of
// the row feeding column i of the schema.
func (s *Schema[M]) decodePositional(stmt *database.Statement) (M, error) {
	var m M
	for i, c := range s.columns {
		if err := c.Read(stmt, i, &m); err != nil {
			return m, fmt.Errorf("reading column %s: %w", c.Name(), err)
		}
	}
	return m, nil
}

// decodeByName reads the current row into a new model, matching result
// columns to schema columns by name. Unmatched schema columns keep their
// zero value.
func (s *Schema[M]) decodeByName(stmt *database.Statement, positions []int) (M, error) {
	var m M
	for i, c := range s.columns {
		if positions[i] < 0 {
			continue
		}
		if err := c.Read(stmt, positions[i], &m); err != nil {
			return m, fmt.Errorf("reading column %s: %w", c.Name(), err)
		}
	}
	return m, nil
}

func (s *Schema[M]) positions(stmt *database.Statement) []int {
	pos := make([]int, len(s.columns))
	for i, c := range s.columns {
		pos[i] = stmt.ColumnIndex(c.Name())
	}
	return pos
}
