// Package query builds SQL SELECT text for the Lithium store.
//
// A Builder only produces text. Values passed to Where, AndWhere, OrWhere
// and WhereIn are recorded in order and exposed through Params; they are
// never substituted into the built SQL. The caller writes "?" placeholders
// in its conditions and binds Params onto the prepared statement, usually
// with BindAll:
//
//	b := query.New("sequences").
//	    Select("id", "name").
//	    Where("state = ?", "running").
//	    OrderBy("updated_at", false).
//	    Limit(20)
//
//	sql, err := b.Build()
//	if err != nil {
//	    return err
//	}
//	stmt, err := conn.Prepare(ctx, sql)
//	...
//	err = b.BindAll(stmt)
//
// Builders are not safe for concurrent use.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
)

// Join types accepted by JoinWith.
const (
	InnerJoin = "INNER"
	LeftJoin  = "LEFT"
	RightJoin = "RIGHT"
	FullJoin  = "FULL"
	CrossJoin = "CROSS"
)

// unset marks a limit that was never given.
const unset = -1

type condition struct {
	connector string
	text      string
}

// Builder accumulates the clauses of one SELECT statement.
type Builder struct {
	table      string
	columns    []string
	conditions []condition
	joins      []string
	groupBy    []string
	having     string
	orderBy    []string
	limit      int
	offset     int
	params     []any
}

// New returns a Builder selecting every column of table.
func New(table string) *Builder {
	return &Builder{
		table: strings.TrimSpace(table),
		limit: unset,
	}
}

// Table returns the table the builder selects from.
func (b *Builder) Table() string {
	return b.table
}

// Select sets the result columns. An empty list keeps "*".
func (b *Builder) Select(columns ...string) *Builder {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	if len(cols) > 0 {
		b.columns = cols
	}
	return b
}

func (b *Builder) addCondition(connector, cond string, params []any) *Builder {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return b
	}
	b.conditions = append(b.conditions, condition{connector: connector, text: cond})
	b.params = append(b.params, params...)
	return b
}

// Where adds a condition joined to earlier ones with AND. params are
// recorded for later binding, in order. An empty condition is ignored.
func (b *Builder) Where(cond string, params ...any) *Builder {
	return b.addCondition("AND", cond, params)
}

// AndWhere is Where.
func (b *Builder) AndWhere(cond string, params ...any) *Builder {
	return b.addCondition("AND", cond, params)
}

// OrWhere adds a condition joined to earlier ones with OR. As the first
// condition it behaves like Where.
func (b *Builder) OrWhere(cond string, params ...any) *Builder {
	return b.addCondition("OR", cond, params)
}

// WhereIn adds "column IN (?, ...)" with one placeholder per value and
// records the values. With no values the condition matches nothing.
func (b *Builder) WhereIn(column string, values ...any) *Builder {
	column = strings.TrimSpace(column)
	if column == "" {
		return b
	}
	if len(values) == 0 {
		return b.addCondition("AND", "1 = 0", nil)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return b.addCondition("AND", column+" IN ("+placeholders+")", values)
}

// Join adds an INNER JOIN.
func (b *Builder) Join(table, on string) *Builder {
	return b.JoinWith(InnerJoin, table, on)
}

// JoinWith adds a join of the given type ("LEFT", "INNER", ...). An empty
// type means INNER; an empty on clause omits ON.
func (b *Builder) JoinWith(joinType, table, on string) *Builder {
	table = strings.TrimSpace(table)
	if table == "" {
		return b
	}
	joinType = strings.ToUpper(strings.TrimSpace(joinType))
	if joinType == "" {
		joinType = InnerJoin
	}
	clause := joinType + " JOIN " + table
	if on = strings.TrimSpace(on); on != "" {
		clause += " ON " + on
	}
	b.joins = append(b.joins, clause)
	return b
}

// GroupBy sets the grouping columns. An empty list removes GROUP BY.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBy = b.groupBy[:0]
	for _, c := range columns {
		if c = strings.TrimSpace(c); c != "" {
			b.groupBy = append(b.groupBy, c)
		}
	}
	return b
}

// Having sets the HAVING condition.
func (b *Builder) Having(cond string) *Builder {
	b.having = strings.TrimSpace(cond)
	return b
}

// OrderBy appends a sort key. Calls accumulate in order.
func (b *Builder) OrderBy(column string, asc bool) *Builder {
	column = strings.TrimSpace(column)
	if column == "" {
		return b
	}
	dir := "ASC"
	if !asc {
		dir = "DESC"
	}
	b.orderBy = append(b.orderBy, column+" "+dir)
	return b
}

// Limit caps the number of rows. A negative value removes the limit;
// zero is kept and yields no rows.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		n = unset
	}
	b.limit = n
	return b
}

// Offset skips n rows. Values below one remove the offset.
func (b *Builder) Offset(n int) *Builder {
	if n < 0 {
		n = 0
	}
	b.offset = n
	return b
}

// Params returns the recorded parameter values in binding order.
func (b *Builder) Params() []any {
	out := make([]any, len(b.params))
	copy(out, b.params)
	return out
}

// ParamCount returns the number of recorded parameter values.
func (b *Builder) ParamCount() int {
	return len(b.params)
}

// Validate checks the builder can produce a well-formed statement.
//
// Returns:
//   - error: database.ErrValidation for an empty table name or an offset
//     without a limit
func (b *Builder) Validate() error {
	if b.table == "" {
		return database.NewValidationError("build query", "table name cannot be empty")
	}
	if b.offset > 0 && b.limit < 0 {
		return database.NewValidationError("build query", "OFFSET requires LIMIT")
	}
	return nil
}

// Build validates and returns the SELECT text.
func (b *Builder) Build() (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(b.selectList())
	b.writeFrom(&sb)
	b.writeGrouping(&sb)

	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(b.limit))
	}
	if b.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(b.offset))
	}
	return sb.String(), nil
}

// BuildCount returns a statement counting the rows Build would match,
// ignoring ORDER BY, LIMIT and OFFSET. Grouped queries count groups.
func (b *Builder) BuildCount() (string, error) {
	if b.table == "" {
		return "", database.NewValidationError("build count", "table name cannot be empty")
	}

	var sb strings.Builder
	if len(b.groupBy) > 0 {
		sb.WriteString("SELECT COUNT(*) FROM (SELECT ")
		sb.WriteString(b.selectList())
		b.writeFrom(&sb)
		b.writeGrouping(&sb)
		sb.WriteString(")")
		return sb.String(), nil
	}

	sb.WriteString("SELECT COUNT(*)")
	b.writeFrom(&sb)
	b.writeGrouping(&sb)
	return sb.String(), nil
}

// MustBuild is Build for statically known queries; it panics on error.
func (b *Builder) MustBuild() string {
	sql, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("query: %v", err))
	}
	return sql
}

func (b *Builder) selectList() string {
	if len(b.columns) == 0 {
		return "*"
	}
	return strings.Join(b.columns, ", ")
}

func (b *Builder) writeFrom(sb *strings.Builder) {
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(b.conditions) > 0 {
		sb.WriteString(" WHERE ")
		for i, c := range b.conditions {
			if i > 0 {
				sb.WriteString(" ")
				sb.WriteString(c.connector)
				sb.WriteString(" ")
			}
			sb.WriteString(c.text)
		}
	}
}

func (b *Builder) writeGrouping(sb *strings.Builder) {
	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
	}
	if b.having != "" {
		sb.WriteString(" HAVING ")
		sb.WriteString(b.having)
	}
}

// Binder is the subset of *database.Statement used by BindAll.
type Binder interface {
	Bind(index int, v any) error
}

// BindAll binds Params onto stmt at indices 1..ParamCount, in order.
// The placeholders in the built text must line up with the values.
func (b *Builder) BindAll(stmt Binder) error {
	for i, v := range b.params {
		if err := stmt.Bind(i+1, v); err != nil {
			return fmt.Errorf("binding query parameter %d: %w", i+1, err)
		}
	}
	return nil
}
