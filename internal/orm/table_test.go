package orm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
	"github.com/lithium-next/lithium-core/internal/query"
)

type target struct {
	ID         int64
	Name       string
	Magnitude  float64
	Visible    bool
	Catalogue  uint16
	Thumbnail  []byte
	ObservedAt time.Time
}

func (t target) Validate() error {
	if t.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

var targetSchema = MustSchema("targets",
	Field("id", func(t *target) *int64 { return &t.ID }, PrimaryKey()),
	Field("name", func(t *target) *string { return &t.Name }, NotNull()),
	Field("magnitude", func(t *target) *float64 { return &t.Magnitude }),
	Field("visible", func(t *target) *bool { return &t.Visible }),
	Field("catalogue", func(t *target) *uint16 { return &t.Catalogue }),
	Field("thumbnail", func(t *target) *[]byte { return &t.Thumbnail }),
	Field("observed_at", func(t *target) *time.Time { return &t.ObservedAt }),
)

func equalTargets(a, b target) bool {
	return a.ID == b.ID && a.Name == b.Name && a.Magnitude == b.Magnitude &&
		a.Visible == b.Visible && a.Catalogue == b.Catalogue &&
		bytes.Equal(a.Thumbnail, b.Thumbnail) && a.ObservedAt.Equal(b.ObservedAt)
}

type opRecord struct {
	op   string
	rows int64
	err  error
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []opRecord
}

func (r *recordingObserver) OnTableOp(_, op string, rows int64, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, opRecord{op, rows, err})
}

func (r *recordingObserver) last() opRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[len(r.ops)-1]
}

func newTargetTable(t *testing.T, opts ...TableOption) (*Table[target], *database.Connection) {
	t.Helper()
	ctx := context.Background()

	conn, err := database.Open(ctx, database.MemoryPath, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck // Test cleanup
	})

	tbl := NewTable(conn, targetSchema, opts...)
	if err := tbl.CreateTable(ctx, true); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	return tbl, conn
}

func makeTargets(n, startID int) []target {
	out := make([]target, n)
	for i := range out {
		out[i] = target{ID: int64(startID + i), Name: fmt.Sprintf("T%03d", startID+i)}
	}
	return out
}

func TestSchema(t *testing.T) {
	want := "id INTEGER PRIMARY KEY, name TEXT NOT NULL, magnitude REAL, visible BOOLEAN, " +
		"catalogue INTEGER, thumbnail BLOB, observed_at TEXT"
	if got := targetSchema.Definition(); got != want {
		t.Errorf("Definition() =\n  %q\nwant\n  %q", got, want)
	}

	tests := []struct {
		name    string
		table   string
		columns []Column[target]
	}{
		{"empty table", "", targetSchema.Columns()},
		{"bad table", "drop table;", targetSchema.Columns()},
		{"no columns", "t", nil},
		{"duplicate", "t", []Column[target]{
			Field("id", func(t *target) *int64 { return &t.ID }),
			Field("ID", func(t *target) *int64 { return &t.ID }),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSchema(tt.table, tt.columns...); !errors.Is(err, database.ErrValidation) {
				t.Errorf("NewSchema() error = %v, want ErrValidation", err)
			}
		})
	}

	c, ok := targetSchema.Column("MAGNITUDE")
	if !ok || c.Type() != "REAL" {
		t.Errorf("Column(MAGNITUDE) = %v, %v", c, ok)
	}
}

func TestFieldOptions(t *testing.T) {
	c := Field("ra", func(t *target) *float64 { return &t.Magnitude }, Type("DOUBLE"), Constraints("DEFAULT 0"), NotNull())
	if c.Type() != "DOUBLE" {
		t.Errorf("Type() = %q", c.Type())
	}
	if c.Constraints() != "DEFAULT 0 NOT NULL" {
		t.Errorf("Constraints() = %q", c.Constraints())
	}

	defer func() {
		if recover() == nil {
			t.Error("Field with unsupported type should panic")
		}
	}()
	type unsupported struct{ M map[string]int }
	Field("m", func(u *unsupported) *map[string]int { return &u.M })
}

func TestTextConversion(t *testing.T) {
	at := time.Date(2026, 2, 14, 22, 15, 30, 500, time.UTC)
	m := target{ID: 7, Name: "Barnard's Loop", Magnitude: 5.5, Visible: true, Catalogue: 33, Thumbnail: []byte{0xCA, 0xFE}, ObservedAt: at}

	got := targetSchema.ToText(&m)
	want := []string{"7", "'Barnard''s Loop'", "5.5", "1", "33", "X'CAFE'", "'2026-02-14T22:15:30.0000005Z'"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ToText()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	back, err := targetSchema.FromText(got)
	if err != nil {
		t.Fatalf("FromText() error = %v", err)
	}
	if !equalTargets(back, m) {
		t.Errorf("FromText(ToText(m)) = %+v, want %+v", back, m)
	}

	if _, err := targetSchema.FromText([]string{"x"}); !errors.Is(err, database.ErrValidation) {
		t.Errorf("FromText(short) error = %v, want ErrValidation", err)
	}

	bad := append([]string(nil), got...)
	bad[0] = "seven"
	if _, err := targetSchema.FromText(bad); !errors.Is(err, database.ErrValidation) {
		t.Errorf("FromText(bad int) error = %v, want ErrValidation", err)
	}

	// Bare text is accepted for strings.
	c, _ := targetSchema.Column("name")
	var bare target
	if err := c.FromSQL(&bare, "M31"); err != nil || bare.Name != "M31" {
		t.Errorf("FromSQL(bare) = %q, %v", bare.Name, err)
	}
}

// TestQueryRejectsOutOfRangeIntegers checks that stored integers which do not
// fit the field's Go type fail the read instead of wrapping, the same way
// FromSQL does.
func TestQueryRejectsOutOfRangeIntegers(t *testing.T) {
	tests := []struct {
		name      string
		catalogue string
	}{
		{"negative into unsigned", "-1"},
		{"above uint16", "70000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, conn := newTargetTable(t)
			ctx := context.Background()

			sql := "INSERT INTO targets (id, name, magnitude, visible, catalogue, thumbnail, observed_at) " +
				"VALUES (1, 'M31', 3.4, 1, " + tt.catalogue + ", X'00', '2026-01-01T00:00:00Z')"
			if err := conn.Execute(ctx, sql); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			rows, err := tbl.Query(ctx, "", -1, 0)
			if !errors.Is(err, database.ErrValidation) {
				t.Fatalf("Query() = %+v, %v; want ErrValidation", rows, err)
			}

			c, _ := targetSchema.Column("catalogue")
			var m target
			if err := c.FromSQL(&m, tt.catalogue); !errors.Is(err, database.ErrValidation) {
				t.Errorf("FromSQL(%s) error = %v, want ErrValidation", tt.catalogue, err)
			}
		})
	}
}

// TestInsertQueryRoundTrip checks that every field survives a write and read.
func TestInsertQueryRoundTrip(t *testing.T) {
	tbl, _ := newTargetTable(t)
	ctx := context.Background()

	m := target{
		ID:         1,
		Name:       "Vega",
		Magnitude:  0.03,
		Visible:    true,
		Catalogue:  17216,
		Thumbnail:  []byte{1, 2, 3},
		ObservedAt: time.Date(2026, 7, 4, 23, 0, 0, 123456789, time.UTC),
	}
	if err := tbl.Insert(ctx, m); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	rows, err := tbl.Query(ctx, "id = 1", -1, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Query() returned %d rows, want 1", len(rows))
	}
	if !equalTargets(rows[0], m) {
		t.Errorf("round trip = %+v, want %+v", rows[0], m)
	}
	if rows[0].Name != "Vega" {
		t.Errorf("Name = %q, want Vega", rows[0].Name)
	}
}

func TestInsertValidation(t *testing.T) {
	obs := &recordingObserver{}
	tbl, _ := newTargetTable(t, WithObserver(obs))
	ctx := context.Background()

	err := tbl.Insert(ctx, target{ID: 1})
	if !errors.Is(err, database.ErrValidation) {
		t.Fatalf("Insert(invalid) error = %v, want ErrValidation", err)
	}
	if obs.last().op != OpInsert || obs.last().err == nil {
		t.Errorf("observer last = %+v", obs.last())
	}

	if err := tbl.Insert(ctx, target{ID: 1, Name: "a"}); err != nil {
		t.Fatal(err)
	}
	err = tbl.Insert(ctx, target{ID: 1, Name: "b"})
	if !errors.Is(err, database.ErrSQLExecution) {
		t.Errorf("duplicate Insert() error = %v, want ErrSQLExecution", err)
	}
}

func TestUpdateAndRemove(t *testing.T) {
	obs := &recordingObserver{}
	tbl, _ := newTargetTable(t, WithObserver(obs))
	ctx := context.Background()

	for _, m := range makeTargets(3, 1) {
		if err := tbl.Insert(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	if err := tbl.Update(ctx, target{ID: 2, Name: "renamed", Visible: true}, "id = ?", 2); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if last := obs.last(); last.op != OpUpdate || last.rows != 1 {
		t.Errorf("observer last = %+v, want update/1", last)
	}
	got, err := tbl.FindOne(ctx, "id = ?", 2)
	if err != nil || got.Name != "renamed" || !got.Visible {
		t.Errorf("FindOne() = %+v, %v", got, err)
	}

	if err := tbl.Update(ctx, target{ID: 9, Name: "x"}, "  "); !errors.Is(err, database.ErrValidation) {
		t.Errorf("Update(empty cond) error = %v, want ErrValidation", err)
	}

	before := len(obs.ops)
	if err := tbl.Remove(ctx, ""); !errors.Is(err, database.ErrValidation) {
		t.Errorf("Remove(\"\") error = %v, want ErrValidation", err)
	}
	if len(obs.ops) != before {
		t.Error("Remove(\"\") reached the store")
	}
	if n, _ := tbl.Count(ctx, ""); n != 3 {
		t.Errorf("Count() after rejected Remove = %d, want 3", n)
	}

	if err := tbl.Remove(ctx, "id IN (?, ?)", 1, 3); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if n, _ := tbl.Count(ctx, ""); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	if _, err := tbl.FindOne(ctx, "id = ?", 1); !errors.Is(err, database.ErrNoRow) {
		t.Errorf("FindOne(missing) error = %v, want ErrNoRow", err)
	}
}

func TestQueryPaging(t *testing.T) {
	tbl, _ := newTargetTable(t)
	ctx := context.Background()
	if err := tbl.BatchInsert(ctx, makeTargets(10, 1), 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		limit, offset int
		wantFirst     int64
		wantLen       int
	}{
		{"all", -1, 0, 1, 10},
		{"limit", 3, 0, 1, 3},
		{"limit offset", 3, 4, 5, 3},
		{"offset only", -1, 8, 9, 2},
		{"zero limit means none", 0, 0, 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := tbl.Query(ctx, "", tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(rows) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(rows), tt.wantLen)
			}
			if rows[0].ID != tt.wantFirst {
				t.Errorf("first ID = %d, want %d", rows[0].ID, tt.wantFirst)
			}
		})
	}
}

func TestQueryAsync(t *testing.T) {
	tbl, _ := newTargetTable(t)
	ctx := context.Background()
	if err := tbl.BatchInsert(ctx, makeTargets(4, 1), 2); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-tbl.QueryAsync(ctx, "id > ?", -1, 0, 2):
		if res.Err != nil {
			t.Fatalf("QueryAsync() error = %v", res.Err)
		}
		if len(res.Rows) != 2 {
			t.Errorf("QueryAsync() rows = %d, want 2", len(res.Rows))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("QueryAsync() timed out")
	}
}

func TestSelectWithBuilder(t *testing.T) {
	tbl, _ := newTargetTable(t)
	ctx := context.Background()
	ms := makeTargets(5, 1)
	ms[3].Visible = true
	ms[4].Visible = true
	if err := tbl.BatchInsert(ctx, ms, 0); err != nil {
		t.Fatal(err)
	}

	b := query.New(tbl.Name()).
		Select("name", "id").
		Where("visible = ?", true).
		OrderBy("id", false)

	rows, err := tbl.Select(ctx, b)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 2 || rows[0].ID != 5 || rows[0].Name != "T005" {
		t.Errorf("Select() = %+v", rows)
	}
	if rows[0].Visible {
		t.Error("unselected column should keep its zero value")
	}

	if _, err := tbl.Select(ctx, query.New(tbl.Name()).Offset(2)); !errors.Is(err, database.ErrValidation) {
		t.Errorf("Select(offset without limit) error = %v, want ErrValidation", err)
	}
}

// TestBatchInsertPartialFailure checks earlier chunks stay committed when a
// later chunk fails.
func TestBatchInsertPartialFailure(t *testing.T) {
	tbl, _ := newTargetTable(t)
	ctx := context.Background()

	// Chunk size 3: rows 1-3, 4-6, 7-9. Row 8 repeats ID 2 and fails chunk 2.
	ms := makeTargets(9, 1)
	ms[7].ID = 2

	err := tbl.BatchInsert(ctx, ms, 3)
	if err == nil {
		t.Fatal("BatchInsert() should fail")
	}
	if !errors.Is(err, database.ErrSQLExecution) {
		t.Errorf("BatchInsert() error = %v, want ErrSQLExecution", err)
	}

	n, err := tbl.Count(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Errorf("Count() = %d, want 6 (chunks 0 and 1 committed)", n)
	}
	for _, id := range []int{7, 9} {
		if ok, _ := tbl.Exists(ctx, "id = ?", id); ok {
			t.Errorf("row %d from failed chunk should be absent", id)
		}
	}
}

func TestBatchInsertValidationFailureRollsBackChunk(t *testing.T) {
	tbl, _ := newTargetTable(t)
	ctx := context.Background()

	ms := makeTargets(4, 1)
	ms[3].Name = ""

	if err := tbl.BatchInsert(ctx, ms, 2); !errors.Is(err, database.ErrValidation) {
		t.Fatalf("BatchInsert() error = %v, want ErrValidation", err)
	}
	if n, _ := tbl.Count(ctx, ""); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestBatchUpdate(t *testing.T) {
	obs := &recordingObserver{}
	tbl, _ := newTargetTable(t, WithObserver(obs))
	ctx := context.Background()

	ms := makeTargets(5, 1)
	if err := tbl.BatchInsert(ctx, ms, 0); err != nil {
		t.Fatal(err)
	}
	for i := range ms {
		ms[i].Magnitude = float64(i) + 0.5
	}
	byID := func(m target) string { return fmt.Sprintf("id = %d", m.ID) }

	if err := tbl.BatchUpdate(ctx, ms, byID, 2); err != nil {
		t.Fatalf("BatchUpdate() error = %v", err)
	}
	if last := obs.last(); last.op != OpUpdate || last.rows != 5 {
		t.Errorf("observer last = %+v, want update/5", last)
	}
	if n, _ := tbl.Count(ctx, "magnitude > 0"); n != 5 {
		t.Errorf("updated rows = %d, want 5", n)
	}

	if err := tbl.BatchUpdate(ctx, ms, nil, 2); !errors.Is(err, database.ErrValidation) {
		t.Errorf("BatchUpdate(nil cond) error = %v, want ErrValidation", err)
	}
	if err := tbl.BatchInsert(ctx, nil, 2); err != nil {
		t.Errorf("BatchInsert(empty) error = %v", err)
	}
}

func TestCountExistsIndex(t *testing.T) {
	tbl, conn := newTargetTable(t)
	ctx := context.Background()

	if ok, err := tbl.Exists(ctx, ""); err != nil || ok {
		t.Errorf("Exists(empty table) = %v, %v", ok, err)
	}
	if err := tbl.BatchInsert(ctx, makeTargets(3, 1), 0); err != nil {
		t.Fatal(err)
	}
	if ok, err := tbl.Exists(ctx, "name = ?", "T002"); err != nil || !ok {
		t.Errorf("Exists(T002) = %v, %v", ok, err)
	}
	if n, err := tbl.Count(ctx, "id >= ?", 2); err != nil || n != 2 {
		t.Errorf("Count(id >= 2) = %d, %v", n, err)
	}

	if err := tbl.CreateIndex(ctx, "idx_targets_name", nil, false, true); !errors.Is(err, database.ErrValidation) {
		t.Errorf("CreateIndex(no columns) error = %v, want ErrValidation", err)
	}
	if err := tbl.CreateIndex(ctx, "idx_targets_name", []string{"name"}, true, true); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if err := tbl.CreateIndex(ctx, "idx_targets_name", []string{"name"}, true, true); err != nil {
		t.Errorf("CreateIndex(if not exists) error = %v", err)
	}
	// Unique index now rejects duplicate names.
	if err := tbl.Insert(ctx, target{ID: 50, Name: "T001"}); !errors.Is(err, database.ErrSQLExecution) {
		t.Errorf("Insert(duplicate name) error = %v, want ErrSQLExecution", err)
	}

	if err := tbl.DropTable(ctx, true); err != nil {
		t.Fatalf("DropTable() error = %v", err)
	}
	if err := conn.Execute(ctx, "SELECT * FROM targets"); !errors.Is(err, database.ErrSQLExecution) {
		t.Errorf("table still present after DropTable: %v", err)
	}
}

func TestExport(t *testing.T) {
	tbl, conn := newTargetTable(t)
	ctx := context.Background()

	ms := []target{
		{ID: 1, Name: "O'Neil", Magnitude: 1.25, Thumbnail: []byte{0xAB}},
		{ID: 2, Name: "Rho Oph", Visible: true},
	}
	if err := tbl.BatchInsert(ctx, ms, 0); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := tbl.Export(ctx, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	out := buf.String()
	if strings.Count(out, "\n") != 2 || !strings.Contains(out, "'O''Neil'") {
		t.Fatalf("Export() =\n%s", out)
	}

	// Replaying the export into an empty table reproduces the rows.
	if err := tbl.Remove(ctx, "1 = 1"); err != nil {
		t.Fatal(err)
	}
	if err := conn.Execute(ctx, out); err != nil {
		t.Fatalf("replaying export error = %v", err)
	}
	got, err := tbl.FindOne(ctx, "id = 1")
	if err != nil || !equalTargets(got, ms[0]) {
		t.Errorf("replayed row = %+v, %v", got, err)
	}
}
