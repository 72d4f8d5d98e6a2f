package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// openTestDB opens a private in-memory connection closed at test end.
func openTestDB(t *testing.T) *Connection {
	t.Helper()

	conn, err := Open(context.Background(), MemoryPath, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck // Test cleanup
	})
	return conn
}

func mustExec(t *testing.T, conn *Connection, sql string) {
	t.Helper()
	if err := conn.Execute(context.Background(), sql); err != nil {
		t.Fatalf("Execute(%q) error = %v", sql, err)
	}
}

// countRows returns SELECT COUNT(*) for table.
func countRows(t *testing.T, conn *Connection, table string) int {
	t.Helper()
	ctx := context.Background()

	stmt, err := conn.Prepare(ctx, "SELECT COUNT(*) FROM "+table)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer stmt.Close() //nolint:errcheck // Test cleanup

	ok, err := stmt.Step(ctx)
	if err != nil || !ok {
		t.Fatalf("Step() = %v, %v", ok, err)
	}
	n, err := stmt.GetInt(0)
	if err != nil {
		t.Fatalf("GetInt() error = %v", err)
	}
	return n
}

// TestOpen verifies connection establishment.
func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("creates database file and directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "lithium.db")

		conn, err := Open(ctx, dbPath, DefaultOpenFlags)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer conn.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if !conn.IsValid() {
			t.Error("IsValid() = false after Open")
		}
		if conn.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", conn.Path(), dbPath)
		}
	})

	t.Run("applies baseline configuration", func(t *testing.T) {
		conn, err := Open(ctx, filepath.Join(t.TempDir(), "lithium.db"), DefaultOpenFlags)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer conn.Close() //nolint:errcheck // Test cleanup

		tests := map[string]string{
			"foreign_keys": "1",
			"journal_mode": "wal",
			"synchronous":  "1",
		}
		for name, want := range tests {
			got, err := conn.Pragma(ctx, name)
			if err != nil {
				t.Fatalf("Pragma(%s) error = %v", name, err)
			}
			if !strings.EqualFold(got, want) {
				t.Errorf("Pragma(%s) = %q, want %q", name, got, want)
			}
		}
	})

	t.Run("read-only missing file fails", func(t *testing.T) {
		_, err := Open(ctx, filepath.Join(t.TempDir(), "missing.db"), OpenReadOnly)
		if !errors.Is(err, ErrDatabaseOpen) && !errors.Is(err, ErrSQLExecution) {
			t.Fatalf("Open() error = %v, want open failure", err)
		}
	})

	t.Run("empty path rejected", func(t *testing.T) {
		_, err := Open(ctx, "  ", 0)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("Open() error = %v, want ErrValidation", err)
		}
	})

	t.Run("bad pragma releases handle", func(t *testing.T) {
		_, err := Open(ctx, MemoryPath, 0, WithPragmas(map[string]string{"cache_size": "1; DROP TABLE x"}))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("Open() error = %v, want ErrValidation", err)
		}
	})
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		flags OpenFlags
		want  []string
	}{
		{"read write create", "/data/a.db", DefaultOpenFlags, []string{"file:/data/a.db?", "mode=rwc"}},
		{"read only", "/data/a.db", OpenReadOnly, []string{"mode=ro"}},
		{"read write", "/data/a.db", OpenReadWrite, []string{"mode=rw"}},
		{"shared cache", "/data/a.db", DefaultOpenFlags | OpenSharedCache, []string{"cache=shared"}},
		{"memory", MemoryPath, 0, []string{"file::memory:?"}},
		{"named memory", "lithium", OpenMemory, []string{"file:lithium?", "mode=memory"}},
		{"uri passthrough", "file:test.db?immutable=1", OpenURI | OpenReadOnly, []string{"file:test.db?immutable=1&", "mode=ro"}},
		{"escapes query chars", "/data/a?b.db", DefaultOpenFlags, []string{"file:/data/a%3fb.db?"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildDSN(tt.path, tt.flags, time.Second)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("buildDSN() = %q, missing %q", got, w)
				}
			}
			if !strings.Contains(got, "_busy_timeout=1000") {
				t.Errorf("buildDSN() = %q, missing busy timeout", got)
			}
		})
	}
}

func TestExecute(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	mustExec(t, conn, "CREATE TABLE targets (id INTEGER PRIMARY KEY, name TEXT)")
	mustExec(t, conn, "INSERT INTO targets (name) VALUES ('M31'); INSERT INTO targets (name) VALUES ('M42')")

	if got := countRows(t, conn, "targets"); got != 2 {
		t.Errorf("row count = %d, want 2", got)
	}
	if conn.LastInsertID() != 2 {
		t.Errorf("LastInsertID() = %d, want 2", conn.LastInsertID())
	}

	err := conn.Execute(ctx, "INSERT INTO nowhere VALUES (1)")
	if !errors.Is(err, ErrSQLExecution) {
		t.Fatalf("Execute() error = %v, want ErrSQLExecution", err)
	}
	var dbErr *Error
	if !errors.As(err, &dbErr) || !strings.Contains(dbErr.Native, "no such table") {
		t.Errorf("native message not carried: %v", err)
	}
	if dbErr.Code() == 0 {
		t.Error("Code() = 0, want SQLite error code")
	}
}

func TestConfigure(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	if err := conn.Configure(ctx, RecommendedPragmas()); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	got, err := conn.Pragma(ctx, "cache_size")
	if err != nil {
		t.Fatalf("Pragma() error = %v", err)
	}
	if got != "-2000" {
		t.Errorf("cache_size = %q, want -2000", got)
	}

	err = conn.Configure(ctx, map[string]string{"bad name": "1"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Configure() error = %v, want ErrValidation", err)
	}
}

// TestInvalidConnection verifies every entry point fails fast once closed.
func TestInvalidConnection(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, MemoryPath, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if conn.IsValid() {
		t.Fatal("IsValid() = true after Close")
	}

	checks := map[string]error{
		"execute":   conn.Execute(ctx, "SELECT 1"),
		"configure": conn.Configure(ctx, RecommendedPragmas()),
	}
	_, checks["prepare"] = conn.Prepare(ctx, "SELECT 1")
	_, checks["begin"] = conn.BeginTransaction(ctx)

	for name, err := range checks {
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: error = %v, want ErrValidation", name, err)
		}
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("%s: error = %v, want ErrConnectionClosed", name, err)
		}
	}

	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	conn := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := conn.Optimize(ctx); err != nil {
		t.Errorf("Optimize() error = %v", err)
	}
}

func TestLoadPragmas(t *testing.T) {
	got, err := LoadPragmas(strings.NewReader("cache_size: -8000\ntemp_store: MEMORY\n"))
	if err != nil {
		t.Fatalf("LoadPragmas() error = %v", err)
	}
	if got["cache_size"] != "-8000" || got["temp_store"] != "MEMORY" {
		t.Errorf("LoadPragmas() = %v", got)
	}

	if _, err := LoadPragmas(strings.NewReader("\"drop table\": 1\n")); !errors.Is(err, ErrValidation) {
		t.Errorf("LoadPragmas() error = %v, want ErrValidation", err)
	}

	empty, err := LoadPragmas(strings.NewReader(""))
	if err != nil || len(empty) != 0 {
		t.Errorf("LoadPragmas(empty) = %v, %v", empty, err)
	}
}

func TestKindOf(t *testing.T) {
	err := NewValidationError("remove", "condition cannot be empty")
	if KindOf(err) != KindValidation {
		t.Errorf("KindOf() = %v, want validation", KindOf(err))
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("KindOf(plain) should be 0")
	}
	if !strings.Contains(err.Error(), "condition cannot be empty") {
		t.Errorf("Error() = %q", err.Error())
	}
}
