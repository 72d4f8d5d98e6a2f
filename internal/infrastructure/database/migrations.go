package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Migration filename parsing constants.
const (
	// migrationFilenameParts is the expected number of parts in a migration filename.
	// Format: YYYYMMDD_HHMMSS_description.up.sql (3 parts when split by "_")
	migrationFilenameParts = 3

	// minVersionParts is the minimum parts needed to extract a version.
	minVersionParts = 2
)

// Migration is one versioned schema change.
type Migration struct {
	// Version is taken from the filename, e.g. 20260301_090000.
	Version string

	// Name is the description part of the filename.
	Name string

	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies every pending *.up.sql file found in dir of fsys, oldest
// version first.
//
// # Atomicity
//
// Each migration runs in its own Transaction. If migration N fails:
//   - Migrations 1 to N-1 remain committed
//   - Migration N is rolled back
//   - Migrations N+1 onwards are not attempted
//
// Re-running Migrate after fixing the failing file continues from N.
//
// Parameters:
//   - ctx: Context for the migration statements
//   - fsys: Filesystem holding the migration files (usually embedded)
//   - dir: Directory within fsys; "." for the root
//
// Returns:
//   - int: Number of migrations applied by this call
//   - error: If any migration fails (that migration is rolled back)
func (c *Connection) Migrate(ctx context.Context, fsys fs.FS, dir string) (int, error) {
	if err := c.check("migrate"); err != nil {
		return 0, err
	}
	if err := c.createMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := c.appliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting applied migrations: %w", err)
	}

	count := 0
	for _, m := range pendingMigrations(migrations, applied) {
		if err := c.applyMigration(ctx, m); err != nil {
			return count, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
		c.logger.Info("migration applied", "version", m.Version, "name", m.Name)
		count++
	}
	return count, nil
}

// MigrateDown rolls back the most recently applied migration. It is meant
// for development and tests.
func (c *Connection) MigrateDown(ctx context.Context, fsys fs.FS, dir string) error {
	if err := c.check("migrate down"); err != nil {
		return err
	}
	if err := c.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := c.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == latest.Version {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found in filesystem", latest.Version)
	}
	if migration.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", latest.Version)
	}

	return WithTransaction(ctx, c, func(*Transaction) error {
		if err := c.Execute(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		if err := c.execBound(ctx, "DELETE FROM schema_migrations WHERE version = ?", migration.Version); err != nil {
			return fmt.Errorf("removing migration record: %w", err)
		}
		return nil
	})
}

// MigrationStatus reports which migrations in fsys are applied and which
// are pending.
func (c *Connection) MigrationStatus(ctx context.Context, fsys fs.FS, dir string) (applied []MigrationRecord, pending []Migration, err error) {
	if err := c.check("migration status"); err != nil {
		return nil, nil, err
	}
	if err := c.createMigrationsTable(ctx); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}
	applied, err = c.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return nil, nil, err
	}
	return applied, pendingMigrations(migrations, applied), nil
}

func pendingMigrations(all []Migration, applied []MigrationRecord) []Migration {
	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	var pending []Migration
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

func (c *Connection) createMigrationsTable(ctx context.Context) error {
	return c.Execute(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
}

func (c *Connection) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	stmt, err := c.Prepare(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Read-only statement

	var records []MigrationRecord
	for {
		ok, err := stmt.Step(ctx)
		if err != nil {
			return nil, fmt.Errorf("iterating migrations: %w", err)
		}
		if !ok {
			break
		}
		var r MigrationRecord
		if r.Version, err = stmt.GetText(0); err != nil {
			return nil, err
		}
		if r.AppliedAt, err = stmt.GetTime(1); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (c *Connection) applyMigration(ctx context.Context, m Migration) error {
	return WithTransaction(ctx, c, func(*Transaction) error {
		if err := c.Execute(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}
		if err := c.execBound(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version,
			time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// execBound prepares sql, binds args in order and executes it once.
func (c *Connection) execBound(ctx context.Context, sql string, args ...any) error {
	stmt, err := c.Prepare(ctx, sql)
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck // Executed once

	for i, a := range args {
		if err := stmt.Bind(i+1, a); err != nil {
			return err
		}
	}
	return stmt.Execute(ctx)
}

// LoadMigrations reads and pairs the migration files in dir of fsys,
// sorted by version. A missing directory yields no migrations.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, nil //nolint:nilerr // Directory might not exist if no migrations
	}

	upFiles, downFiles := categoriseMigrationFiles(entries)
	migrations, err := buildMigrations(fsys, dir, upFiles, downFiles)
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// categoriseMigrationFiles groups migration files by version and direction.
func categoriseMigrationFiles(entries []fs.DirEntry) (upFiles, downFiles map[string]string) {
	upFiles = make(map[string]string)
	downFiles = make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, isUp, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		if isUp {
			upFiles[version] = entry.Name()
		} else {
			downFiles[version] = entry.Name()
		}
	}
	return upFiles, downFiles
}

// parseMigrationFilename extracts version and direction from a migration filename.
// Returns version, isUp (true for .up.sql, false for .down.sql), and ok (true if valid).
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	base, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", false, false
	}

	switch {
	case strings.HasSuffix(base, ".up"):
		isUp = true
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", false, false
	}

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) < minVersionParts {
		return "", false, false
	}
	return parts[0] + "_" + parts[1], isUp, true
}

// buildMigrations reads the SQL for every up file and its optional down file.
func buildMigrations(fsys fs.FS, dir string, upFiles, downFiles map[string]string) ([]Migration, error) {
	migrations := make([]Migration, 0, len(upFiles))
	for version, upFile := range upFiles {
		upSQL, err := fs.ReadFile(fsys, joinDir(dir, upFile))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", upFile, err)
		}

		var downSQL []byte
		if downFile, ok := downFiles[version]; ok {
			downSQL, err = fs.ReadFile(fsys, joinDir(dir, downFile))
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", downFile, err)
			}
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    extractMigrationName(upFile),
			UpSQL:   string(upSQL),
			DownSQL: string(downSQL),
		})
	}
	return migrations, nil
}

func joinDir(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

// extractMigrationName returns the description part of a migration filename.
// "20260301_090000_create_sequences.up.sql" -> "create_sequences"
func extractMigrationName(filename string) string {
	base := strings.TrimSuffix(filename, ".sql")
	base = strings.TrimSuffix(base, ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) < migrationFilenameParts {
		return base
	}
	return parts[2]
}
