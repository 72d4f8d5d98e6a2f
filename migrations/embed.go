// Package migrations embeds the store's SQL migrations into the binary,
// so a fresh database can be brought up to date without the SQL files on
// disk.
//
//	applied, err := conn.Migrate(ctx, migrations.FS, migrations.Dir)
package migrations

import "embed"

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory of FS holding the migrations.
const Dir = "."
