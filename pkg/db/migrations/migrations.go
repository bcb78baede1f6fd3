package migrations

import "github.com/uptrace/bun/migrate"

// Migrations collects every schema change registered by the files in this
// package. Migration names come from the file names.
var Migrations = migrate.NewMigrations()
