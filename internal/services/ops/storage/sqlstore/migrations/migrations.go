// Package migrations embeds the schema for each SQL dialect.
package migrations

import "embed"

// SQLiteFS holds the sqlite schema.
//
//go:embed sqlite/*.sql
var SQLiteFS embed.FS

// PostgresFS holds the postgres schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS
