// Package migrations embeds the goose migrations of the provider store.
//
// The PostgreSQL migrations live in the package root and are applied with
// the pgx dialect. The SQLite migrations live in the sqlite directory and
// are applied by the SQLite store on open.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

//go:embed sqlite/*.sql
var SQLiteFS embed.FS
