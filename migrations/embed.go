package migrations

import "embed"

// Files exposes embedded SQL migration files ordered lexicographically.
// Root-level files target Postgres; the sqlite/ subdirectory holds the
// SQLite rendition of the same schema.
//
//go:embed *.sql sqlite/*.sql
var Files embed.FS
