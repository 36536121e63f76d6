package migrations

import "embed"

// FS contains embedded SQLite migrations for the lifecycle store.
//
//go:embed *.sql
var FS embed.FS
