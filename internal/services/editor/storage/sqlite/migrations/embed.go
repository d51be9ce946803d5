package migrations

import "embed"

// FS contains embedded SQLite migrations for upload storage.
//
//go:embed *.sql
var FS embed.FS
