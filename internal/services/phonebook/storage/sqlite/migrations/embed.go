package migrations

import "embed"

// FS contains embedded SQLite migrations for phonebook storage.
//
//go:embed *.sql
var FS embed.FS
