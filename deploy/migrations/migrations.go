package migrations

import "embed"

// Files holds the SQL migrations of the MySQL run journal.
//
//go:embed *.sql
var Files embed.FS
