// Package migrations holds the SQL schema applied by database.Migrator
package migrations

import "embed"

// FS contains the numbered *.sql migration files
//
//go:embed *.sql
var FS embed.FS
