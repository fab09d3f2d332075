// Package migrations holds the versioned PostgreSQL schema of the ledger
package migrations

import "embed"

// FS contains every *.sql migration in this directory
//
//go:embed *.sql
var FS embed.FS
