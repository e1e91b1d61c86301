// Package migrations embeds the issuer's PostgreSQL schema.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
