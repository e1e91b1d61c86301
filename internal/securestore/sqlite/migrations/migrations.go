// Package migrations embeds the SQLite schema of the secure store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
