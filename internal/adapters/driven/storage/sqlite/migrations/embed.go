// Package migrations holds the mailbox schema as numbered up and down
// SQL files, applied in order by the SQLite store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
