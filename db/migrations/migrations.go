// Package migrations embeds the SQL schema so the server and tests apply the same files.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files of this directory.
//
//go:embed *.sql
var FS embed.FS
