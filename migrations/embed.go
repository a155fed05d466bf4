// Package migrations embeds the SQL schema migrations into the binary so
// Fieldlink can migrate a fresh database without any files on disk.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
