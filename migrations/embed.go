// Package migrations holds the schema, applied at startup and by
// integration suites.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
