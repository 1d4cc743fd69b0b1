// Package migrations embeds the SQL applied to every tenant schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
