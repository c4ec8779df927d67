// Package migrations embeds the server schema migrations (PostgreSQL).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
