// Package migrations embeds the goose SQL migrations of the session registry.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
