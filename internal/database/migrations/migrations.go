// Package migrations embeds the goose SQL migrations for the billing schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
