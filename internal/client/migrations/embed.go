// Package migrations embeds the client schema migrations applied by goose.
// Migrations are forward-only: there is no downgrade path on the device.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
