// Package migrations embeds the Postgres schema so the binary can bring an
// empty database up to date on start.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
