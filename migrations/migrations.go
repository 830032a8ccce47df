// Package migrations embeds the SQL schema migrations applied by
// cmd/migrate via golang-migrate's iofs source driver.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
