// Package migrations embeds the SQL migration files so the binaries can
// apply them without a migrations directory on disk.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
