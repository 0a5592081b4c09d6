// Package migrations embeds the SQL schema of the route stores so the binary
// can migrate without a migrations directory on disk.
package migrations

import "embed"

// FS holds one directory per driver: postgres/ and sqlite/.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
