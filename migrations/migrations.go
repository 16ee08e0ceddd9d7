// Package migrations embeds the schema for both supported dialects.
package migrations

import "embed"

// Bundled at compile time so the binary migrates without external files.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
