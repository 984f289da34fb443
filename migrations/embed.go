// Package migrations embeds the hot-store schema migrations and applies them
// with golang-migrate. Migrations are embedded at build time so both the
// gateway and the worker can create the schema at startup without external
// file dependencies.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filename standard: 001_migration_name.up.sql / 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// FS returns the embedded migration filesystem.
func FS() fs.FS {
	return embeddedMigrations
}

// List returns the embedded migration filenames that conform to the naming
// standard, sorted lexically. Non-conforming filenames are rejected with an
// error to prevent a silently skipped migration reaching production.
func List() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !migrationFilenameRegex.MatchString(entry.Name()) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMigrationName, entry.Name())
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}
