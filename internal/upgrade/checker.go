// Package upgrade guards the relay against running on a route database that
// was migrated by a different tgrelay release.
package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrSchemaOutdated = errors.New("route schema is behind this binary")
	ErrSchemaDirty    = errors.New("route schema is dirty after a failed migration")
	ErrSchemaAhead    = errors.New("route schema is newer than this binary")
)

// SchemaStatus compares the migrated route schema with RequiredSchemaVersion.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	// Fresh is set when no migration has ever run.
	Fresh bool
}

// Err reports whether the relay may use the database.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return ErrSchemaDirty
	case s.Fresh || s.CurrentVersion < s.RequiredVersion:
		return ErrSchemaOutdated
	case s.CurrentVersion > s.RequiredVersion:
		return ErrSchemaAhead
	}
	return nil
}

// Compatible is true when the relay can read routes without migrating.
func (s *SchemaStatus) Compatible() bool { return s.Err() == nil }

// CheckSchema reads the version row golang-migrate keeps next to
// webhook_routes. A missing table means the database was never migrated.
func CheckSchema(ctx context.Context, db *sql.DB) (*SchemaStatus, error) {
	s := &SchemaStatus{RequiredVersion: RequiredSchemaVersion}

	row := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1")
	if err := row.Scan(&s.CurrentVersion, &s.Dirty); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.Fresh = true
	}
	return s, nil
}

// FormatError explains a failed check together with the command that fixes it.
func FormatError(s *SchemaStatus) string {
	switch s.Err() {
	case ErrSchemaDirty:
		return fmt.Sprintf("migration %d stopped halfway and left the route schema dirty.\n"+
			"  mark the previous version clean: tgrelay migrate force %d\n"+
			"  then re-apply:                   tgrelay migrate up\n",
			s.CurrentVersion, s.CurrentVersion-1)
	case ErrSchemaAhead:
		return fmt.Sprintf("route schema v%d is newer than this binary (built for v%d).\n"+
			"  install the tgrelay release that migrated it, or newer.\n",
			s.CurrentVersion, s.RequiredVersion)
	case ErrSchemaOutdated:
		if s.Fresh {
			return fmt.Sprintf("route database has never been migrated (needs v%d).\n"+
				"  create the schema: tgrelay migrate up\n", s.RequiredVersion)
		}
		return fmt.Sprintf("route schema v%d is behind this binary (needs v%d).\n"+
			"  apply pending migrations: tgrelay migrate up\n",
			s.CurrentVersion, s.RequiredVersion)
	}
	return ""
}
