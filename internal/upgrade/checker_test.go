package upgrade

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setVersion(t *testing.T, db *sql.DB, version uint, dirty bool) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL, dirty BOOLEAN NOT NULL)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty)
	require.NoError(t, err)
}

func TestCheckSchema(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	s, err := CheckSchema(ctx, db)
	require.NoError(t, err)
	assert.True(t, s.Fresh)
	assert.ErrorIs(t, s.Err(), ErrSchemaOutdated)
	assert.Contains(t, FormatError(s), "never been migrated")
	assert.Contains(t, FormatError(s), "migrate up")

	setVersion(t, db, RequiredSchemaVersion, false)
	s, err = CheckSchema(ctx, db)
	require.NoError(t, err)
	assert.True(t, s.Compatible())
	assert.NoError(t, s.Err())
	assert.Empty(t, FormatError(s))

	setVersion(t, db, RequiredSchemaVersion, true)
	s, err = CheckSchema(ctx, db)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Err(), ErrSchemaDirty)
	assert.Contains(t, FormatError(s), "migrate force")

	setVersion(t, db, RequiredSchemaVersion+1, false)
	s, err = CheckSchema(ctx, db)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Err(), ErrSchemaAhead)
	assert.Contains(t, FormatError(s), "newer than this binary")
}

func TestCheckSchema_Behind(t *testing.T) {
	s := &SchemaStatus{CurrentVersion: 0, RequiredVersion: 2}
	assert.ErrorIs(t, s.Err(), ErrSchemaOutdated)
	assert.False(t, s.Compatible())
	assert.Contains(t, FormatError(s), "behind this binary")
}
