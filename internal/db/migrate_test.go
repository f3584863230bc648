// Package db tests for database migration management.
package db

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database.DB
}

func TestMigrator_UpEmbedded(t *testing.T) {
	raw := openRaw(t)
	m := NewMigrator(raw)

	require.NoError(t, m.Up())
	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	applied, err := m.GetAppliedMigrations()
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "initial_schema", applied[0].Description)
	assert.Len(t, applied[0].Checksum, 64)

	// Second run is a no-op.
	require.NoError(t, m.Up())
	applied, err = m.GetAppliedMigrations()
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}

func TestMigrator_OrderAndSkipsForeignFiles(t *testing.T) {
	raw := openRaw(t)
	fsys := fstest.MapFS{
		"m/V2__second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER REFERENCES first(id));")},
		"m/V1__first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"m/V1__first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"m/V2__second.down.sql": {Data: []byte("DROP TABLE second;")},
		"m/README.md":           {Data: []byte("not a migration")},
		"m/Vx__bad.up.sql":      {Data: []byte("garbage")},
	}
	m := NewMigratorFS(raw, fsys, "m")

	require.NoError(t, m.Up())
	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	require.NoError(t, m.Down())
	version, err = m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	var n int
	err = raw.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'second'").Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n, "down migration should drop the table")
}

func TestMigrator_DetectsModifiedMigration(t *testing.T) {
	raw := openRaw(t)
	fsys := fstest.MapFS{
		"m/V1__first.up.sql": {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
	}
	require.NoError(t, NewMigratorFS(raw, fsys, "m").Up())

	fsys["m/V1__first.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE first (id TEXT PRIMARY KEY);")}
	err := NewMigratorFS(raw, fsys, "m").Up()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMigration))
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	raw := openRaw(t)
	fsys := fstest.MapFS{
		"m/V1__broken.up.sql": {Data: []byte("CREATE TABLE ok (id INTEGER); THIS IS NOT SQL;")},
	}
	err := NewMigratorFS(raw, fsys, "m").Up()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMigration))

	version, err := NewMigratorFS(raw, fsys, "m").CurrentVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestMigrator_DownWithoutMigrations(t *testing.T) {
	raw := openRaw(t)
	err := NewMigratorFS(raw, fstest.MapFS{}, "m").Down()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMigration))
}
