package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/larkvale/pulsenote/internal/models"
)

func TestOpenSQLiteInMemoryAndMigrate(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(db))

	require.True(t, db.Migrator().HasTable(&models.User{}))
	require.True(t, db.Migrator().HasTable(&models.Notification{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestSQLiteDSNResolution(t *testing.T) {
	dsn, err := sqliteDSN(Config{DSN: "file:custom.db"})
	require.NoError(t, err)
	require.Equal(t, "file:custom.db", dsn)

	dsn, err = sqliteDSN(Config{Path: ":memory:"})
	require.NoError(t, err)
	require.Equal(t, "file::memory:?cache=shared&_foreign_keys=1", dsn)

	path := filepath.Join(t.TempDir(), "nested", "pulse.sqlite")
	dsn, err = sqliteDSN(Config{Path: path})
	require.NoError(t, err)
	require.Contains(t, dsn, "_journal_mode=WAL")
	require.DirExists(t, filepath.Dir(path))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "pulse",
		Password: "secret",
		Name:     "pulsenote",
		Host:     "db.internal",
		Port:     5433,
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db.internal")
	require.Contains(t, dsn, "port=5433")
	require.Contains(t, dsn, "dbname=pulsenote")
	require.Contains(t, dsn, "sslmode=disable")
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User: "pulse",
		Name: "pulsenote",
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "pulse@tcp(localhost:3306)/pulsenote")
	require.Contains(t, dsn, "parseTime=True")
}
