package db

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsUsesEmbeddedDir(t *testing.T) {
	database, _, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, RunMigrations(context.Background(), database))
	assert.Equal(t, "migrations", gotDir)
}

func TestRunMigrationsWrapsError(t *testing.T) {
	database, _, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	boom := errors.New("boom")
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return boom }

	err = RunMigrations(context.Background(), database)
	assert.ErrorIs(t, err, boom)
}

func TestEmbeddedMigrationsAreGooseAnnotated(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, migrationsDir)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	for _, e := range entries {
		body, err := fs.ReadFile(migrationFiles, migrationsDir+"/"+e.Name())
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(body), "-- +goose Up"), e.Name())
		assert.True(t, strings.Contains(string(body), "-- +goose Down"), e.Name())
	}
}
