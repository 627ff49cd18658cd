// Package storetest opens an isolated, migrated Postgres schema for integration tests.
package storetest

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reviewcore/internal/store"
)

// EnvDatabaseURL names the variable that enables Postgres-backed tests.
const EnvDatabaseURL = "REVIEWCORE_TEST_DATABASE_URL"

// Open returns a database whose search_path points at a freshly created
// schema with all migrations applied. The test is skipped when
// REVIEWCORE_TEST_DATABASE_URL is unset or -short is given.
func Open(t *testing.T, schema, migrationsDir string) *sql.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if dsn == "" {
		t.Skip(EnvDatabaseURL + " is not set")
	}
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	admin, err := store.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer admin.Close()

	if _, err := admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS `+schema+` CASCADE; CREATE SCHEMA `+schema); err != nil {
		t.Fatalf("reset schema %s: %v", schema, err)
	}

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	db, err := store.Open(ctx, u.String())
	if err != nil {
		t.Fatalf("open schema %s: %v", schema, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.ApplyMigrations(ctx, db, migrationsDir, zerolog.Nop()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}
