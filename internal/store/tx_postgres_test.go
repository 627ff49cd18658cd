package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"reviewcore/internal/store"
	"reviewcore/internal/store/storetest"
)

func openScratch(t *testing.T) *sql.DB {
	t.Helper()
	db := storetest.Open(t, "tx_test", "../../db/migrations")
	// One connection: a transaction left open would block every later query.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), `CREATE TABLE scratch (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create scratch: %v", err)
	}
	return db
}

func scratchRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM scratch`).Scan(&n); err != nil {
		t.Fatalf("count scratch: %v", err)
	}
	return n
}

func TestWithTxRollsBackOnPanicPostgres(t *testing.T) {
	db := openScratch(t)
	ctx := context.Background()

	recovered := func() (p any) {
		defer func() { p = recover() }()
		_ = store.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO scratch (id) VALUES ('a')`); err != nil {
				t.Fatalf("insert: %v", err)
			}
			panic("mid-write")
		})
		return nil
	}()
	if recovered != "mid-write" {
		t.Fatalf("panic value = %v, want it re-raised", recovered)
	}
	if n := scratchRows(t, db); n != 0 {
		t.Fatalf("rows after panic = %d, want 0", n)
	}

	err := store.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO scratch (id) VALUES ('b')`)
		return err
	})
	if err != nil {
		t.Fatalf("commit after panic: %v", err)
	}
	if n := scratchRows(t, db); n != 1 {
		t.Fatalf("rows after commit = %d, want 1", n)
	}
}

func TestWithTxRollsBackOnCancelPostgres(t *testing.T) {
	db := openScratch(t)

	ctx, cancel := context.WithCancel(context.Background())
	err := store.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO scratch (id) VALUES ('a')`); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if err == nil {
		t.Fatal("commit on a cancelled context succeeded")
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, sql.ErrTxDone) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if n := scratchRows(t, db); n != 0 {
		t.Fatalf("rows after cancel = %d, want 0", n)
	}

	failing := errors.New("refused")
	err = store.WithTx(context.Background(), db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(context.Background(), `INSERT INTO scratch (id) VALUES ('b')`); err != nil {
			return err
		}
		return failing
	})
	if !errors.Is(err, failing) {
		t.Fatalf("err = %v, want the callback error", err)
	}
	if n := scratchRows(t, db); n != 0 {
		t.Fatalf("rows after error = %d, want 0", n)
	}
}
