package transaction

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// A single connection keeps the in-memory database shared.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE farmers (
			id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("failed to create test table: %v", err)
	}
	return db
}

func countFarmers(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM farmers").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestManager_WithTransaction_Commit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	mgr := NewManager(db)
	err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO farmers (id, first_name) VALUES (?, ?)", "f1", "Ana")
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}

	if got := countFarmers(t, db); got != 1 {
		t.Errorf("expected 1 row, got %d", got)
	}
}

func TestManager_WithTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	mgr := NewManager(db)
	boom := errors.New("boom")
	err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO farmers (id, first_name) VALUES (?, ?)", "f1", "Ana"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if got := countFarmers(t, db); got != 0 {
		t.Errorf("expected rollback to leave 0 rows, got %d", got)
	}
}

func TestManager_WithTransaction_Panic(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	mgr := NewManager(db)
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
			_, _ = tx.Exec("INSERT INTO farmers (id, first_name) VALUES (?, ?)", "f1", "Ana")
			panic("kaboom")
		})
	}()

	if got := countFarmers(t, db); got != 0 {
		t.Errorf("expected 0 rows after panic, got %d", got)
	}
}

func TestTransaction_Nested(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	tx, err := NewManager(db).Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if _, err := tx.Tx().Exec("INSERT INTO farmers (id, first_name) VALUES ('f1', 'Ana')"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	nested, err := tx.BeginNested(ctx)
	if err != nil {
		t.Fatalf("BeginNested failed: %v", err)
	}
	if nested.Tx() != tx.Tx() {
		t.Error("expected nested transaction to share the parent Tx")
	}
	if _, err := nested.Tx().Exec("INSERT INTO farmers (id, first_name) VALUES ('f2', 'Rosa')"); err != nil {
		t.Fatalf("nested insert failed: %v", err)
	}
	if err := nested.Rollback(); err != nil {
		t.Fatalf("nested rollback failed: %v", err)
	}

	kept, err := tx.BeginNested(ctx)
	if err != nil {
		t.Fatalf("BeginNested failed: %v", err)
	}
	if _, err := kept.Tx().Exec("INSERT INTO farmers (id, first_name) VALUES ('f3', 'Luz')"); err != nil {
		t.Fatalf("nested insert failed: %v", err)
	}
	if err := kept.Commit(); err != nil {
		t.Fatalf("nested commit failed: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTransactionDone) {
		t.Errorf("expected ErrTransactionDone on second commit, got %v", err)
	}
	if _, err := tx.BeginNested(ctx); !errors.Is(err, ErrTransactionDone) {
		t.Errorf("expected ErrTransactionDone when nesting a finished transaction, got %v", err)
	}

	if got := countFarmers(t, db); got != 2 {
		t.Errorf("expected savepoint rollback to keep 2 rows, got %d", got)
	}
}

func TestWithTransaction_CarriesTransactionInContext(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := NewManager(db).WithTransaction(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		got, ok := FromContext(ctx)
		if !ok {
			t.Fatal("expected transaction in context")
		}
		if got.Tx() != tx {
			t.Error("expected the context transaction to wrap tx")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no transaction in empty context")
	}
}
