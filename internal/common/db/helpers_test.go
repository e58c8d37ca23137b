package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan failed: %w", sql.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows should be detected")
	}
	if IsNoRows(fmt.Errorf("other")) {
		t.Fatalf("unexpected match")
	}
}

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("exec failed: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'test_results.uk_run_id'"})
	key, ok := UniqueViolation(err)
	if !ok || key != "test_results.uk_run_id" {
		t.Fatalf("unexpected result: %q %v", key, ok)
	}
	if _, ok := UniqueViolation(fmt.Errorf("other")); ok {
		t.Fatalf("unexpected violation")
	}
}

func TestOpenSQLite(t *testing.T) {
	database, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "nested", "runs.db")})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if _, err := database.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	err = database.Transaction(ctx, func(tx Transaction) error {
		_, err := tx.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	var v string
	if err := database.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "a").Scan(&v); err != nil || v != "1" {
		t.Fatalf("unexpected row: %q %v", v, err)
	}
	err = database.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "missing").Scan(&v)
	if !IsNoRows(err) {
		t.Fatalf("expected no rows, got %v", err)
	}
	_, err = database.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "2")
	if _, ok := UniqueViolation(err); !ok {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres", DSN: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}
