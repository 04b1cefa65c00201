package testutil

import (
	"strings"
	"testing"
)

func TestNewTestDSN(t *testing.T) {
	dsn := NewTestDSN("example_test")
	if !strings.HasPrefix(dsn, "file:") {
		t.Errorf("expected file: prefix, got %s", dsn)
	}
	if !strings.Contains(dsn, "example_test.db") {
		t.Errorf("expected test name in DSN, got %s", dsn)
	}
}

func TestCleanupTestDBRejectsBadDSN(t *testing.T) {
	if err := CleanupTestDB("not-a-file-dsn"); err == nil {
		t.Error("expected an error for a DSN without a file: prefix")
	}
}

func TestSetupTestDB(t *testing.T) {
	db, cleanup := SetupTestDB(t, "testutil_setup")
	defer cleanup()

	if err := db.Ping(); err != nil {
		t.Fatalf("database not reachable: %v", err)
	}

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("failed to read foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Error("expected foreign keys to be enabled")
	}
}

func TestSetupTestDBWithMigrations(t *testing.T) {
	db, cleanup := SetupTestDBWithMigrations(t, "testutil_migrations")
	defer cleanup()

	for _, table := range []string{"subnets", "static_pools", "devices", "allocations"} {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}
