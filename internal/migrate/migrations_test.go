package migrate_test

import (
	"testing"

	"opsdesk/internal/db"
	"opsdesk/internal/migrate"
)

func TestMigrateRecordsAppliedVersions(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if n == 0 {
		t.Fatalf("no migration rows recorded")
	}
	var appliedAt string
	if err := conn.QueryRow(`SELECT applied_at FROM schema_migrations WHERE version=1`).Scan(&appliedAt); err != nil {
		t.Fatalf("version 1 not recorded: %v", err)
	}
	if appliedAt == "" {
		t.Fatalf("applied_at empty for version 1")
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	var before int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&before); err != nil {
		t.Fatal(err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}
	var after int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&after); err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("second run re-applied migrations: %d -> %d", before, after)
	}
}
