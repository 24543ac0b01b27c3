package postgres

import (
	"strings"
	"testing"
)

// ─── DSN ───

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "depthmap", User: "u", Password: "p"})
	want := "postgres://u:p@db:5432/depthmap?sslmode=disable"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	got = DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"})
	if got != "postgres://x" {
		t.Fatalf("expected explicit DSN to win, got %q", got)
	}
}

// ─── Migrations ───

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) == 0 || names[0] != "001_snapshots.sql" {
		t.Fatalf("expected 001_snapshots.sql first, got %v", names)
	}
	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, table := range []string{"snapshots", "price_level_changes"} {
		if !containsTable(string(data), table) {
			t.Fatalf("expected migration to create %s", table)
		}
	}
}

func containsTable(sql, table string) bool {
	return strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" ")
}
