package sqlite

import "testing"

func TestMigrateUp_AppliesSchema(t *testing.T) {
	t.Parallel()

	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	for _, table := range []string{"users", "templates", "tasks", "interviews", "transcript_entries"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}

	version, err := MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion failed: %v", err)
	}
	if version < 1 {
		t.Errorf("version = %d, want >= 1", version)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	t.Parallel()

	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Errorf("schema_migrations rows = %d, want 1", count)
	}
}

func TestVersionFromFilename(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"001_init.up.sql":        1,
		"042_add_index.up.sql":   42,
		"no_version_here.up.sql": 0,
	}
	for name, want := range cases {
		if got := versionFromFilename(name); got != want {
			t.Errorf("versionFromFilename(%q) = %d, want %d", name, got, want)
		}
	}
}
