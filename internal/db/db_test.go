package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", ".arenadocs")

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	for _, p := range []string{"arenadocs.db", "exports"} {
		if _, err := os.Stat(filepath.Join(baseDir, p)); err != nil {
			t.Errorf("%s not created: %v", p, err)
		}
	}

	info, err := os.Stat(baseDir)
	if err != nil {
		t.Fatalf("stat base dir: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("base dir mode = %o, want no group/other access", perm)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestInit_Schema(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	objects := []struct{ kind, name string }{
		{"table", "kv_store"},
		{"index", "idx_kv_store_updated"},
	}
	for _, o := range objects {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type=? AND name=?", o.kind, o.name).Scan(&name)
		if err != nil {
			t.Errorf("%s %s not found: %v", o.kind, o.name, err)
		}
	}
}

func TestInit_MigrationIdempotent(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		db, err := Init(dir)
		if err != nil {
			t.Fatalf("Init() #%d error = %v", i+1, err)
		}
		version, err := GetUserVersion(db)
		db.Close()
		if err != nil {
			t.Fatalf("GetUserVersion() error = %v", err)
		}
		if version != CurrentSchemaVersion {
			t.Errorf("Init() #%d: user_version = %d, want %d", i+1, version, CurrentSchemaVersion)
		}
	}
}

func TestInit_RejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()

	db, err := Init(dir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := SetUserVersion(db, CurrentSchemaVersion+1); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	db.Close()

	_, err = Init(dir)
	if err == nil || !strings.Contains(err.Error(), "newer") {
		t.Errorf("Init() on a newer schema: err = %v, want version error", err)
	}
}
