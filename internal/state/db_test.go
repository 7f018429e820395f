package state

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB opens and migrates a database under t.TempDir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMigrated(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesFileAndParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	db := setupTestDB(t)

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			var got string
			if err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
				t.Fatalf("read pragma: %v", err)
			}
			if got != tt.want {
				t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
			}
		})
	}
}

func TestOpen_Unwritable(t *testing.T) {
	if _, err := Open("/proc/crewkit/history.db"); err == nil {
		t.Error("expected error for a path under /proc")
	}
}

func TestClose_RejectsLaterQueries(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := db.Query("SELECT 1"); err == nil {
		t.Error("expected error after Close")
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"schema_version", "runs", "task_outputs"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}

	// Running again is a no-op.
	for i := 0; i < 2; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate again: %v", err)
		}
	}
	v, err := db.schemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}
	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", rows, len(migrations))
	}
}

func TestMigrate_ResumesFromPartialSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(migrations[0].up); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
		t.Fatal(err)
	}

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='task_outputs'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Error("task_outputs should be created by the pending migration")
	}
}

func TestTransaction(t *testing.T) {
	insert := func(tx *sql.Tx, id string) error {
		_, err := tx.Exec(`INSERT INTO runs (id, crew, status, started_at) VALUES (?, 'blog', 'completed', ?)`,
			id, formatTime(time.Now()))
		return err
	}

	tests := []struct {
		name    string
		fn      func(tx *sql.Tx) error
		wantErr bool
		want    int
	}{
		{
			name: "commit",
			fn:   func(tx *sql.Tx) error { return insert(tx, "tx-ok") },
			want: 1,
		},
		{
			name: "rollback",
			fn: func(tx *sql.Tx) error {
				if err := insert(tx, "tx-fail"); err != nil {
					return err
				}
				return sql.ErrTxDone
			},
			wantErr: true,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			err := db.Transaction(tt.fn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transaction error = %v, wantErr %v", err, tt.wantErr)
			}
			var n int
			if err := db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
				t.Fatal(err)
			}
			if n != tt.want {
				t.Errorf("runs = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestGlobalDBPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := GlobalDBPath(); got != "/custom/data/crewkit/history.db" {
		t.Errorf("GlobalDBPath() = %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := GlobalDBPath(), filepath.Join(home, ".local", "share", "crewkit", "history.db"); got != want {
		t.Errorf("GlobalDBPath() = %q, want %q", got, want)
	}
}

func TestProjectDir(t *testing.T) {
	if got := ProjectDir("/crews/blog"); got != "/crews/blog/.crew" {
		t.Errorf("ProjectDir() = %q", got)
	}
}

func TestTimeEncoding(t *testing.T) {
	now := time.Now()
	parsed, err := parseTime(formatTime(now))
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !now.Equal(parsed) {
		t.Errorf("round trip = %v, want %v", parsed, now.UTC())
	}

	early := formatTime(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	late := formatTime(time.Date(2026, 1, 1, 10, 0, 0, 5, time.UTC))
	if early >= late {
		t.Errorf("encoded times should sort: %s >= %s", early, late)
	}

	tests := []struct {
		name     string
		in       sql.NullString
		wantZero bool
	}{
		{"valid", sql.NullString{String: "2026-01-01T12:00:00.000000000Z", Valid: true}, false},
		{"null", sql.NullString{}, true},
		{"malformed", sql.NullString{String: "yesterday", Valid: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseNullableTime(tt.in).IsZero(); got != tt.wantZero {
				t.Errorf("IsZero = %v, want %v", got, tt.wantZero)
			}
		})
	}
}
