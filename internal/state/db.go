// Package state keeps the run-history ledger: the final CrewResult of every
// kickoff and its task outputs, in SQLite.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the run-history database.
type DB struct {
	conn *sql.DB
	path string
}

// GlobalDBPath returns the path to the user's run-history database.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "crewkit", "history.db")
}

// ProjectDir returns the per-crew state directory that holds run signals.
func ProjectDir(crewDir string) string {
	return filepath.Join(crewDir, ".crew")
}

// connPragmas are applied to the single pooled connection.
var connPragmas = []struct {
	name string
	stmt string
}{
	{"WAL journal", "PRAGMA journal_mode=WAL"},
	{"foreign keys", "PRAGMA foreign_keys=ON"},
	{"busy timeout", "PRAGMA busy_timeout=5000"},
}

// Open opens the database at path, creating parent directories as needed.
// It does not migrate; see OpenMigrated.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection.
	conn.SetMaxOpenConns(1)

	for _, p := range connPragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable %s: %w", p.name, err)
		}
	}
	return &DB{conn: conn, path: path}, nil
}

// OpenGlobal opens the user's run-history database and migrates it.
func OpenGlobal() (*DB, error) {
	return OpenMigrated(GlobalDBPath())
}

// OpenMigrated opens path and applies pending migrations.
func OpenMigrated(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the connection.
func (db *DB) Close() error { return db.conn.Close() }

// Path returns the database file.
func (db *DB) Path() string { return db.path }

// Exec runs a statement that returns no rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query runs a statement that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow runs a statement that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Transaction runs fn in a transaction, rolling back when fn fails.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// timeLayout is fixed-width so stored times sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// parseNullableTime returns the zero time for NULL or malformed values.
func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := parseTime(s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// PurgeOldRuns deletes runs that started more than olderThan ago, with
// their outputs, and reports how many runs went.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	return res.RowsAffected()
}
