package state

import (
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{
		version: 1,
		name:    "runs",
		up: `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	crew TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	failed_task_id TEXT,
	error_kind TEXT,
	plan TEXT,
	degraded INTEGER NOT NULL DEFAULT 0,
	inputs TEXT,
	task_order TEXT,
	calls INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_crew ON runs(crew);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`,
	},
	{
		version: 2,
		name:    "task outputs",
		up: `
CREATE TABLE IF NOT EXISTS task_outputs (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	task_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	raw TEXT NOT NULL,
	json TEXT,
	schema_name TEXT,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_task_outputs_task_id ON task_outputs(task_id);
`,
	},
}

// Migrate brings the schema up to the latest version. Each step commits
// together with its schema_version row.
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := db.schemaVersion()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := db.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.up); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration v%d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (db *DB) schemaVersion() (int, error) {
	var v int
	if err := db.conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
