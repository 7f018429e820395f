package state

import (
	"io"

	"github.com/ShayCichocki/crewkit/pkg/models"
)

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(r *models.CrewResult) error
	GetRun(id string) (*models.CrewResult, error)
	ListRuns(crew string, limit int) ([]*models.CrewResult, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// HistoryStore is the full run-history ledger.
type HistoryStore interface {
	io.Closer
	Migrator
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ HistoryStore = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ RunStore     = (*DB)(nil)
)
