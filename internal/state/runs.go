package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ShayCichocki/crewkit/pkg/models"
)

// ErrNoRunID is returned when saving a result without a run ID.
var ErrNoRunID = errors.New("run has no id")

// SaveRun records a finished run and its outputs. Saving the same run ID
// twice replaces the earlier record.
func (db *DB) SaveRun(r *models.CrewResult) error {
	if r == nil || r.RunID == "" {
		return ErrNoRunID
	}

	inputs, err := marshalNullable(r.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	order, err := marshalNullable(r.Order)
	if err != nil {
		return fmt.Errorf("encode task order: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, r.RunID); err != nil {
			return fmt.Errorf("replace run: %w", err)
		}

		var finished any
		if !r.FinishedAt.IsZero() {
			finished = formatTime(r.FinishedAt)
		}
		_, err := tx.Exec(`
			INSERT INTO runs (id, crew, status, reason, failed_task_id, error_kind, plan, degraded,
				inputs, task_order, calls, input_tokens, output_tokens, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.RunID, r.Crew, string(r.Status), r.Reason, r.FailedTaskID, r.ErrorKind, r.Plan, r.Degraded,
			inputs, order, r.Usage.Calls, r.Usage.InputTokens, r.Usage.OutputTokens,
			formatTime(r.StartedAt), finished)
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}

		for i, out := range r.Outputs {
			structured, err := marshalNullable(out.JSON)
			if err != nil {
				return fmt.Errorf("encode output of %s: %w", out.TaskID, err)
			}
			_, err = tx.Exec(`
				INSERT INTO task_outputs (run_id, seq, task_id, agent_id, raw, json, schema_name)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, r.RunID, i, out.TaskID, out.AgentID, out.Raw, structured, out.Schema)
			if err != nil {
				return fmt.Errorf("save output of %s: %w", out.TaskID, err)
			}
		}
		return nil
	})
}

const runColumns = `id, crew, status, reason, failed_task_id, error_kind, plan, degraded,
	inputs, task_order, calls, input_tokens, output_tokens, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.CrewResult, error) {
	var r models.CrewResult
	var status, startedAt string
	var reason, failedTask, kind, plan, inputs, order, finishedAt sql.NullString
	err := row.Scan(&r.RunID, &r.Crew, &status, &reason, &failedTask, &kind, &plan, &r.Degraded,
		&inputs, &order, &r.Usage.Calls, &r.Usage.InputTokens, &r.Usage.OutputTokens,
		&startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	r.Status = models.RunStatus(status)
	r.Reason = reason.String
	r.FailedTaskID = failedTask.String
	r.ErrorKind = kind.String
	r.Plan = plan.String
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	if inputs.Valid {
		if err := json.Unmarshal([]byte(inputs.String), &r.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs: %w", err)
		}
	}
	if order.Valid {
		if err := json.Unmarshal([]byte(order.String), &r.Order); err != nil {
			return nil, fmt.Errorf("decode task order: %w", err)
		}
	}
	return &r, nil
}

// GetRun retrieves a run and its outputs by ID. It returns nil, nil when
// the run does not exist.
func (db *DB) GetRun(id string) (*models.CrewResult, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	outputs, err := db.outputs(id)
	if err != nil {
		return nil, err
	}
	r.Outputs = outputs
	if n := len(outputs); n > 0 {
		r.Final = outputs[n-1]
	}
	return r, nil
}

func (db *DB) outputs(runID string) ([]*models.Output, error) {
	rows, err := db.Query(`
		SELECT task_id, agent_id, raw, json, schema_name
		FROM task_outputs WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*models.Output
	for rows.Next() {
		var out models.Output
		var structured, schema sql.NullString
		if err := rows.Scan(&out.TaskID, &out.AgentID, &out.Raw, &structured, &schema); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		out.Schema = schema.String
		if structured.Valid {
			if err := json.Unmarshal([]byte(structured.String), &out.JSON); err != nil {
				return nil, fmt.Errorf("decode output of %s: %w", out.TaskID, err)
			}
		}
		outputs = append(outputs, &out)
	}
	return outputs, rows.Err()
}

// ListRuns returns the most recent runs first, without their outputs.
// An empty crew lists every crew; a limit of zero or less means no limit.
func (db *DB) ListRuns(crew string, limit int) ([]*models.CrewResult, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if crew != "" {
		query += ` WHERE crew = ?`
		args = append(args, crew)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.CrewResult
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// marshalNullable encodes v as JSON, storing empty maps and slices as NULL.
func marshalNullable[T any](v T) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	switch string(data) {
	case "null", "{}", "[]":
		return nil, nil
	}
	return string(data), nil
}
