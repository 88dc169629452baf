package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jordanhubbard/tapestry/internal/executor"
)

// SaveExecution upserts an execution record. Called once on completion;
// in-flight executions live only in memory.
func (d *Database) SaveExecution(e *executor.Execution) error {
	results, err := json.Marshal(e.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal execution results: %w", err)
	}

	query := rebind(`
		INSERT INTO executions
			(id, pattern_name, model_id, state, current_step, total_steps, failure_kind, results, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			current_step = EXCLUDED.current_step,
			failure_kind = EXCLUDED.failure_kind,
			results = EXCLUDED.results,
			finished_at = EXCLUDED.finished_at`)

	_, err = d.db.Exec(query,
		e.ID, e.PatternName, e.ModelID, string(e.State),
		e.CurrentStep, e.TotalSteps, string(e.FailureKind), results,
		e.StartedAt, e.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", e.ID, err)
	}
	return nil
}

// GetExecution loads one execution by ID
func (d *Database) GetExecution(id string) (*executor.Execution, error) {
	query := rebind(`
		SELECT id, pattern_name, model_id, state, current_step, total_steps, failure_kind, results, started_at, finished_at
		FROM executions WHERE id = ?`)

	e, err := scanExecution(d.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	return e, err
}

// ListExecutions returns the most recent executions, optionally filtered by
// pattern name.
func (d *Database) ListExecutions(patternName string, limit int) ([]*executor.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if patternName != "" {
		query := rebind(`
			SELECT id, pattern_name, model_id, state, current_step, total_steps, failure_kind, results, started_at, finished_at
			FROM executions WHERE pattern_name = ? ORDER BY started_at DESC LIMIT ?`)
		rows, err = d.db.Query(query, patternName, limit)
	} else {
		query := rebind(`
			SELECT id, pattern_name, model_id, state, current_step, total_steps, failure_kind, results, started_at, finished_at
			FROM executions ORDER BY started_at DESC LIMIT ?`)
		rows, err = d.db.Query(query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*executor.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*executor.Execution, error) {
	var e executor.Execution
	var state, failureKind string
	var modelID, results sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&e.ID, &e.PatternName, &modelID, &state,
		&e.CurrentStep, &e.TotalSteps, &failureKind, &results,
		&e.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	e.State = executor.State(state)
	e.FailureKind = executor.ErrorKind(failureKind)
	e.ModelID = modelID.String
	if finishedAt.Valid {
		e.FinishedAt = finishedAt.Time
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &e.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution results: %w", err)
		}
	}
	return &e, nil
}
