package database

import (
	"fmt"
	"time"

	"github.com/jordanhubbard/tapestry/internal/learning"
)

// LearningSink adapts the database to the learning tracker's persistence
// boundary.
type LearningSink struct {
	d *Database
}

// LearningSink returns the tracker-facing view of the database
func (d *Database) LearningSink() *LearningSink {
	return &LearningSink{d: d}
}

// AppendEvent writes one outcome to the append-only log
func (s *LearningSink) AppendEvent(e learning.Event) error {
	query := rebind(`
		INSERT INTO learning_events
			(execution_id, pattern_name, model_id, success, steps_completed, total_steps, duration_ms, failure_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.d.db.Exec(query,
		e.ExecutionID, e.PatternName, e.ModelID, e.Success,
		e.StepsCompleted, e.TotalSteps, e.DurationMs, e.FailureKind, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append learning event: %w", err)
	}
	return nil
}

// SaveAffinity upserts a (pattern, model) affinity score
func (s *LearningSink) SaveAffinity(patternName, modelID string, score float64) error {
	query := rebind(`
		INSERT INTO affinities (pattern_name, model_id, score, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (pattern_name, model_id) DO UPDATE SET
			score = EXCLUDED.score,
			updated_at = EXCLUDED.updated_at`)

	_, err := s.d.db.Exec(query, patternName, modelID, score, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save affinity %s/%s: %w", patternName, modelID, err)
	}
	return nil
}

// LoadAffinities loads the whole affinity table, keyed "pattern|model"
func (s *LearningSink) LoadAffinities() (map[string]float64, error) {
	rows, err := s.d.db.Query(`SELECT pattern_name, model_id, score FROM affinities`)
	if err != nil {
		return nil, fmt.Errorf("failed to load affinities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var patternName, modelID string
		var score float64
		if err := rows.Scan(&patternName, &modelID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan affinity row: %w", err)
		}
		out[patternName+"|"+modelID] = score
	}
	return out, rows.Err()
}
