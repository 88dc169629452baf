package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jordanhubbard/tapestry/internal/pattern"
)

// PatternStore adapts the database to the registry's storage boundary
type PatternStore struct {
	d *Database
}

// PatternStore returns the registry-facing view of the database
func (d *Database) PatternStore() *PatternStore {
	return &PatternStore{d: d}
}

// Put upserts a pattern row. The JSONB column is the source of truth; the
// scalar columns exist for querying and are derived from it.
func (s *PatternStore) Put(name string, p *pattern.Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern %s: %w", name, err)
	}

	query := rebind(`
		INSERT INTO patterns (name, category, data, success_rate, occurrences, strength, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			category = EXCLUDED.category,
			data = EXCLUDED.data,
			success_rate = EXCLUDED.success_rate,
			occurrences = EXCLUDED.occurrences,
			strength = EXCLUDED.strength,
			updated_at = EXCLUDED.updated_at`)

	_, err = s.d.db.Exec(query,
		name, string(p.Category), data,
		p.SuccessRate, p.Occurrences, p.Strength,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pattern %s: %w", name, err)
	}
	return nil
}

// Get loads a pattern by name, pattern.ErrNotFound when absent
func (s *PatternStore) Get(name string) (*pattern.Pattern, error) {
	var data []byte
	query := rebind(`SELECT data FROM patterns WHERE name = ?`)
	err := s.d.db.QueryRow(query, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, pattern.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern %s: %w", name, err)
	}

	var p pattern.Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pattern %s: %w", name, err)
	}
	return &p, nil
}

// List loads every registered pattern
func (s *PatternStore) List() ([]*pattern.Pattern, error) {
	rows, err := s.d.db.Query(`SELECT data FROM patterns ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var out []*pattern.Pattern
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		var p pattern.Pattern
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pattern row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
