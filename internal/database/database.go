// Package database is the PostgreSQL persistence layer: the durable pattern
// store, the learning event log with its affinity table, and execution
// history.
package database

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/lib/pq"
)

// Database wraps the PostgreSQL connection
type Database struct {
	db *sql.DB
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
// This is used throughout the database package for parameterized queries.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// New opens a PostgreSQL connection and initializes the schema
func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Printf("[Database] Connected and schema initialized")
	return d, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// initSchema creates the tables
func (d *Database) initSchema() error {
	schema := `
	-- Registered patterns, one row per name; the full definition lives in data
	CREATE TABLE IF NOT EXISTS patterns (
		name TEXT PRIMARY KEY,
		category TEXT NOT NULL DEFAULT 'general',
		data JSONB NOT NULL,
		success_rate REAL NOT NULL DEFAULT 0,
		occurrences INTEGER NOT NULL DEFAULT 0,
		strength REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Append-only execution outcome log
	CREATE TABLE IF NOT EXISTS learning_events (
		id BIGSERIAL PRIMARY KEY,
		execution_id TEXT NOT NULL,
		pattern_name TEXT NOT NULL,
		model_id TEXT,
		success BOOLEAN NOT NULL,
		steps_completed INTEGER NOT NULL DEFAULT 0,
		total_steps INTEGER NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		failure_kind TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Learned (pattern, model) affinity scores in [-1, 1]
	CREATE TABLE IF NOT EXISTS affinities (
		pattern_name TEXT NOT NULL,
		model_id TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pattern_name, model_id)
	);

	-- Execution history for inspection and replay
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		pattern_name TEXT NOT NULL,
		model_id TEXT,
		state TEXT NOT NULL,
		current_step INTEGER NOT NULL DEFAULT 0,
		total_steps INTEGER NOT NULL DEFAULT 0,
		failure_kind TEXT,
		results JSONB,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_patterns_category ON patterns(category);
	CREATE INDEX IF NOT EXISTS idx_learning_events_pattern ON learning_events(pattern_name);
	CREATE INDEX IF NOT EXISTS idx_executions_pattern ON executions(pattern_name);
	CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
