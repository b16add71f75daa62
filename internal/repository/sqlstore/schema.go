// Package sqlstore implements the repository interfaces on database/sql
// with the modernc SQLite driver. It backs single-node deployments that
// run without PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQLite); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return nil
}

// Timestamps are stored as unix nanoseconds. Ordinals are not declared
// UNIQUE because SQLite cannot defer the check while renumbering.
const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS students (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  nisn TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  class_id INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  kind TEXT NOT NULL,
  duration_minutes INTEGER NOT NULL DEFAULT 0,
  deadline INTEGER,
  status TEXT NOT NULL DEFAULT 'DRAFT',
  question_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  ordinal INTEGER NOT NULL,
  points INTEGER NOT NULL,
  variant TEXT NOT NULL,
  prompt TEXT NOT NULL,
  options_json TEXT NOT NULL DEFAULT '[]',
  answer_key TEXT NOT NULL DEFAULT '',
  rubric TEXT NOT NULL DEFAULT '',
  parts INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_questions_assessment ON questions (assessment_id, ordinal);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  student_id INTEGER NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  completed_at INTEGER,
  submit_reason TEXT,
  answers_json TEXT NOT NULL DEFAULT '[]',
  auto_score INTEGER,
  auto_max INTEGER,
  manual_score INTEGER,
  manual_max INTEGER,
  manual_scores_json TEXT,
  combined_score REAL,
  UNIQUE (assessment_id, student_id)
);
`
