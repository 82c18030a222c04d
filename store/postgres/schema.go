package postgres

import (
	"context"
	"fmt"
)

// schemaSQL is idempotent; EnsureSchema runs it on every new connection.
// In a production environment, use a proper migration tool (e.g., golang-migrate).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS subjects (
	subject_id      TEXT NOT NULL,
	exam_type       TEXT NOT NULL,
	name            TEXT NOT NULL,
	total_questions INT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (subject_id, exam_type)
);

CREATE TABLE IF NOT EXISTS topics (
	topic_id        TEXT NOT NULL,
	subject_id      TEXT NOT NULL,
	exam_type       TEXT NOT NULL,
	name            TEXT NOT NULL,
	subject_name    TEXT NOT NULL,
	total_questions INT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (topic_id, subject_id, exam_type),
	FOREIGN KEY (subject_id, exam_type) REFERENCES subjects (subject_id, exam_type)
);

CREATE TABLE IF NOT EXISTS subtopics (
	name            TEXT NOT NULL,
	topic_id        TEXT NOT NULL,
	topic_name      TEXT NOT NULL,
	subject_id      TEXT NOT NULL,
	exam_type       TEXT NOT NULL,
	total_questions INT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (name, topic_id, subject_id, exam_type),
	FOREIGN KEY (topic_id, subject_id, exam_type) REFERENCES topics (topic_id, subject_id, exam_type)
);

CREATE TABLE IF NOT EXISTS questions (
	id                   TEXT PRIMARY KEY,
	question_no          TEXT NOT NULL DEFAULT '',
	question_type        TEXT NOT NULL CHECK (question_type IN ('MCQ', 'Integer')),
	difficulty           TEXT NOT NULL CHECK (difficulty IN ('Easy', 'Medium', 'Hard')),
	question_description TEXT NOT NULL DEFAULT '',
	options              JSONB, -- MCQ only
	correct_answer       TEXT NOT NULL DEFAULT '',
	solution             TEXT NOT NULL DEFAULT '',
	answer_key           TEXT NOT NULL DEFAULT '',
	locked               BOOLEAN NOT NULL DEFAULT FALSE,
	exam_type            TEXT NOT NULL,
	subject_id           TEXT NOT NULL,
	subject_name         TEXT NOT NULL,
	topic_id             TEXT NOT NULL,
	topic_name           TEXT NOT NULL,
	subtopic_name        TEXT NOT NULL,
	batch_id             TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	FOREIGN KEY (subtopic_name, topic_id, subject_id, exam_type)
		REFERENCES subtopics (name, topic_id, subject_id, exam_type)
);

CREATE INDEX IF NOT EXISTS questions_hierarchy_idx ON questions (exam_type, subject_id, topic_id, subtopic_name);
CREATE INDEX IF NOT EXISTS questions_difficulty_type_idx ON questions (difficulty, question_type);
CREATE INDEX IF NOT EXISTS questions_locked_idx ON questions (locked);
CREATE INDEX IF NOT EXISTS questions_topic_scope_idx ON questions (exam_type, subject_id, topic_name);
CREATE INDEX IF NOT EXISTS questions_created_idx ON questions (exam_type, created_at);

CREATE TABLE IF NOT EXISTS ingestion_batches (
	batch_id       TEXT PRIMARY KEY,
	exam_type      TEXT NOT NULL,
	subject_id     TEXT NOT NULL,
	topic_id       TEXT NOT NULL,
	question_count INT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables and indexes if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return classify("create schema", fmt.Errorf("failed to create schema: %w", err))
	}
	s.log.Debug("postgres schema ensured")
	return nil
}
