// Package postgres stores one exam's question bank in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"qbank-server/models"
	"qbank-server/store"
)

// Store is a store.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open creates the pool and pings it.
func Open(ctx context.Context, connString string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, &models.ConfigurationError{Reason: fmt.Sprintf("invalid postgres URI: %v", err)}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("connected to postgres", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return &Store{pool: pool, log: logger}, nil
}

func (s *Store) Driver() string { return "postgres" }

func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.pool.Ping(ctx))
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

// classify turns connection-level pgx failures into *models.TransientError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "53300": // serialization, deadlock, admin shutdown, too many connections
			return &models.TransientError{Op: op, Err: err}
		}
		return store.Classify(op, err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return &models.TransientError{Op: op, Err: err}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &models.TransientError{Op: op, Err: err}
	}
	return store.Classify(op, err)
}

const upsertSubjectSQL = `
	INSERT INTO subjects (subject_id, exam_type, name, total_questions, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (subject_id, exam_type) DO UPDATE SET
		name = EXCLUDED.name,
		total_questions = subjects.total_questions + EXCLUDED.total_questions,
		updated_at = EXCLUDED.updated_at`

const upsertTopicSQL = `
	INSERT INTO topics (topic_id, subject_id, exam_type, name, subject_name, total_questions, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	ON CONFLICT (topic_id, subject_id, exam_type) DO UPDATE SET
		name = EXCLUDED.name,
		subject_name = EXCLUDED.subject_name,
		total_questions = topics.total_questions + EXCLUDED.total_questions,
		updated_at = EXCLUDED.updated_at`

const upsertSubtopicSQL = `
	INSERT INTO subtopics (name, topic_id, topic_name, subject_id, exam_type, total_questions, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	ON CONFLICT (name, topic_id, subject_id, exam_type) DO UPDATE SET
		topic_name = EXCLUDED.topic_name,
		total_questions = subtopics.total_questions + EXCLUDED.total_questions,
		updated_at = EXCLUDED.updated_at`

// A conflicting id inserts nothing, which is how duplicates are spotted
// without aborting the rest of the batch.
const insertQuestionSQL = `
	INSERT INTO questions (
		id, question_no, question_type, difficulty, question_description, options,
		correct_answer, solution, answer_key, locked, exam_type, subject_id, subject_name,
		topic_id, topic_name, subtopic_name, batch_id, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (id) DO NOTHING`

// Ingest runs the counters and the question inserts in one transaction.
func (s *Store) Ingest(ctx context.Context, b store.IngestBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify("begin ingest", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) // no-op after Commit

	n := len(b.Questions)
	if _, err := tx.Exec(ctx, upsertSubjectSQL, b.SubjectID, b.ExamType, b.SubjectName, n, b.At); err != nil {
		return classify("upsert subject", err)
	}
	if _, err := tx.Exec(ctx, upsertTopicSQL, b.TopicID, b.SubjectID, b.ExamType, b.TopicName, b.SubjectName, n, b.At); err != nil {
		return classify("upsert topic", err)
	}
	for _, d := range b.Subtopics {
		if _, err := tx.Exec(ctx, upsertSubtopicSQL, d.Name, b.TopicID, b.TopicName, b.SubjectID, b.ExamType, d.Count, b.At); err != nil {
			return classify("upsert subtopic", err)
		}
	}

	batch := &pgx.Batch{}
	for _, q := range b.Questions {
		var opts []byte
		if q.Options != nil {
			if opts, err = json.Marshal(q.Options); err != nil {
				return fmt.Errorf("failed to encode options for %s: %w", q.ID, err)
			}
		}
		batch.Queue(insertQuestionSQL,
			q.ID, q.QuestionNo, string(q.QuestionType), string(q.Difficulty), q.QuestionDescription, opts,
			q.CorrectAnswer, q.Solution, q.AnswerKey, q.Locked, q.ExamType, q.SubjectID, q.SubjectName,
			q.TopicID, q.TopicName, q.SubtopicName, b.BatchID, q.CreatedAt, q.UpdatedAt)
	}
	results := tx.SendBatch(ctx, batch)
	var dups []string
	for _, q := range b.Questions {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return classify("insert questions", fmt.Errorf("failed to insert question %s: %w", q.ID, err))
		}
		if tag.RowsAffected() == 0 {
			dups = append(dups, q.ID)
		}
	}
	if err := results.Close(); err != nil {
		return classify("insert questions", err)
	}
	if len(dups) > 0 {
		return &models.DuplicateQuestionError{IDs: dups}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ingestion_batches (batch_id, exam_type, subject_id, topic_id, question_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, b.BatchID, b.ExamType, b.SubjectID, b.TopicID, n, b.At); err != nil {
		return classify("record batch", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit ingest", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

const questionColumns = `
	id, question_no, question_type, difficulty, question_description, options,
	correct_answer, solution, answer_key, locked, exam_type, subject_id, subject_name,
	topic_id, topic_name, subtopic_name, batch_id, created_at, updated_at`

func scanQuestion(row pgx.CollectableRow) (models.Question, error) {
	var (
		q          models.Question
		qt, diff   string
		optionsRaw []byte
	)
	err := row.Scan(&q.ID, &q.QuestionNo, &qt, &diff, &q.QuestionDescription, &optionsRaw,
		&q.CorrectAnswer, &q.Solution, &q.AnswerKey, &q.Locked, &q.ExamType, &q.SubjectID, &q.SubjectName,
		&q.TopicID, &q.TopicName, &q.SubtopicName, &q.BatchID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return q, err
	}
	q.QuestionType = models.QuestionType(qt)
	q.Difficulty = models.Difficulty(diff)
	if len(optionsRaw) > 0 {
		var opts models.Options
		if err := json.Unmarshal(optionsRaw, &opts); err != nil {
			return q, fmt.Errorf("question %s has malformed options: %w", q.ID, err)
		}
		q.Options = &opts
	}
	return q, nil
}

// Sample uses ORDER BY random(), which is fine at question-bank sizes.
func (s *Store) Sample(ctx context.Context, f store.SampleFilter, n int) ([]models.Question, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE exam_type = $1 AND subject_id = $2 AND question_type = $3
			AND ($4 = '' OR difficulty = $4)
			AND (NOT $5 OR locked = FALSE)
		ORDER BY random()
		LIMIT $6`,
		f.ExamType, f.SubjectID, string(f.QuestionType), string(f.Difficulty), f.UnlockedOnly, n)
	if err != nil {
		return nil, classify("sample", err)
	}
	qs, err := pgx.CollectRows(rows, scanQuestion)
	if err != nil {
		return nil, classify("sample", err)
	}
	return qs, nil
}

func (s *Store) CountLocks(ctx context.Context, sc store.Scope) (models.LockCount, error) {
	var lc models.LockCount
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE locked), count(*)
		FROM questions
		WHERE exam_type = $1 AND subject_id = $2 AND topic_name = $3`,
		sc.ExamType, sc.SubjectID, sc.TopicName).Scan(&lc.LockedCount, &lc.TotalCount)
	if err != nil {
		return lc, classify("count locks", err)
	}
	lc.UnlockedCount = lc.TotalCount - lc.LockedCount
	return lc, nil
}

// SetScopeLock reports matched and modified rows from one statement.
func (s *Store) SetScopeLock(ctx context.Context, sc store.Scope, locked bool) (models.UpdateResult, error) {
	var res models.UpdateResult
	err := s.pool.QueryRow(ctx, `
		WITH scope AS (
			SELECT id, locked FROM questions
			WHERE exam_type = $1 AND subject_id = $2 AND topic_name = $3
			FOR UPDATE
		), changed AS (
			UPDATE questions q SET locked = $4, updated_at = now()
			FROM scope
			WHERE q.id = scope.id AND scope.locked <> $4
			RETURNING q.id
		)
		SELECT (SELECT count(*) FROM scope), (SELECT count(*) FROM changed)`,
		sc.ExamType, sc.SubjectID, sc.TopicName, locked).Scan(&res.Matched, &res.Modified)
	if err != nil {
		return res, classify("lock scope", err)
	}
	return res, nil
}

func (s *Store) LockIDs(ctx context.Context, examType string, ids []string) (models.UpdateResult, error) {
	var res models.UpdateResult
	err := s.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT id, locked FROM questions
			WHERE exam_type = $1 AND id = ANY($2)
			FOR UPDATE
		), changed AS (
			UPDATE questions q SET locked = TRUE, updated_at = now()
			FROM target
			WHERE q.id = target.id AND NOT target.locked
			RETURNING q.id
		)
		SELECT (SELECT count(*) FROM target), (SELECT count(*) FROM changed)`,
		examType, ids).Scan(&res.Matched, &res.Modified)
	if err != nil {
		return res, classify("lock ids", err)
	}
	return res, nil
}

// ClaimIDs relies on the row lock taken by UPDATE: of two racing claims, the
// second re-checks locked = FALSE after the first commits and skips the row.
func (s *Store) ClaimIDs(ctx context.Context, examType string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE questions SET locked = TRUE, updated_at = now()
		WHERE exam_type = $1 AND id = ANY($2) AND locked = FALSE
		RETURNING id`, examType, ids)
	if err != nil {
		return nil, classify("claim ids", err)
	}
	won, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("claim ids", err)
	}
	set := make(map[string]bool, len(won))
	for _, id := range won {
		set[id] = true
	}
	claimed := make([]string, 0, len(won))
	for _, id := range ids {
		if set[id] {
			claimed = append(claimed, id)
			delete(set, id)
		}
	}
	return claimed, nil
}

func (s *Store) ReleaseIDs(ctx context.Context, examType string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET locked = FALSE, updated_at = now()
		WHERE exam_type = $1 AND id = ANY($2) AND locked = TRUE`, examType, ids)
	if err != nil {
		return 0, classify("release ids", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GroupCounts(ctx context.Context, examType string) ([]store.GroupCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subject_id, subject_name, topic_id, topic_name, question_type, difficulty, locked, count(*)
		FROM questions
		WHERE exam_type = $1
		GROUP BY subject_id, subject_name, topic_id, topic_name, question_type, difficulty, locked`, examType)
	if err != nil {
		return nil, classify("group counts", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.GroupCount, error) {
		var (
			g        store.GroupCount
			qt, diff string
		)
		err := row.Scan(&g.SubjectID, &g.SubjectName, &g.TopicID, &g.TopicName, &qt, &diff, &g.Locked, &g.Count)
		g.QuestionType = models.QuestionType(qt)
		g.Difficulty = models.Difficulty(diff)
		return g, err
	})
	if err != nil {
		return nil, classify("group counts", err)
	}
	return out, nil
}

func (s *Store) DailyCounts(ctx context.Context, examType string, since time.Time) ([]models.DailyCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, count(*)
		FROM questions
		WHERE exam_type = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day`, examType, since)
	if err != nil {
		return nil, classify("daily counts", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DailyCount, error) {
		var d models.DailyCount
		err := row.Scan(&d.Date, &d.Count)
		return d, err
	})
	if err != nil {
		return nil, classify("daily counts", err)
	}
	return out, nil
}

func (s *Store) Counters(ctx context.Context, examType string) (store.Counters, error) {
	var c store.Counters
	rows, err := s.pool.Query(ctx, `
		SELECT subject_id, name, exam_type, total_questions, created_at, updated_at
		FROM subjects WHERE exam_type = $1 ORDER BY subject_id`, examType)
	if err != nil {
		return c, classify("counters", err)
	}
	if c.Subjects, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Subject, error) {
		var v models.Subject
		err := row.Scan(&v.SubjectID, &v.Name, &v.ExamType, &v.TotalQuestions, &v.CreatedAt, &v.UpdatedAt)
		return v, err
	}); err != nil {
		return c, classify("counters", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT topic_id, name, subject_id, subject_name, exam_type, total_questions, created_at, updated_at
		FROM topics WHERE exam_type = $1 ORDER BY subject_id, topic_id`, examType)
	if err != nil {
		return c, classify("counters", err)
	}
	if c.Topics, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Topic, error) {
		var v models.Topic
		err := row.Scan(&v.TopicID, &v.Name, &v.SubjectID, &v.SubjectName, &v.ExamType, &v.TotalQuestions, &v.CreatedAt, &v.UpdatedAt)
		return v, err
	}); err != nil {
		return c, classify("counters", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT name, topic_id, topic_name, subject_id, exam_type, total_questions, created_at, updated_at
		FROM subtopics WHERE exam_type = $1 ORDER BY topic_id, name`, examType)
	if err != nil {
		return c, classify("counters", err)
	}
	if c.Subtopics, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Subtopic, error) {
		var v models.Subtopic
		err := row.Scan(&v.Name, &v.TopicID, &v.TopicName, &v.SubjectID, &v.ExamType, &v.TotalQuestions, &v.CreatedAt, &v.UpdatedAt)
		return v, err
	}); err != nil {
		return c, classify("counters", err)
	}
	return c, nil
}
