// Package store defines the contract every per-exam question store fulfils,
// independent of the database behind it.
package store

import (
	"context"
	"time"

	"qbank-server/examtype"
	"qbank-server/models"
)

// SubtopicDelta is the counter increment for one subtopic within a batch.
type SubtopicDelta struct {
	Name  string
	Count int
}

// IngestBatch is one validated extraction batch. Backends apply it atomically:
// subject, topic and subtopic counters first, then the questions.
type IngestBatch struct {
	BatchID     string
	ExamType    string
	SubjectID   string
	SubjectName string
	TopicID     string
	TopicName   string
	Subtopics   []SubtopicDelta
	Questions   []models.Question
	At          time.Time
}

// SampleFilter addresses one (subject, type, difficulty) cell. An empty
// Difficulty matches every tier.
type SampleFilter struct {
	ExamType     string
	SubjectID    string
	QuestionType models.QuestionType
	Difficulty   models.Difficulty
	UnlockedOnly bool
}

// Scope addresses every question of one topic.
type Scope struct {
	ExamType  string
	SubjectID string
	TopicName string
}

// GroupCount is one row of the stats aggregation.
type GroupCount struct {
	SubjectID    string
	SubjectName  string
	TopicID      string
	TopicName    string
	QuestionType models.QuestionType
	Difficulty   models.Difficulty
	Locked       bool
	Count        int
}

// Counters is a snapshot of the advisory counter records.
type Counters struct {
	Subjects  []models.Subject
	Topics    []models.Topic
	Subtopics []models.Subtopic
}

// Store is a live connection to one exam's dedicated database.
type Store interface {
	// Driver names the backend ("postgres", "mongo", "memory").
	Driver() string
	// EnsureSchema registers tables/collections and indexes. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	// Ingest applies the batch in one transaction. A clash on question ids
	// returns *models.DuplicateQuestionError and nothing persists.
	Ingest(ctx context.Context, b IngestBatch) error
	// Sample draws up to n questions uniformly without replacement.
	Sample(ctx context.Context, f SampleFilter, n int) ([]models.Question, error)

	CountLocks(ctx context.Context, s Scope) (models.LockCount, error)
	SetScopeLock(ctx context.Context, s Scope, locked bool) (models.UpdateResult, error)
	LockIDs(ctx context.Context, examType string, ids []string) (models.UpdateResult, error)
	// ClaimIDs flips locked false->true on ids and returns the ids it actually flipped.
	// It is all or nothing: on error no id stays claimed.
	ClaimIDs(ctx context.Context, examType string, ids []string) ([]string, error)
	// ReleaseIDs unlocks ids and returns how many changed. It undoes a claim
	// whose paper was never handed out.
	ReleaseIDs(ctx context.Context, examType string, ids []string) (int, error)

	GroupCounts(ctx context.Context, examType string) ([]GroupCount, error)
	DailyCounts(ctx context.Context, examType string, since time.Time) ([]models.DailyCount, error)
	Counters(ctx context.Context, examType string) (Counters, error)
}

// Provider hands out the store for a canonical exam key. db.Router is the production one.
type Provider interface {
	Get(ctx context.Context, key examtype.Key) (Store, error)
}

// Static is a fixed Provider for tools and tests that need no connection management.
type Static map[examtype.Key]Store

func (s Static) Get(ctx context.Context, key examtype.Key) (Store, error) {
	st, ok := s[key]
	if !ok {
		return nil, &models.ConfigurationError{ExamType: string(key), Reason: "no store configured"}
	}
	return st, nil
}
