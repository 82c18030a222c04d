package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbank-server/models"
	"qbank-server/store"
)

// Needs a replica set for transactions: QBANK_MONGO_TEST_URI=mongodb://localhost:27017/?replicaSet=rs0
func openTest(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("QBANK_MONGO_TEST_URI")
	if uri == "" {
		t.Skip("QBANK_MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, uri, "qbank_test", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func testBatch(subject string, ids ...string) store.IngestBatch {
	at := time.Now().UTC().Truncate(time.Millisecond)
	b := store.IngestBatch{
		BatchID: uuid.NewString(), ExamType: "NEET", SubjectID: subject, SubjectName: "Biology",
		TopicID: "cell", TopicName: "Cell",
		Subtopics: []store.SubtopicDelta{{Name: "General", Count: len(ids)}}, At: at,
	}
	for i, id := range ids {
		b.Questions = append(b.Questions, models.Question{
			ID: id, QuestionNo: fmt.Sprint(i + 1), QuestionType: models.QuestionTypeMCQ,
			Difficulty: models.Difficulties[i%3], Options: &models.Options{A: "a", B: "b", C: "c", D: "d"},
			ExamType: "NEET", SubjectID: subject, SubjectName: "Biology", TopicID: "cell", TopicName: "Cell",
			SubtopicName: "General", BatchID: b.BatchID, CreatedAt: at, UpdatedAt: at,
		})
	}
	return b
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = uuid.NewString()
	}
	return out
}

func subjectCounter(t *testing.T, s *Store, subject string) int {
	t.Helper()
	c, err := s.Counters(context.Background(), "NEET")
	require.NoError(t, err)
	for _, sub := range c.Subjects {
		if sub.SubjectID == subject {
			return sub.TotalQuestions
		}
	}
	return 0
}

func TestIngestSampleAndDuplicates(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	subject := "bio-" + uuid.NewString()
	first := ids(6)

	require.NoError(t, s.Ingest(ctx, testBatch(subject, first...)))
	assert.Equal(t, 6, subjectCounter(t, s, subject))

	qs, err := s.Sample(ctx, store.SampleFilter{ExamType: "NEET", SubjectID: subject, QuestionType: models.QuestionTypeMCQ, Difficulty: models.DifficultyHard}, 5)
	require.NoError(t, err)
	assert.Len(t, qs, 2)

	err = s.Ingest(ctx, testBatch(subject, append(ids(1), first[0])...))
	var dup *models.DuplicateQuestionError
	require.ErrorAs(t, err, &dup)
	assert.Contains(t, dup.IDs, first[0])
	assert.Equal(t, 6, subjectCounter(t, s, subject))
}

func TestLocksAndClaims(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	subject := "bio-" + uuid.NewString()
	qids := ids(3)
	require.NoError(t, s.Ingest(ctx, testBatch(subject, qids...)))
	scope := store.Scope{ExamType: "NEET", SubjectID: subject, TopicName: "Cell"}

	res, err := s.LockIDs(ctx, "NEET", qids[:1])
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{Matched: 1, Modified: 1}, res)

	res, err = s.SetScopeLock(ctx, scope, true)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{Matched: 3, Modified: 2}, res)

	lc, err := s.CountLocks(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, models.LockCount{LockedCount: 3, TotalCount: 3}, lc)

	_, err = s.SetScopeLock(ctx, scope, false)
	require.NoError(t, err)
	claimed, err := s.ClaimIDs(ctx, "NEET", qids)
	require.NoError(t, err)
	assert.Equal(t, qids, claimed)
	claimed, err = s.ClaimIDs(ctx, "NEET", qids)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	released, err := s.ReleaseIDs(ctx, "NEET", qids[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, released)
}

func TestDailyCounts(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.Ingest(ctx, testBatch("bio-"+uuid.NewString(), ids(2)...)))

	daily, err := s.DailyCounts(ctx, "NEET", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, daily)
	assert.Len(t, daily[len(daily)-1].Date, len(time.DateOnly))
}
