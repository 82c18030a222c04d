package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbank-server/models"
	"qbank-server/store"
)

func batch(ids ...string) store.IngestBatch {
	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	b := store.IngestBatch{
		ExamType: "JEE", SubjectID: "phy", SubjectName: "Physics",
		TopicID: "kin", TopicName: "Kinematics",
		Subtopics: []store.SubtopicDelta{{Name: "General", Count: len(ids)}},
		At:        at,
	}
	for _, id := range ids {
		b.Questions = append(b.Questions, models.Question{
			ID: id, ExamType: "JEE", SubjectID: "phy", SubjectName: "Physics",
			TopicID: "kin", TopicName: "Kinematics", SubtopicName: "General",
			QuestionType: models.QuestionTypeMCQ, Difficulty: models.DifficultyEasy,
			CreatedAt: at, UpdatedAt: at,
		})
	}
	return b
}

func TestIngestDuplicateLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Ingest(ctx, batch("a", "b")))

	err := s.Ingest(ctx, batch("c", "a", "d", "d"))
	var dup *models.DuplicateQuestionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"a", "d"}, dup.IDs)

	c, err := s.Counters(ctx, "JEE")
	require.NoError(t, err)
	require.Len(t, c.Subjects, 1)
	assert.Equal(t, 2, c.Subjects[0].TotalQuestions)
	assert.Len(t, s.questions, 2)
}

func TestIngestHookFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")
	calls := 0
	s := New(WithInsertHook(func(q models.Question) error {
		calls++
		if q.ID == "q3" {
			return boom
		}
		return nil
	}))
	err := s.Ingest(ctx, batch("q1", "q2", "q3", "q4"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)

	c, err := s.Counters(ctx, "JEE")
	require.NoError(t, err)
	assert.Empty(t, c.Subjects)
	assert.Empty(t, c.Topics)
	assert.Empty(t, c.Subtopics)
}

func TestSampleWithoutReplacement(t *testing.T) {
	ctx := context.Background()
	s := New()
	var ids []string
	for i := range 20 {
		ids = append(ids, fmt.Sprintf("q%02d", i))
	}
	require.NoError(t, s.Ingest(ctx, batch(ids...)))

	f := store.SampleFilter{ExamType: "JEE", SubjectID: "phy", QuestionType: models.QuestionTypeMCQ, Difficulty: models.DifficultyEasy}
	got, err := s.Sample(ctx, f, 8)
	require.NoError(t, err)
	require.Len(t, got, 8)
	seen := map[string]bool{}
	for _, q := range got {
		assert.False(t, seen[q.ID], "repeated %s", q.ID)
		seen[q.ID] = true
	}

	got, err = s.Sample(ctx, f, 50)
	require.NoError(t, err)
	assert.Len(t, got, 20)

	f.Difficulty = models.DifficultyHard
	got, err = s.Sample(ctx, f, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocks(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Ingest(ctx, batch("a", "b", "c")))
	scope := store.Scope{ExamType: "JEE", SubjectID: "phy", TopicName: "Kinematics"}

	res, err := s.LockIDs(ctx, "JEE", []string{"a", "a", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{Matched: 1, Modified: 1}, res)

	res, err = s.SetScopeLock(ctx, scope, true)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateResult{Matched: 3, Modified: 2}, res)

	lc, err := s.CountLocks(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, models.LockCount{LockedCount: 3, TotalCount: 3, UnlockedCount: 0}, lc)

	_, err = s.SetScopeLock(ctx, scope, false)
	require.NoError(t, err)
	claimed, err := s.ClaimIDs(ctx, "JEE", []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, claimed)
	claimed, err = s.ClaimIDs(ctx, "JEE", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, claimed)

	released, err := s.ReleaseIDs(ctx, "JEE", []string{"a", "b", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, 2, released)
	lc, err = s.CountLocks(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, lc.LockedCount)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Ingest(ctx, batch("a")))
	require.NoError(t, s.Close(ctx))
	assert.ErrorIs(t, s.Ping(ctx), ErrClosed)
	s.Reopen()
	lc, err := s.CountLocks(ctx, store.Scope{ExamType: "JEE", SubjectID: "phy", TopicName: "Kinematics"})
	require.NoError(t, err)
	assert.Equal(t, 1, lc.TotalCount)
}
