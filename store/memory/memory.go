// Package memory is a process-local store backend used for tests and local
// development. It keeps the same atomicity contract as the database backends.
package memory

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"qbank-server/models"
	"qbank-server/store"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("memory store closed")

type subjectKey struct{ examType, subjectID string }
type topicKey struct{ examType, subjectID, topicID string }
type subtopicKey struct{ examType, subjectID, topicID, name string }

// Option configures a Store.
type Option func(*Store)

// WithInsertHook runs fn for every question right before it is staged. A
// non-nil error aborts the whole batch.
func WithInsertHook(fn func(models.Question) error) Option {
	return func(s *Store) { s.insertHook = fn }
}

// Store keeps everything in maps guarded by one RWMutex.
type Store struct {
	mu         sync.RWMutex
	closed     bool
	subjects   map[subjectKey]models.Subject
	topics     map[topicKey]models.Topic
	subtopics  map[subtopicKey]models.Subtopic
	questions  map[string]*models.Question
	order      []string
	insertHook func(models.Question) error
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		subjects:  make(map[subjectKey]models.Subject),
		topics:    make(map[topicKey]models.Topic),
		subtopics: make(map[subtopicKey]models.Subtopic),
		questions: make(map[string]*models.Question),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) Driver() string { return "memory" }

func (s *Store) EnsureSchema(ctx context.Context) error { return s.Ping(ctx) }

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store unusable. The data survives so a reopened handle
// (see Reopen) sees it again.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Reopen clears the closed flag.
func (s *Store) Reopen() {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
}

func (s *Store) Ingest(ctx context.Context, b store.IngestBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// Stage every change first; nothing touches the maps until the batch is known good.
	n := len(b.Questions)
	sk := subjectKey{b.ExamType, b.SubjectID}
	subj, ok := s.subjects[sk]
	if !ok {
		subj = models.Subject{SubjectID: b.SubjectID, ExamType: b.ExamType, CreatedAt: b.At}
	}
	subj.Name = b.SubjectName
	subj.TotalQuestions += n
	subj.UpdatedAt = b.At

	tk := topicKey{b.ExamType, b.SubjectID, b.TopicID}
	topic, ok := s.topics[tk]
	if !ok {
		topic = models.Topic{TopicID: b.TopicID, SubjectID: b.SubjectID, ExamType: b.ExamType, CreatedAt: b.At}
	}
	topic.Name = b.TopicName
	topic.SubjectName = b.SubjectName
	topic.TotalQuestions += n
	topic.UpdatedAt = b.At

	stagedSubtopics := make(map[subtopicKey]models.Subtopic, len(b.Subtopics))
	for _, d := range b.Subtopics {
		k := subtopicKey{b.ExamType, b.SubjectID, b.TopicID, d.Name}
		st, ok := stagedSubtopics[k]
		if !ok {
			st, ok = s.subtopics[k]
			if !ok {
				st = models.Subtopic{Name: d.Name, TopicID: b.TopicID, SubjectID: b.SubjectID, ExamType: b.ExamType, CreatedAt: b.At}
			}
		}
		st.TopicName = b.TopicName
		st.TotalQuestions += d.Count
		st.UpdatedAt = b.At
		stagedSubtopics[k] = st
	}

	var dups []string
	seen := make(map[string]bool, n)
	staged := make([]*models.Question, 0, n)
	for _, q := range b.Questions {
		if _, exists := s.questions[q.ID]; exists || seen[q.ID] {
			dups = append(dups, q.ID)
			continue
		}
		seen[q.ID] = true
		if s.insertHook != nil {
			if err := s.insertHook(q); err != nil {
				return err
			}
		}
		cp := copyQuestion(&q)
		staged = append(staged, cp)
	}
	if len(dups) > 0 {
		return &models.DuplicateQuestionError{IDs: dups}
	}

	s.subjects[sk] = subj
	s.topics[tk] = topic
	for k, st := range stagedSubtopics {
		s.subtopics[k] = st
	}
	for _, q := range staged {
		s.questions[q.ID] = q
		s.order = append(s.order, q.ID)
	}
	return nil
}

func (s *Store) Sample(ctx context.Context, f store.SampleFilter, n int) ([]models.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	var pool []*models.Question
	for _, id := range s.order {
		q := s.questions[id]
		if q.ExamType != f.ExamType || q.SubjectID != f.SubjectID || q.QuestionType != f.QuestionType {
			continue
		}
		if f.Difficulty != "" && q.Difficulty != f.Difficulty {
			continue
		}
		if f.UnlockedOnly && q.Locked {
			continue
		}
		pool = append(pool, q)
	}
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]models.Question, 0, n)
	for _, q := range pool[:n] {
		out = append(out, *copyQuestion(q))
	}
	return out, nil
}

func (s *Store) inScope(q *models.Question, sc store.Scope) bool {
	return q.ExamType == sc.ExamType && q.SubjectID == sc.SubjectID && q.TopicName == sc.TopicName
}

func (s *Store) CountLocks(ctx context.Context, sc store.Scope) (models.LockCount, error) {
	var lc models.LockCount
	if err := ctx.Err(); err != nil {
		return lc, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return lc, ErrClosed
	}
	for _, q := range s.questions {
		if !s.inScope(q, sc) {
			continue
		}
		lc.TotalCount++
		if q.Locked {
			lc.LockedCount++
		}
	}
	lc.UnlockedCount = lc.TotalCount - lc.LockedCount
	return lc, nil
}

func (s *Store) SetScopeLock(ctx context.Context, sc store.Scope, locked bool) (models.UpdateResult, error) {
	var res models.UpdateResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, ErrClosed
	}
	now := time.Now().UTC()
	for _, q := range s.questions {
		if !s.inScope(q, sc) {
			continue
		}
		res.Matched++
		if q.Locked != locked {
			q.Locked = locked
			q.UpdatedAt = now
			res.Modified++
		}
	}
	return res, nil
}

func (s *Store) LockIDs(ctx context.Context, examType string, ids []string) (models.UpdateResult, error) {
	var res models.UpdateResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, ErrClosed
	}
	now := time.Now().UTC()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		q, ok := s.questions[id]
		if !ok || q.ExamType != examType {
			continue
		}
		res.Matched++
		if !q.Locked {
			q.Locked = true
			q.UpdatedAt = now
			res.Modified++
		}
	}
	return res, nil
}

func (s *Store) ClaimIDs(ctx context.Context, examType string, ids []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := time.Now().UTC()
	var claimed []string
	for _, id := range ids {
		q, ok := s.questions[id]
		if !ok || q.ExamType != examType || q.Locked {
			continue
		}
		q.Locked = true
		q.UpdatedAt = now
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (s *Store) ReleaseIDs(ctx context.Context, examType string, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	now := time.Now().UTC()
	released := 0
	for _, id := range ids {
		q, ok := s.questions[id]
		if !ok || q.ExamType != examType || !q.Locked {
			continue
		}
		q.Locked = false
		q.UpdatedAt = now
		released++
	}
	return released, nil
}

func (s *Store) GroupCounts(ctx context.Context, examType string) ([]store.GroupCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	type key struct {
		subjectID, subjectName, topicID, topicName string
		qt                                         models.QuestionType
		d                                          models.Difficulty
		locked                                     bool
	}
	counts := map[key]int{}
	var keys []key
	for _, id := range s.order {
		q := s.questions[id]
		if q.ExamType != examType {
			continue
		}
		k := key{q.SubjectID, q.SubjectName, q.TopicID, q.TopicName, q.QuestionType, q.Difficulty, q.Locked}
		if _, ok := counts[k]; !ok {
			keys = append(keys, k)
		}
		counts[k]++
	}
	out := make([]store.GroupCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, store.GroupCount{
			SubjectID: k.subjectID, SubjectName: k.subjectName,
			TopicID: k.topicID, TopicName: k.topicName,
			QuestionType: k.qt, Difficulty: k.d, Locked: k.locked,
			Count: counts[k],
		})
	}
	return out, nil
}

func (s *Store) DailyCounts(ctx context.Context, examType string, since time.Time) ([]models.DailyCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	byDay := map[string]int{}
	for _, q := range s.questions {
		if q.ExamType != examType || q.CreatedAt.Before(since) {
			continue
		}
		byDay[q.CreatedAt.UTC().Format(time.DateOnly)]++
	}
	out := make([]models.DailyCount, 0, len(byDay))
	for d, c := range byDay {
		out = append(out, models.DailyCount{Date: d, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) Counters(ctx context.Context, examType string) (store.Counters, error) {
	var c store.Counters
	if err := ctx.Err(); err != nil {
		return c, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return c, ErrClosed
	}
	for k, v := range s.subjects {
		if k.examType == examType {
			c.Subjects = append(c.Subjects, v)
		}
	}
	for k, v := range s.topics {
		if k.examType == examType {
			c.Topics = append(c.Topics, v)
		}
	}
	for k, v := range s.subtopics {
		if k.examType == examType {
			c.Subtopics = append(c.Subtopics, v)
		}
	}
	sort.Slice(c.Subjects, func(i, j int) bool { return c.Subjects[i].SubjectID < c.Subjects[j].SubjectID })
	sort.Slice(c.Topics, func(i, j int) bool {
		if c.Topics[i].SubjectID != c.Topics[j].SubjectID {
			return c.Topics[i].SubjectID < c.Topics[j].SubjectID
		}
		return c.Topics[i].TopicID < c.Topics[j].TopicID
	})
	sort.Slice(c.Subtopics, func(i, j int) bool {
		a, b := c.Subtopics[i], c.Subtopics[j]
		if a.TopicID != b.TopicID {
			return a.TopicID < b.TopicID
		}
		return a.Name < b.Name
	})
	return c, nil
}

func copyQuestion(q *models.Question) *models.Question {
	cp := *q
	if q.Options != nil {
		opts := *q.Options
		cp.Options = &opts
	}
	return &cp
}
