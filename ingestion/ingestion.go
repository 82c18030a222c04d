package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"qbank-server/examtype"
	"qbank-server/models"
	"qbank-server/store"
)

// QuestionInput is one question as emitted by the extraction step.
type QuestionInput struct {
	ID            string            `json:"id,omitempty" yaml:"id"` // optional external id
	QuestionNo    models.QuestionNo `json:"question_no" yaml:"question_no"`
	Question      string            `json:"question" yaml:"question"`
	QuestionType  string            `json:"question_type" yaml:"question_type"`
	Difficulty    string            `json:"difficulty" yaml:"difficulty"`
	Options       *models.Options   `json:"options,omitempty" yaml:"options"`
	CorrectAnswer string            `json:"correct_answer" yaml:"correct_answer"`
	Subtopic      string            `json:"subtopic" yaml:"subtopic"`
}

// SolutionInput is matched to a question by QuestionNo.
type SolutionInput struct {
	QuestionNo models.QuestionNo `json:"question_no" yaml:"question_no"`
	Solution   string            `json:"solution" yaml:"solution"`
}

// AnswerKeyInput is matched to a question by QuestionNo.
type AnswerKeyInput struct {
	QuestionNo models.QuestionNo `json:"question_no" yaml:"question_no"`
	Answer     string            `json:"answer" yaml:"answer"`
}

// Request is one extraction batch for a single subject/topic.
type Request struct {
	ExamType    string           `json:"examType" yaml:"examType"`
	SubjectID   string           `json:"subjectId" yaml:"subjectId"`
	SubjectName string           `json:"subjectName" yaml:"subjectName"`
	TopicID     string           `json:"topicId" yaml:"topicId"`
	TopicName   string           `json:"topicName" yaml:"topicName"`
	Questions   []QuestionInput  `json:"questions" yaml:"questions"`
	Solutions   []SolutionInput  `json:"solutions" yaml:"solutions"`
	AnswerKey   []AnswerKeyInput `json:"answerKey" yaml:"answerKey"`
}

// Result reports a committed batch.
type Result struct {
	ExamType       string `json:"examType"`
	BatchID        string `json:"batchId"`
	Count          int    `json:"count"`
	SubtopicsCount int    `json:"subtopicsCount"`
}

// DefaultPolicy holds the values used when the extractor leaves a field out.
type DefaultPolicy struct {
	Subtopic     string
	QuestionType models.QuestionType
	Difficulty   models.Difficulty
	Locked       bool
}

// Defaults is the policy every pipeline starts with.
var Defaults = DefaultPolicy{
	Subtopic:     "General",
	QuestionType: models.QuestionTypeMCQ,
	Difficulty:   models.DifficultyMedium,
	Locked:       false,
}

// Pipeline validates extraction batches and commits them to the exam's store.
type Pipeline struct {
	stores   store.Provider
	log      *slog.Logger
	defaults DefaultPolicy
	now      func() time.Time
	newID    func() string
	onCommit []func(ctx context.Context, key examtype.Key)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDefaults replaces the default-value policy.
func WithDefaults(d DefaultPolicy) Option {
	return func(p *Pipeline) { p.defaults = d }
}

// OnCommit registers fn to run after every committed batch (cache invalidation).
func OnCommit(fn func(ctx context.Context, key examtype.Key)) Option {
	return func(p *Pipeline) { p.onCommit = append(p.onCommit, fn) }
}

// NewPipeline returns a Pipeline reading stores from provider.
func NewPipeline(provider store.Provider, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		stores:   provider,
		log:      logger,
		defaults: Defaults,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest validates req and applies it as one transaction. Duplicate question
// ids surface as *models.DuplicateQuestionError with nothing persisted.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	key, err := Validate(req)
	if err != nil {
		return Result{}, err
	}
	batch, err := Build(req, key, p.defaults, p.now(), p.newID)
	if err != nil {
		return Result{}, err
	}

	s, err := p.stores.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if err := s.Ingest(ctx, batch); err != nil {
		p.log.Error("ingestion failed",
			"exam", key, "subject", req.SubjectID, "topic", req.TopicID,
			"batch", batch.BatchID, "questions", len(batch.Questions), "error", err)
		return Result{}, err
	}

	p.log.Info("ingested batch",
		"exam", key, "subject", req.SubjectID, "topic", req.TopicID,
		"batch", batch.BatchID, "questions", len(batch.Questions), "subtopics", len(batch.Subtopics))
	for _, fn := range p.onCommit {
		fn(ctx, key)
	}
	return Result{
		ExamType:       string(key),
		BatchID:        batch.BatchID,
		Count:          len(batch.Questions),
		SubtopicsCount: len(batch.Subtopics),
	}, nil
}

// Validate checks the required fields and resolves the exam key.
func Validate(req Request) (examtype.Key, error) {
	switch {
	case strings.TrimSpace(req.SubjectID) == "":
		return "", models.Invalid("subjectId", "is required")
	case strings.TrimSpace(req.TopicID) == "":
		return "", models.Invalid("topicId", "is required")
	case len(req.Questions) == 0:
		return "", models.Invalid("questions", "must not be empty")
	}
	return examtype.Parse("examType", req.ExamType)
}

// Build turns a validated request into the batch a store applies. It does no I/O.
func Build(req Request, key examtype.Key, d DefaultPolicy, now time.Time, newID func() string) (store.IngestBatch, error) {
	subjectName := strings.TrimSpace(req.SubjectName)
	if subjectName == "" {
		subjectName = req.SubjectID
	}
	topicName := strings.TrimSpace(req.TopicName)
	if topicName == "" {
		topicName = req.TopicID
	}

	solutions := make(map[string]string, len(req.Solutions))
	for _, s := range req.Solutions {
		k := matchKey(s.QuestionNo)
		if _, ok := solutions[k]; !ok {
			solutions[k] = s.Solution
		}
	}
	answers := make(map[string]string, len(req.AnswerKey))
	for _, a := range req.AnswerKey {
		k := matchKey(a.QuestionNo)
		if _, ok := answers[k]; !ok {
			answers[k] = a.Answer
		}
	}

	b := store.IngestBatch{
		BatchID:     newID(),
		ExamType:    string(key),
		SubjectID:   req.SubjectID,
		SubjectName: subjectName,
		TopicID:     req.TopicID,
		TopicName:   topicName,
		Questions:   make([]models.Question, 0, len(req.Questions)),
		At:          now,
	}
	subtopicIdx := map[string]int{}
	for i, in := range req.Questions {
		qt := d.QuestionType
		if strings.TrimSpace(in.QuestionType) != "" {
			t, ok := models.ParseQuestionType(in.QuestionType)
			if !ok {
				return store.IngestBatch{}, models.Invalid(fmt.Sprintf("questions[%d].question_type", i), "unknown question type %q", in.QuestionType)
			}
			qt = t
		}
		diff := d.Difficulty
		if strings.TrimSpace(in.Difficulty) != "" {
			v, ok := models.ParseDifficulty(in.Difficulty)
			if !ok {
				return store.IngestBatch{}, models.Invalid(fmt.Sprintf("questions[%d].difficulty", i), "unknown difficulty %q", in.Difficulty)
			}
			diff = v
		}
		subtopic := strings.TrimSpace(in.Subtopic)
		if subtopic == "" {
			subtopic = d.Subtopic
		}
		id := strings.TrimSpace(in.ID)
		if id == "" {
			id = newID()
		}

		q := models.Question{
			ID:                  id,
			QuestionNo:          string(in.QuestionNo),
			QuestionType:        qt,
			Difficulty:          diff,
			QuestionDescription: in.Question,
			CorrectAnswer:       in.CorrectAnswer,
			Solution:            solutions[matchKey(in.QuestionNo)],
			AnswerKey:           answers[matchKey(in.QuestionNo)],
			Locked:              d.Locked,
			ExamType:            string(key),
			SubjectID:           req.SubjectID,
			SubjectName:         subjectName,
			TopicID:             req.TopicID,
			TopicName:           topicName,
			SubtopicName:        subtopic,
			BatchID:             b.BatchID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if qt == models.QuestionTypeMCQ && in.Options != nil {
			opts := *in.Options
			q.Options = &opts
		}
		b.Questions = append(b.Questions, q)

		if idx, ok := subtopicIdx[subtopic]; ok {
			b.Subtopics[idx].Count++
		} else {
			subtopicIdx[subtopic] = len(b.Subtopics)
			b.Subtopics = append(b.Subtopics, store.SubtopicDelta{Name: subtopic, Count: 1})
		}
	}
	return b, nil
}

// matchKey folds question numbers so "Q5", "q5" and "5" meet.
func matchKey(n models.QuestionNo) string {
	k := strings.ToUpper(strings.TrimSpace(string(n)))
	return strings.TrimPrefix(k, "Q")
}
