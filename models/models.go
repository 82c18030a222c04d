package models

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Subject struct represents a per-exam subject counter record.
type Subject struct {
	SubjectID      string    `json:"subjectId" bson:"subjectId"`
	Name           string    `json:"name" bson:"name"`
	ExamType       string    `json:"examType" bson:"examType"`
	TotalQuestions int       `json:"totalQuestions" bson:"totalQuestions"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Topic struct represents a topic counter record. Subject fields are denormalized.
type Topic struct {
	TopicID        string    `json:"topicId" bson:"topicId"`
	Name           string    `json:"name" bson:"name"`
	SubjectID      string    `json:"subjectId" bson:"subjectId"`
	SubjectName    string    `json:"subjectName" bson:"subjectName"`
	ExamType       string    `json:"examType" bson:"examType"`
	TotalQuestions int       `json:"totalQuestions" bson:"totalQuestions"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Subtopic struct represents a subtopic counter record.
type Subtopic struct {
	Name           string    `json:"name" bson:"name"`
	TopicID        string    `json:"topicId" bson:"topicId"`
	TopicName      string    `json:"topicName" bson:"topicName"`
	SubjectID      string    `json:"subjectId" bson:"subjectId"`
	ExamType       string    `json:"examType" bson:"examType"`
	TotalQuestions int       `json:"totalQuestions" bson:"totalQuestions"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Options holds the four MCQ choices.
type Options struct {
	A string `json:"A" bson:"A" yaml:"A"`
	B string `json:"B" bson:"B" yaml:"B"`
	C string `json:"C" bson:"C" yaml:"C"`
	D string `json:"D" bson:"D" yaml:"D"`
}

// Question struct represents a stored question document.
type Question struct {
	ID                  string       `json:"id" bson:"_id"`
	QuestionNo          string       `json:"questionNo" bson:"questionNo"`
	QuestionType        QuestionType `json:"questionType" bson:"questionType"`
	Difficulty          Difficulty   `json:"difficulty" bson:"difficulty"`
	QuestionDescription string       `json:"questionDescription" bson:"questionDescription"`
	Options             *Options     `json:"options,omitempty" bson:"options,omitempty"` // MCQ only
	CorrectAnswer       string       `json:"correctAnswer" bson:"correctAnswer"`
	Solution            string       `json:"solution" bson:"solution"`
	AnswerKey           string       `json:"answerKey" bson:"answerKey"`
	Locked              bool         `json:"locked" bson:"locked"`
	ExamType            string       `json:"examType" bson:"examType"`
	SubjectID           string       `json:"subjectId" bson:"subjectId"`
	SubjectName         string       `json:"subjectName" bson:"subjectName"`
	TopicID             string       `json:"topicId" bson:"topicId"`
	TopicName           string       `json:"topicName" bson:"topicName"`
	SubtopicName        string       `json:"subtopicName" bson:"subtopicName"`
	BatchID             string       `json:"batchId" bson:"batchId"`
	CreatedAt           time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// QuestionNo is the extraction-side question number. The extractor emits it
// either as a number or as a string, so both forms decode into the same value.
type QuestionNo string

// UnmarshalJSON accepts `12`, `"12"` and `"Q12"` alike.
func (n *QuestionNo) UnmarshalJSON(b []byte) error {
	*n = QuestionNo(strings.TrimSpace(strings.Trim(string(b), `"`)))
	if *n == "null" {
		*n = ""
	}
	return nil
}

// UnmarshalYAML accepts any scalar.
func (n *QuestionNo) UnmarshalYAML(value *yaml.Node) error {
	*n = QuestionNo(strings.TrimSpace(value.Value))
	return nil
}

// LockCount is the lock state of one subject/topic scope.
type LockCount struct {
	LockedCount   int `json:"lockedCount"`
	TotalCount    int `json:"totalCount"`
	UnlockedCount int `json:"unlockedCount"`
}

// UpdateResult reports a bulk lock update.
type UpdateResult struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
}

// DailyCount is one day of ingestion activity (date formatted 2006-01-02, UTC).
type DailyCount struct {
	Date  string `json:"date" bson:"_id"`
	Count int    `json:"count" bson:"count"`
}
