package models

import (
	"math"
	"strings"
)

// QuestionType is the canonical question type stored on every question.
type QuestionType string

const (
	QuestionTypeMCQ     QuestionType = "MCQ"
	QuestionTypeInteger QuestionType = "Integer"
)

// QuestionTypes lists the canonical types in sampling order.
var QuestionTypes = []QuestionType{QuestionTypeMCQ, QuestionTypeInteger}

// Difficulty is the canonical difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Difficulties lists the tiers in split order: the remainder always goes to the last one.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

var questionTypeAliases = map[string]QuestionType{
	"mcq":            QuestionTypeMCQ,
	"single":         QuestionTypeMCQ,
	"single correct": QuestionTypeMCQ,
	"scq":            QuestionTypeMCQ,
	"integer":        QuestionTypeInteger,
	"int":            QuestionTypeInteger,
	"numerical":      QuestionTypeInteger,
	"numeric":        QuestionTypeInteger,
	"nat":            QuestionTypeInteger,
}

// ParseQuestionType maps a free-form type label to its canonical value.
func ParseQuestionType(s string) (QuestionType, bool) {
	t, ok := questionTypeAliases[strings.ToLower(strings.Join(strings.Fields(s), " "))]
	return t, ok
}

// ParseDifficulty maps a case-insensitive difficulty label to its canonical value.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return DifficultyEasy, true
	case "medium", "moderate":
		return DifficultyMedium, true
	case "hard", "difficult":
		return DifficultyHard, true
	}
	return "", false
}

// Weight returns the numeric score used for average-difficulty labels (Easy=1, Medium=2, Hard=3).
func (d Difficulty) Weight() int {
	switch d {
	case DifficultyEasy:
		return 1
	case DifficultyHard:
		return 3
	default:
		return 2
	}
}

// DifficultyFromAverage rounds a numeric average back to a label.
// Zero samples yield Medium.
func DifficultyFromAverage(sum, samples int) Difficulty {
	if samples <= 0 {
		return DifficultyMedium
	}
	switch int(math.Round(float64(sum) / float64(samples))) {
	case 1:
		return DifficultyEasy
	case 3:
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}
