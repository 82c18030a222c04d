package exam

import (
	"fmt"
	"sort"
	"strings"

	"qbank-server/models"
)

// MaxQuestions caps the questions one selection may request, per type and in
// total. It keeps the percentage arithmetic far from int overflow.
const MaxQuestions = 10_000

// TypeCounts is the per-subject target for each question type.
type TypeCounts struct {
	MCQ     int `json:"mcq"`
	Integer int `json:"integer"`
}

func (t TypeCounts) of(qt models.QuestionType) int {
	if qt == models.QuestionTypeInteger {
		return t.Integer
	}
	return t.MCQ
}

// Percentages is the global difficulty mix. It must sum to 100.
type Percentages struct {
	Easy   int `json:"easy"`
	Medium int `json:"medium"`
	Hard   int `json:"hard"`
}

// Split divides total across difficulties. Easy and Medium are floored in that
// order and Hard takes the remainder, so the parts always add up to total.
func (p Percentages) Split(total int) map[models.Difficulty]int {
	easy := p.Easy * total / 100
	medium := p.Medium * total / 100
	return map[models.Difficulty]int{
		models.DifficultyEasy:   easy,
		models.DifficultyMedium: medium,
		models.DifficultyHard:   total - easy - medium,
	}
}

func (p *Percentages) validate() error {
	if p == nil {
		return models.Invalid("difficultyPercentages", "is required")
	}
	for name, v := range map[string]int{"easy": p.Easy, "medium": p.Medium, "hard": p.Hard} {
		if v < 0 || v > 100 {
			return models.Invalid("difficultyPercentages."+name, "must be between 0 and 100, got %d", v)
		}
	}
	if sum := p.Easy + p.Medium + p.Hard; sum != 100 {
		return models.Invalid("difficultyPercentages", "must sum to 100, got %d", sum)
	}
	return nil
}

// LockPolicy decides whether a draw may return locked questions.
type LockPolicy string

const (
	ExcludeLocked LockPolicy = "exclude_locked"
	AnyLockState  LockPolicy = "any"
)

// ParseLockPolicy accepts the two policy names; empty yields fallback.
func ParseLockPolicy(s string, fallback LockPolicy) (LockPolicy, error) {
	switch LockPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return fallback, nil
	case ExcludeLocked:
		return ExcludeLocked, nil
	case AnyLockState:
		return AnyLockState, nil
	}
	return "", models.Invalid("lockPolicy", "must be %q or %q, got %q", ExcludeLocked, AnyLockState, s)
}

// Cell is one independently sampled (subject, type, difficulty) bucket.
// An empty Difficulty means the cell spans every tier.
type Cell struct {
	SubjectID    string              `json:"subjectId"`
	QuestionType models.QuestionType `json:"questionType"`
	Difficulty   models.Difficulty   `json:"difficulty,omitempty"`
	Requested    int                 `json:"requested"`
	Selected     int                 `json:"selected"`
}

// subjectIDs validates the selections and returns their keys sorted.
func subjectIDs(sel map[string]TypeCounts) ([]string, error) {
	if len(sel) == 0 {
		return nil, models.Invalid("subjectSelections", "must name at least one subject")
	}
	ids := make([]string, 0, len(sel))
	total := 0
	for id, tc := range sel {
		if strings.TrimSpace(id) == "" {
			return nil, models.Invalid("subjectSelections", "subject id must not be empty")
		}
		if tc.MCQ < 0 || tc.Integer < 0 {
			return nil, models.Invalid(fmt.Sprintf("subjectSelections.%s", id), "counts must not be negative")
		}
		if tc.MCQ > MaxQuestions || tc.Integer > MaxQuestions {
			return nil, models.Invalid(fmt.Sprintf("subjectSelections.%s", id), "counts must not exceed %d", MaxQuestions)
		}
		total += tc.MCQ + tc.Integer
		if total > MaxQuestions {
			return nil, models.Invalid("subjectSelections", "must not request more than %d questions in total", MaxQuestions)
		}
		ids = append(ids, id)
	}
	if total == 0 {
		return nil, models.Invalid("subjectSelections", "must request at least one question")
	}
	sort.Strings(ids)
	return ids, nil
}

// PlanRandom lays out one cell per non-zero (subject, type), spanning all difficulties.
func PlanRandom(sel map[string]TypeCounts) ([]Cell, error) {
	ids, err := subjectIDs(sel)
	if err != nil {
		return nil, err
	}
	var cells []Cell
	for _, id := range ids {
		for _, qt := range models.QuestionTypes {
			if n := sel[id].of(qt); n > 0 {
				cells = append(cells, Cell{SubjectID: id, QuestionType: qt, Requested: n})
			}
		}
	}
	return cells, nil
}

// PlanByDifficulty lays out one cell per non-zero (subject, type, difficulty).
func PlanByDifficulty(sel map[string]TypeCounts, pct *Percentages) ([]Cell, error) {
	ids, err := subjectIDs(sel)
	if err != nil {
		return nil, err
	}
	if err := pct.validate(); err != nil {
		return nil, err
	}
	var cells []Cell
	for _, id := range ids {
		for _, qt := range models.QuestionTypes {
			n := sel[id].of(qt)
			if n == 0 {
				continue
			}
			split := pct.Split(n)
			for _, d := range models.Difficulties {
				if split[d] > 0 {
					cells = append(cells, Cell{SubjectID: id, QuestionType: qt, Difficulty: d, Requested: split[d]})
				}
			}
		}
	}
	return cells, nil
}
