package exam

import (
	"context"
	"log/slog"

	"qbank-server/examtype"
	"qbank-server/models"
)

// AssembleRequest draws a paper and reserves its questions. With
// DifficultyPercentages set the draw is difficulty-aware.
type AssembleRequest struct {
	ExamType              string                `json:"examType"`
	SubjectSelections     map[string]TypeCounts `json:"subjectSelections"`
	DifficultyPercentages *Percentages          `json:"difficultyPercentages,omitempty"`
}

// Paper is a selection whose questions were claimed. Conflicts lists ids
// another request locked between the draw and the claim; they are not part of
// Questions and are not replaced.
type Paper struct {
	Selection
	Claimed   int      `json:"claimed"`
	Conflicts []string `json:"conflicts"`
}

// Assembler runs select-then-claim. The draw and the claim are two store calls,
// so concurrent assemblies can draw the same question; the claim decides who
// keeps it.
type Assembler struct {
	sampler *Sampler
	locker  *Locker
	log     *slog.Logger
}

// NewAssembler wires an Assembler over a Sampler and a Locker.
func NewAssembler(sampler *Sampler, locker *Locker, logger *slog.Logger) *Assembler {
	return &Assembler{sampler: sampler, locker: locker, log: logger}
}

// Assemble draws unlocked questions and claims them.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (Paper, error) {
	var (
		sel Selection
		err error
	)
	if req.DifficultyPercentages != nil {
		sel, err = a.sampler.SelectByDifficulty(ctx, DifficultyRequest{
			ExamType:              req.ExamType,
			SubjectSelections:     req.SubjectSelections,
			DifficultyPercentages: req.DifficultyPercentages,
			LockPolicy:            string(ExcludeLocked),
		})
	} else {
		sel, err = a.sampler.SelectRandom(ctx, RandomRequest{
			ExamType:          req.ExamType,
			SubjectSelections: req.SubjectSelections,
			LockPolicy:        string(ExcludeLocked),
		})
	}
	if err != nil {
		return Paper{}, err
	}

	ids := make([]string, len(sel.Questions))
	for i, q := range sel.Questions {
		ids[i] = q.ID
	}
	key := examtype.Key(sel.ExamType)
	claimed, err := a.locker.Claim(ctx, key, ids)
	if err != nil {
		return Paper{}, err
	}

	won := make(map[string]bool, len(claimed))
	for _, id := range claimed {
		won[id] = true
	}
	paper := Paper{Conflicts: []string{}}
	kept := make([]models.Question, 0, len(claimed))
	for _, q := range sel.Questions {
		if !won[q.ID] {
			paper.Conflicts = append(paper.Conflicts, q.ID)
			continue
		}
		q.Locked = true
		kept = append(kept, q)
	}
	paper.Selection = sel
	paper.Questions = kept
	paper.Total = len(kept)
	paper.Cells = recount(sel.Cells, kept)
	paper.Claimed = len(claimed)
	if len(paper.Conflicts) > 0 {
		a.log.Warn("paper lost questions to a concurrent claim", "exam", key, "conflicts", len(paper.Conflicts))
	}
	return paper, nil
}

// recount recomputes Selected per cell from the questions a paper kept.
func recount(cells []Cell, kept []models.Question) []Cell {
	out := make([]Cell, len(cells))
	copy(out, cells)
	for i := range out {
		out[i].Selected = 0
	}
	for _, q := range kept {
		for i, c := range out {
			if c.SubjectID == q.SubjectID && c.QuestionType == q.QuestionType && (c.Difficulty == "" || c.Difficulty == q.Difficulty) {
				out[i].Selected++
				break
			}
		}
	}
	return out
}
