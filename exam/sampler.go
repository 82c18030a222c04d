package exam

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"qbank-server/examtype"
	"qbank-server/models"
	"qbank-server/store"
)

// maxParallelCells caps concurrent sample queries per request.
const maxParallelCells = 8

// RandomRequest asks for per-subject type totals with no difficulty split.
type RandomRequest struct {
	ExamType          string                `json:"examType"`
	SubjectSelections map[string]TypeCounts `json:"subjectSelections"`
	LockPolicy        string                `json:"lockPolicy,omitempty"`
}

// DifficultyRequest additionally spreads every total across difficulty tiers.
type DifficultyRequest struct {
	ExamType              string                `json:"examType"`
	SubjectSelections     map[string]TypeCounts `json:"subjectSelections"`
	DifficultyPercentages *Percentages          `json:"difficultyPercentages"`
	LockPolicy            string                `json:"lockPolicy,omitempty"`
}

// Selection is the concatenated draw. Total is what was actually selected,
// which is below Requested when a cell under-fills.
type Selection struct {
	ExamType   string            `json:"examType"`
	Questions  []models.Question `json:"questions"`
	Total      int               `json:"total"`
	Requested  int               `json:"requested"`
	LockPolicy LockPolicy        `json:"lockPolicy"`
	Cells      []Cell            `json:"cells"`
}

// Sampler draws stratified random question sets.
type Sampler struct {
	stores           store.Provider
	log              *slog.Logger
	randomPolicy     LockPolicy
	difficultyPolicy LockPolicy
}

// NewSampler returns a Sampler with the given default lock policy per mode.
func NewSampler(provider store.Provider, logger *slog.Logger, randomPolicy, difficultyPolicy LockPolicy) *Sampler {
	if randomPolicy == "" {
		randomPolicy = ExcludeLocked
	}
	if difficultyPolicy == "" {
		difficultyPolicy = AnyLockState
	}
	return &Sampler{
		stores:           provider,
		log:              logger,
		randomPolicy:     randomPolicy,
		difficultyPolicy: difficultyPolicy,
	}
}

// SelectRandom draws each subject's MCQ and Integer totals from any difficulty.
// Locked questions are skipped unless the request asks for policy "any".
func (s *Sampler) SelectRandom(ctx context.Context, req RandomRequest) (Selection, error) {
	key, err := examtype.Parse("examType", req.ExamType)
	if err != nil {
		return Selection{}, err
	}
	policy, err := ParseLockPolicy(req.LockPolicy, s.randomPolicy)
	if err != nil {
		return Selection{}, err
	}
	cells, err := PlanRandom(req.SubjectSelections)
	if err != nil {
		return Selection{}, err
	}
	return s.draw(ctx, key, cells, policy)
}

// SelectByDifficulty draws each total split across Easy/Medium/Hard by the
// requested percentages. Lock state is ignored unless the request asks for
// policy "exclude_locked".
func (s *Sampler) SelectByDifficulty(ctx context.Context, req DifficultyRequest) (Selection, error) {
	key, err := examtype.Parse("examType", req.ExamType)
	if err != nil {
		return Selection{}, err
	}
	policy, err := ParseLockPolicy(req.LockPolicy, s.difficultyPolicy)
	if err != nil {
		return Selection{}, err
	}
	cells, err := PlanByDifficulty(req.SubjectSelections, req.DifficultyPercentages)
	if err != nil {
		return Selection{}, err
	}
	return s.draw(ctx, key, cells, policy)
}

// draw samples every cell independently and concatenates the results in cell order.
func (s *Sampler) draw(ctx context.Context, key examtype.Key, cells []Cell, policy LockPolicy) (Selection, error) {
	st, err := s.stores.Get(ctx, key)
	if err != nil {
		return Selection{}, err
	}

	results := make([][]models.Question, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCells)
	for i, c := range cells {
		g.Go(func() error {
			qs, err := st.Sample(gctx, store.SampleFilter{
				ExamType:     string(key),
				SubjectID:    c.SubjectID,
				QuestionType: c.QuestionType,
				Difficulty:   c.Difficulty,
				UnlockedOnly: policy == ExcludeLocked,
			}, c.Requested)
			if err != nil {
				return err
			}
			results[i] = qs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Selection{}, err
	}

	sel := Selection{ExamType: string(key), LockPolicy: policy, Cells: cells, Questions: []models.Question{}}
	for i := range cells {
		sel.Cells[i].Selected = len(results[i])
		sel.Requested += cells[i].Requested
		sel.Questions = append(sel.Questions, results[i]...)
	}
	sel.Total = len(sel.Questions)
	if sel.Total < sel.Requested {
		s.log.Info("selection under-filled", "exam", key, "requested", sel.Requested, "selected", sel.Total, "policy", policy)
	}
	return sel, nil
}
