package exam

import (
	"context"
	"log/slog"
	"strings"

	"qbank-server/examtype"
	"qbank-server/models"
	"qbank-server/store"
)

// ScopeRequest addresses every question of one topic. Lock is required for updates.
type ScopeRequest struct {
	ExamType  string `json:"examType" form:"examType"`
	SubjectID string `json:"subjectId" form:"subjectId"`
	TopicName string `json:"topicName" form:"topicName"`
	Lock      *bool  `json:"lock,omitempty"`
}

// LockSetRequest locks exactly the listed questions.
type LockSetRequest struct {
	ExamType string   `json:"examType"`
	IDs      []string `json:"ids"`
}

// Locker manages the locked marker on questions.
type Locker struct {
	stores   store.Provider
	log      *slog.Logger
	onChange []func(ctx context.Context, key examtype.Key)
}

// NewLocker returns a Locker. onChange runs after every update that modified something.
func NewLocker(provider store.Provider, logger *slog.Logger, onChange ...func(ctx context.Context, key examtype.Key)) *Locker {
	return &Locker{stores: provider, log: logger, onChange: onChange}
}

func (r ScopeRequest) resolve() (examtype.Key, store.Scope, error) {
	key, err := examtype.Parse("examType", r.ExamType)
	if err != nil {
		return "", store.Scope{}, err
	}
	if strings.TrimSpace(r.SubjectID) == "" {
		return "", store.Scope{}, models.Invalid("subjectId", "is required")
	}
	if strings.TrimSpace(r.TopicName) == "" {
		return "", store.Scope{}, models.Invalid("topicName", "is required")
	}
	return key, store.Scope{ExamType: string(key), SubjectID: r.SubjectID, TopicName: r.TopicName}, nil
}

// Count reports locked, unlocked and total questions in the scope.
func (l *Locker) Count(ctx context.Context, req ScopeRequest) (models.LockCount, error) {
	key, scope, err := req.resolve()
	if err != nil {
		return models.LockCount{}, err
	}
	st, err := l.stores.Get(ctx, key)
	if err != nil {
		return models.LockCount{}, err
	}
	return st.CountLocks(ctx, scope)
}

// UpdateScope sets locked on every question in the scope in one bulk update.
func (l *Locker) UpdateScope(ctx context.Context, req ScopeRequest) (models.UpdateResult, error) {
	key, scope, err := req.resolve()
	if err != nil {
		return models.UpdateResult{}, err
	}
	if req.Lock == nil {
		return models.UpdateResult{}, models.Invalid("lock", "is required")
	}
	st, err := l.stores.Get(ctx, key)
	if err != nil {
		return models.UpdateResult{}, err
	}
	res, err := st.SetScopeLock(ctx, scope, *req.Lock)
	if err != nil {
		return models.UpdateResult{}, err
	}
	l.log.Info("scope lock updated", "exam", key, "subject", scope.SubjectID, "topic", scope.TopicName,
		"lock", *req.Lock, "matched", res.Matched, "modified", res.Modified)
	l.changed(ctx, key, res.Modified)
	return res, nil
}

// LockSet locks exactly the given question ids, typically right after a paper is drawn.
func (l *Locker) LockSet(ctx context.Context, req LockSetRequest) (models.UpdateResult, error) {
	key, err := examtype.Parse("examType", req.ExamType)
	if err != nil {
		return models.UpdateResult{}, err
	}
	ids, err := cleanIDs(req.IDs)
	if err != nil {
		return models.UpdateResult{}, err
	}
	st, err := l.stores.Get(ctx, key)
	if err != nil {
		return models.UpdateResult{}, err
	}
	res, err := st.LockIDs(ctx, string(key), ids)
	if err != nil {
		return models.UpdateResult{}, err
	}
	l.log.Info("question set locked", "exam", key, "ids", len(ids), "matched", res.Matched, "modified", res.Modified)
	l.changed(ctx, key, res.Modified)
	return res, nil
}

// Claim conditionally locks ids that are still unlocked and returns those it won.
// When the store fails it releases whatever it reports as claimed, so a failed
// claim never leaves questions locked that no paper owns.
func (l *Locker) Claim(ctx context.Context, key examtype.Key, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	st, err := l.stores.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	claimed, err := st.ClaimIDs(ctx, string(key), ids)
	if err != nil {
		if len(claimed) > 0 {
			l.release(ctx, key, st, claimed)
		}
		return nil, err
	}
	l.changed(ctx, key, len(claimed))
	return claimed, nil
}

func (l *Locker) release(ctx context.Context, key examtype.Key, st store.Store, ids []string) {
	// The caller's context may be the reason the claim failed.
	n, err := st.ReleaseIDs(context.WithoutCancel(ctx), string(key), ids)
	if err != nil {
		l.log.Error("failed to release partially claimed questions", "exam", key, "ids", ids, "error", err)
		return
	}
	l.log.Warn("released partially claimed questions", "exam", key, "released", n)
}

func (l *Locker) changed(ctx context.Context, key examtype.Key, modified int) {
	if modified == 0 {
		return
	}
	for _, fn := range l.onChange {
		fn(ctx, key)
	}
}

func cleanIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, models.Invalid("ids", "must not be empty")
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, models.Invalid("ids", "entry %d is empty", i)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
