package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qbank-server/models"
)

// Classify maps an error escaping a store call onto the error taxonomy.
// Errors already in the taxonomy pass through untouched; deadline and
// cancellation failures become *models.TransientError.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		v *models.ValidationError
		c *models.ConfigurationError
		d *models.DuplicateQuestionError
		t *models.TransientError
	)
	switch {
	case errors.As(err, &v), errors.As(err, &c), errors.As(err, &d), errors.As(err, &t):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &models.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// WithTimeout bounds every call on s by d. Zero or negative d leaves calls unbounded.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, d: d}
}

// Unwrap returns the store beneath a WithTimeout decorator.
func Unwrap(s Store) Store {
	if t, ok := s.(*timeoutStore); ok {
		return t.next
	}
	return s
}

type timeoutStore struct {
	next Store
	d    time.Duration
}

func (t *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.d)
}

func (t *timeoutStore) Driver() string { return t.next.Driver() }

func (t *timeoutStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return Classify("ensure schema", t.next.EnsureSchema(ctx))
}

func (t *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return Classify("ping", t.next.Ping(ctx))
}

func (t *timeoutStore) Close(ctx context.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Close(ctx)
}

func (t *timeoutStore) Ingest(ctx context.Context, b IngestBatch) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return Classify("ingest", t.next.Ingest(ctx, b))
}

func (t *timeoutStore) Sample(ctx context.Context, f SampleFilter, n int) ([]models.Question, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	qs, err := t.next.Sample(ctx, f, n)
	return qs, Classify("sample", err)
}

func (t *timeoutStore) CountLocks(ctx context.Context, s Scope) (models.LockCount, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	lc, err := t.next.CountLocks(ctx, s)
	return lc, Classify("count locks", err)
}

func (t *timeoutStore) SetScopeLock(ctx context.Context, s Scope, locked bool) (models.UpdateResult, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	res, err := t.next.SetScopeLock(ctx, s, locked)
	return res, Classify("lock scope", err)
}

func (t *timeoutStore) LockIDs(ctx context.Context, examType string, ids []string) (models.UpdateResult, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	res, err := t.next.LockIDs(ctx, examType, ids)
	return res, Classify("lock ids", err)
}

func (t *timeoutStore) ClaimIDs(ctx context.Context, examType string, ids []string) ([]string, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	claimed, err := t.next.ClaimIDs(ctx, examType, ids)
	return claimed, Classify("claim ids", err)
}

func (t *timeoutStore) ReleaseIDs(ctx context.Context, examType string, ids []string) (int, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	n, err := t.next.ReleaseIDs(ctx, examType, ids)
	return n, Classify("release ids", err)
}

func (t *timeoutStore) GroupCounts(ctx context.Context, examType string) ([]GroupCount, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	rows, err := t.next.GroupCounts(ctx, examType)
	return rows, Classify("group counts", err)
}

func (t *timeoutStore) DailyCounts(ctx context.Context, examType string, since time.Time) ([]models.DailyCount, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	rows, err := t.next.DailyCounts(ctx, examType, since)
	return rows, Classify("daily counts", err)
}

func (t *timeoutStore) Counters(ctx context.Context, examType string) (Counters, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	c, err := t.next.Counters(ctx, examType)
	return c, Classify("counters", err)
}
