package stats

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"qbank-server/examtype"
	"qbank-server/models"
	"qbank-server/store"
)

// Aggregator serves Stats, through the cache when one is configured.
type Aggregator struct {
	stores store.Provider
	cache  Cache
	log    *slog.Logger
	now    func() time.Time
}

// NewAggregator returns an Aggregator. A nil cache disables caching.
func NewAggregator(provider store.Provider, cache Cache, logger *slog.Logger) *Aggregator {
	if cache == nil {
		cache = NopCache{}
	}
	return &Aggregator{stores: provider, cache: cache, log: logger, now: time.Now}
}

// Stats returns the dashboard statistics for one exam.
func (a *Aggregator) Stats(ctx context.Context, examType string) (Stats, error) {
	key, err := examtype.Parse("examType", examType)
	if err != nil {
		return Stats{}, err
	}
	if cached, ok := a.cache.Get(ctx, key); ok {
		return cached, nil
	}
	gen, cacheable := a.cache.Generation(ctx, key)
	st, err := a.stores.Get(ctx, key)
	if err != nil {
		return Stats{}, err
	}

	now := a.now()
	var (
		rows     []store.GroupCount
		counters store.Counters
		daily    []models.DailyCount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rows, err = st.GroupCounts(gctx, string(key))
		return err
	})
	g.Go(func() (err error) {
		counters, err = st.Counters(gctx, string(key))
		return err
	})
	g.Go(func() (err error) {
		daily, err = st.DailyCounts(gctx, string(key), Since(now))
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	out := Build(string(key), rows, counters, daily, now)
	if cacheable {
		a.cache.Set(ctx, key, gen, out)
	}
	return out, nil
}

// Invalidate drops the cached stats for key and fences off any computation
// already in flight. It matches the ingestion and lock change hooks.
func (a *Aggregator) Invalidate(ctx context.Context, key examtype.Key) {
	a.cache.Invalidate(ctx, key)
}
