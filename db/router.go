package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"qbank-server/config"
	"qbank-server/examtype"
	"qbank-server/models"
	"qbank-server/store"
)

// Router owns one cached connection per exam key. Concurrent first calls for a
// key share a single dial; failed dials are not cached.
type Router struct {
	stores         map[examtype.Key]config.StoreConfig
	open           Opener
	log            *slog.Logger
	timeout        time.Duration
	healthInterval time.Duration
	now            func() time.Time

	flight singleflight.Group
	mu     sync.Mutex
	conns  map[examtype.Key]*conn
}

type conn struct {
	s         store.Store
	checkedAt time.Time
}

// RouterOptions tunes a Router. Zero values fall back to sane defaults.
type RouterOptions struct {
	// Timeout bounds the dial and every subsequent store call.
	Timeout time.Duration
	// HealthInterval is how long a cached connection is trusted before it is pinged again.
	// Zero pings on every hit.
	HealthInterval time.Duration
	Logger         *slog.Logger
}

// NewRouter builds a Router over the configured stores.
func NewRouter(stores map[examtype.Key]config.StoreConfig, open Opener, opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Router{
		stores:         stores,
		open:           open,
		log:            opts.Logger,
		timeout:        opts.Timeout,
		healthInterval: opts.HealthInterval,
		now:            time.Now,
		conns:          make(map[examtype.Key]*conn),
	}
}

var _ store.Provider = (*Router)(nil)

// Get returns the live store for key, dialing it on first use or after a failed health check.
func (r *Router) Get(ctx context.Context, key examtype.Key) (store.Store, error) {
	cfg, ok := r.stores[key]
	if !ok {
		return nil, &models.ConfigurationError{ExamType: string(key), Reason: "no store configured"}
	}

	if s, ok := r.cached(ctx, key); ok {
		return s, nil
	}

	v, err, shared := r.flight.Do(string(key), func() (any, error) {
		r.mu.Lock()
		c := r.conns[key]
		r.mu.Unlock()
		if c != nil {
			return c.s, nil
		}
		return r.connect(ctx, key, cfg)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.log.Debug("shared in-flight store dial", "exam", key)
	}
	return v.(store.Store), nil
}

// cached returns the cached store when it is fresh or passes a ping. A store
// that fails the ping is evicted and closed.
func (r *Router) cached(ctx context.Context, key examtype.Key) (store.Store, bool) {
	r.mu.Lock()
	c := r.conns[key]
	if c == nil {
		r.mu.Unlock()
		return nil, false
	}
	if r.healthInterval > 0 && r.now().Sub(c.checkedAt) < r.healthInterval {
		r.mu.Unlock()
		return c.s, true
	}
	r.mu.Unlock()

	err := c.s.Ping(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		c.checkedAt = r.now()
		return c.s, true
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// The caller went away; that says nothing about the connection.
		return c.s, true
	}
	if r.conns[key] == c {
		delete(r.conns, key)
		r.log.Warn("evicting unhealthy store", "exam", key, "driver", c.s.Driver(), "error", err)
		go r.closeQuietly(key, c.s)
	}
	return nil, false
}

func (r *Router) connect(ctx context.Context, key examtype.Key, cfg config.StoreConfig) (store.Store, error) {
	// The dial is shared by every waiter, so it must not die with the first caller's context.
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := r.now()
	raw, err := r.open(dialCtx, key, cfg)
	if err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			if cfgErr.ExamType == "" {
				cfgErr.ExamType = string(key)
			}
			return nil, err
		}
		r.log.Error("store dial failed", "exam", key, "driver", cfg.Driver, "error", err)
		return nil, &models.TransientError{Op: fmt.Sprintf("connect %s", key), Err: err}
	}
	s := store.WithTimeout(raw, r.timeout)
	if err := s.EnsureSchema(dialCtx); err != nil {
		r.closeQuietly(key, s)
		r.log.Error("schema registration failed", "exam", key, "driver", cfg.Driver, "error", err)
		if models.IsTransient(err) {
			return nil, err
		}
		return nil, &models.TransientError{Op: fmt.Sprintf("ensure schema %s", key), Err: err}
	}

	r.mu.Lock()
	prev := r.conns[key]
	r.conns[key] = &conn{s: s, checkedAt: r.now()}
	r.mu.Unlock()
	if prev != nil {
		// A Reset forgot the flight while this dial ran and a second dial won the race.
		r.log.Warn("replacing concurrently dialed store", "exam", key)
		go r.closeQuietly(key, prev.s)
	}
	r.log.Info("store connected", "exam", key, "driver", cfg.Driver, "took", r.now().Sub(start))
	return s, nil
}

func (r *Router) closeQuietly(key examtype.Key, s store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		r.log.Warn("store close failed", "exam", key, "error", err)
	}
}

// Reset drops and closes every cached connection. The next Get dials again.
func (r *Router) Reset(ctx context.Context) {
	r.mu.Lock()
	old := r.conns
	r.conns = make(map[examtype.Key]*conn)
	r.mu.Unlock()

	for key, c := range old {
		r.flight.Forget(string(key))
		if err := c.s.Close(ctx); err != nil {
			r.log.Warn("store close failed", "exam", key, "error", err)
		}
	}
	r.log.Info("store cache reset", "closed", len(old))
}

// Close is Reset for shutdown.
func (r *Router) Close(ctx context.Context) {
	r.Reset(ctx)
}

// StoreStatus describes one configured exam store.
type StoreStatus struct {
	ExamType  string    `json:"examType"`
	Driver    string    `json:"driver"`
	Connected bool      `json:"connected"`
	CheckedAt time.Time `json:"checkedAt,omitzero"`
}

// Status lists every configured store and whether a connection is cached.
func (r *Router) Status() []StoreStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StoreStatus, 0, len(r.stores))
	for key, cfg := range r.stores {
		st := StoreStatus{ExamType: string(key), Driver: cfg.Driver}
		if c, ok := r.conns[key]; ok {
			st.Connected = true
			st.CheckedAt = c.checkedAt
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExamType < out[j].ExamType })
	return out
}
