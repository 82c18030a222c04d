package db

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbank-server/config"
	"qbank-server/examtype"
	"qbank-server/models"
	"qbank-server/store"
	"qbank-server/store/memory"
)

type fakeStore struct {
	*memory.Store
	mu      sync.Mutex
	pingErr error
	closed  bool
}

func (f *fakeStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeStore) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) failPings(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeStore) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type dialer struct {
	opens   atomic.Int32
	release chan struct{}
	fail    atomic.Int32 // number of upcoming dials that fail
	mu      sync.Mutex
	made    []*fakeStore
}

func (d *dialer) open(ctx context.Context, key examtype.Key, cfg config.StoreConfig) (store.Store, error) {
	d.opens.Add(1)
	if d.release != nil {
		<-d.release
	}
	if d.fail.Load() > 0 {
		d.fail.Add(-1)
		return nil, errors.New("connection refused")
	}
	f := &fakeStore{Store: memory.New()}
	d.mu.Lock()
	d.made = append(d.made, f)
	d.mu.Unlock()
	return f, nil
}

func testStores() map[examtype.Key]config.StoreConfig {
	return map[examtype.Key]config.StoreConfig{
		examtype.JEE:  {Driver: "memory"},
		examtype.NEET: {Driver: "memory"},
	}
}

func TestGetUnconfigured(t *testing.T) {
	d := &dialer{}
	r := NewRouter(map[examtype.Key]config.StoreConfig{examtype.JEE: {Driver: "memory"}}, d.open, RouterOptions{})

	_, err := r.Get(context.Background(), examtype.NEET)
	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "NEET", cfgErr.ExamType)
	assert.Zero(t, d.opens.Load())
}

func TestGetSingleFlight(t *testing.T) {
	d := &dialer{release: make(chan struct{})}
	r := NewRouter(testStores(), d.open, RouterOptions{HealthInterval: time.Hour})

	var wg sync.WaitGroup
	got := make([]store.Store, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Get(context.Background(), examtype.JEE)
			assert.NoError(t, err)
			got[i] = s
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(d.release)
	wg.Wait()

	assert.EqualValues(t, 1, d.opens.Load())
	for _, s := range got {
		assert.Same(t, got[0], s)
	}

	// A different key dials independently.
	_, err := r.Get(context.Background(), examtype.NEET)
	require.NoError(t, err)
	assert.EqualValues(t, 2, d.opens.Load())
}

func TestGetDialFailureIsTransientAndNotCached(t *testing.T) {
	d := &dialer{}
	d.fail.Store(1)
	r := NewRouter(testStores(), d.open, RouterOptions{HealthInterval: time.Hour})

	_, err := r.Get(context.Background(), examtype.JEE)
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))

	s, err := r.Get(context.Background(), examtype.JEE)
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.EqualValues(t, 2, d.opens.Load())
}

func TestGetEvictsUnhealthy(t *testing.T) {
	d := &dialer{}
	r := NewRouter(testStores(), d.open, RouterOptions{})
	ctx := context.Background()

	first, err := r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	again, err := r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.EqualValues(t, 1, d.opens.Load())

	d.made[0].failPings(errors.New("broken pipe"))
	second, err := r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, d.opens.Load())
	assert.Eventually(t, d.made[0].isClosed, time.Second, 10*time.Millisecond)
}

func TestGetTrustsFreshConnection(t *testing.T) {
	d := &dialer{}
	r := NewRouter(testStores(), d.open, RouterOptions{HealthInterval: time.Minute})
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	d.made[0].failPings(errors.New("broken pipe"))

	_, err = r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	assert.EqualValues(t, 1, d.opens.Load(), "no ping inside the health interval")

	now = now.Add(2 * time.Minute)
	_, err = r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	assert.EqualValues(t, 2, d.opens.Load())
}

func TestResetAndStatus(t *testing.T) {
	d := &dialer{}
	r := NewRouter(testStores(), d.open, RouterOptions{HealthInterval: time.Hour})
	ctx := context.Background()

	_, err := r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	st := r.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "JEE", st[0].ExamType)
	assert.True(t, st[0].Connected)
	assert.False(t, st[1].Connected)

	r.Reset(ctx)
	assert.True(t, d.made[0].isClosed())
	for _, s := range r.Status() {
		assert.False(t, s.Connected)
	}

	_, err = r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	assert.EqualValues(t, 2, d.opens.Load())
}

func TestNewOpener(t *testing.T) {
	open := NewOpener(slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_, err := open(ctx, examtype.JEE, config.StoreConfig{Driver: "sqlite"})
	var cfgErr *models.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	a, err := open(ctx, examtype.JEE, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))
	b, err := open(ctx, examtype.JEE, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.NoError(t, b.Ping(ctx))
}

func TestResetDuringDialClosesReplacedStore(t *testing.T) {
	d := &dialer{release: make(chan struct{})}
	r := NewRouter(testStores(), d.open, RouterOptions{HealthInterval: time.Hour})
	ctx := context.Background()

	var wg sync.WaitGroup
	dial := func() {
		defer wg.Done()
		_, err := r.Get(ctx, examtype.JEE)
		assert.NoError(t, err)
	}
	wg.Add(1)
	go dial()
	require.Eventually(t, func() bool { return d.opens.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Reset forgets the in-flight dial, so the next Get starts a second one.
	r.Reset(ctx)
	wg.Add(1)
	go dial()
	require.Eventually(t, func() bool { return d.opens.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(d.release)
	wg.Wait()

	s, err := r.Get(ctx, examtype.JEE)
	require.NoError(t, err)
	current := store.Unwrap(s).(*fakeStore)
	assert.False(t, current.isClosed())

	d.mu.Lock()
	made := append([]*fakeStore(nil), d.made...)
	d.mu.Unlock()
	require.Len(t, made, 2)
	assert.Eventually(t, func() bool {
		closed := 0
		for _, f := range made {
			if f.isClosed() {
				closed++
			}
		}
		return closed == 1
	}, time.Second, 10*time.Millisecond, "the store that lost the race is closed")
}
