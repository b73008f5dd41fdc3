package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closable struct {
	name   string
	closed atomic.Bool
}

func (c *closable) Close() error {
	c.closed.Store(true)

	return nil
}

type releasable struct {
	released atomic.Int32
}

func (r *releasable) Release(context.Context) error {
	r.released.Add(1)

	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestGetOrCreate_ConcurrentFirstCallsConstructOnce(t *testing.T) {
	m := New()
	ctx := context.Background()

	var calls atomic.Int32

	release := make(chan struct{})
	factory := func(context.Context) (any, error) {
		calls.Add(1)
		<-release

		return &closable{name: "store"}, nil
	}

	const callers = 32

	results := make([]any, callers)

	var started, done sync.WaitGroup

	started.Add(callers)
	done.Add(callers)

	for i := range callers {
		go func() {
			defer done.Done()

			started.Done()

			v, err := m.GetOrCreate(ctx, "wf-1", "vector_store_key", factory)
			assert.NoError(t, err)

			results[i] = v
		}()
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for _, r := range results {
		assert.Same(t, results[0], r)
	}

	v, err := m.GetOrCreate(ctx, "wf-1", "vector_store_key", factory)
	require.NoError(t, err)
	assert.Same(t, results[0], v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCreate_KeysArePartitionedByScope(t *testing.T) {
	m := New()
	ctx := context.Background()

	a, err := m.GetOrCreate(ctx, "wf-a", "memory", func(context.Context) (any, error) { return &closable{name: "a"}, nil })
	require.NoError(t, err)

	b, err := m.GetOrCreate(ctx, "wf-b", "memory", func(context.Context) (any, error) { return &closable{name: "b"}, nil })
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "wf-a__memory", Key{Scope: "wf-a", Name: "memory"}.String())
}

func TestGetOrCreate_FailedConstructionIsNotCached(t *testing.T) {
	m := New()
	ctx := context.Background()
	boom := errors.New("credentials rejected")

	_, err := m.GetOrCreate(ctx, "wf", "client", func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())

	_, err = m.GetOrCreate(ctx, "wf", "client", func(context.Context) (any, error) { return nil, nil })
	assert.Error(t, err)

	v, err := m.GetOrCreate(ctx, "wf", "client", func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGetOrCreateWithSource_KeepsSource(t *testing.T) {
	m := New()

	_, err := m.GetOrCreateWithSource(context.Background(), "wf", "store", map[string]any{"model": "m1"},
		func(context.Context) (any, error) { return "store", nil })
	require.NoError(t, err)

	entry, ok := m.Get("wf", "store")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"model": "m1"}, entry.Source)
	assert.Equal(t, "store", entry.Value)

	_, ok = m.Get("wf", "other")
	assert.False(t, ok)
}

func TestMaxEntries_EvictsLeastRecentlyUsedAndReleasesIt(t *testing.T) {
	m := New(WithMaxEntries(2))
	ctx := context.Background()

	first := &closable{name: "first"}
	second := &closable{name: "second"}
	third := &closable{name: "third"}

	mustCreate(t, m, "wf", "first", first)
	mustCreate(t, m, "wf", "second", second)

	// touch "first" so "second" becomes the eviction candidate
	mustCreate(t, m, "wf", "first", nil)
	mustCreate(t, m, "wf", "third", third)

	assert.Equal(t, 2, m.Len())
	assert.True(t, second.closed.Load())
	assert.False(t, first.closed.Load())

	keys := m.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, "third", keys[0].Name)
	assert.Equal(t, "first", keys[1].Name)

	_, ok := m.Get("wf", "second")
	assert.False(t, ok)

	require.NoError(t, m.Close(ctx))
}

func TestEvictIdle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := New(WithIdleTimeout(time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	stale := &releasable{}
	fresh := &releasable{}

	mustCreate(t, m, "wf", "stale", stale)
	clock.Advance(45 * time.Second)
	mustCreate(t, m, "wf", "fresh", fresh)
	clock.Advance(30 * time.Second)

	evicted, err := m.EvictIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, int32(1), stale.released.Load())
	assert.Equal(t, int32(0), fresh.released.Load())

	_, ok := m.Get("wf", "fresh")
	assert.True(t, ok)
}

func TestEvictIdle_DisabledWithoutTimeout(t *testing.T) {
	m := New()
	mustCreate(t, m, "wf", "a", "value")

	evicted, err := m.EvictIdle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, evicted)
	assert.Equal(t, 1, m.Len())
}

func TestTeardown_ReleasesOnlyTheScope(t *testing.T) {
	m := New()
	ctx := context.Background()

	a := &closable{}
	b := &closable{}
	other := &closable{}

	mustCreate(t, m, "wf-1", "a", a)
	mustCreate(t, m, "wf-1", "b", b)
	mustCreate(t, m, "wf-2", "a", other)

	require.NoError(t, m.Teardown(ctx, "wf-1"))

	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
	assert.False(t, other.closed.Load())
	assert.Equal(t, 1, m.Len())
}

func TestClose(t *testing.T) {
	m := New()
	ctx := context.Background()

	value := &closable{}
	mustCreate(t, m, "wf", "a", value)

	require.NoError(t, m.StartJanitor("@every 1h"))
	require.NoError(t, m.Close(ctx))

	assert.True(t, value.closed.Load())

	_, err := m.GetOrCreate(ctx, "wf", "a", func(context.Context) (any, error) { return "x", nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGetOrCreate_ConstructionOutlivingTheCache(t *testing.T) {
	tests := []struct {
		name      string
		interrupt func(ctx context.Context, m *Manager) error
		wantErr   error
		wantKept  bool
	}{
		{
			name:      "close",
			interrupt: func(ctx context.Context, m *Manager) error { return m.Close(ctx) },
			wantErr:   ErrClosed,
		},
		{
			name:      "teardown of the scope",
			interrupt: func(ctx context.Context, m *Manager) error { return m.Teardown(ctx, "wf") },
			wantErr:   ErrTornDown,
		},
		{
			name:      "teardown of another scope",
			interrupt: func(ctx context.Context, m *Manager) error { return m.Teardown(ctx, "wf-other") },
			wantKept:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			ctx := context.Background()

			value := &releasable{}
			started := make(chan struct{})
			finish := make(chan struct{})

			type result struct {
				value any
				err   error
			}

			done := make(chan result, 1)

			go func() {
				v, err := m.GetOrCreate(ctx, "wf", "store", func(context.Context) (any, error) {
					close(started)
					<-finish

					return value, nil
				})
				done <- result{value: v, err: err}
			}()

			<-started
			require.NoError(t, tt.interrupt(ctx, m))
			close(finish)

			got := <-done

			if !tt.wantKept {
				require.ErrorIs(t, got.err, tt.wantErr)
				assert.Nil(t, got.value)
				assert.Equal(t, int32(1), value.released.Load())
				assert.Equal(t, 0, m.Len())

				return
			}

			require.NoError(t, got.err)
			assert.Same(t, value, got.value)
			assert.Equal(t, int32(0), value.released.Load())

			_, ok := m.Get("wf", "store")
			assert.True(t, ok)
		})
	}
}

func TestTeardown_ScopeIsUsableAgain(t *testing.T) {
	m := New()
	ctx := context.Background()

	mustCreate(t, m, "wf", "a", &closable{})
	require.NoError(t, m.Teardown(ctx, "wf"))

	again := &closable{}
	mustCreate(t, m, "wf", "a", again)

	entry, ok := m.Get("wf", "a")
	require.True(t, ok)
	assert.Same(t, again, entry.Value)
}

func TestStartJanitor_InvalidSchedule(t *testing.T) {
	m := New()

	err := m.StartJanitor("every now and then")
	assert.Error(t, err)
}

func TestRelease(t *testing.T) {
	r := &releasable{}
	c := &closable{}

	require.NoError(t, Release(context.Background(), r))
	require.NoError(t, Release(context.Background(), c))
	require.NoError(t, Release(context.Background(), "plain"))

	assert.Equal(t, int32(1), r.released.Load())
	assert.True(t, c.closed.Load())
}

func mustCreate(t *testing.T, m *Manager, scope, name string, value any) {
	t.Helper()

	_, err := m.GetOrCreate(context.Background(), scope, name, func(context.Context) (any, error) {
		return value, nil
	})
	require.NoError(t, err)
}
