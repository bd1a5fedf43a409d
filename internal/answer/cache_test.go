package answer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/ada/internal/document"
)

type countingRecorder struct {
	mu     sync.Mutex
	hits   map[string]int
	misses int
}

func (r *countingRecorder) CacheHit(tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hits == nil {
		r.hits = map[string]int{}
	}
	r.hits[tier]++
}

func (r *countingRecorder) CacheMiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses++
}

func countingService(calls *atomic.Int32, doc *document.Document, err error) Service {
	return ServiceFunc(func(ctx context.Context, q string) (*document.Document, error) {
		calls.Add(1)
		return doc, err
	})
}

func TestCachedServiceMemoryTier(t *testing.T) {
	var calls atomic.Int32
	rec := &countingRecorder{}
	svc, err := NewCachedService(context.Background(), countingService(&calls, sampleDocument(), nil), CacheOptions{Recorder: rec})
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Ask(context.Background(), "What is X?")
	require.NoError(t, err)
	_, err = svc.Ask(context.Background(), "  what   is x? ")
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, rec.misses)
	assert.Equal(t, 1, rec.hits["memory"])
}

func TestCachedServiceDiskTierSurvivesNewInstance(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache", "answers.db")
	var calls atomic.Int32

	first, err := NewCachedService(context.Background(), countingService(&calls, sampleDocument(), nil), CacheOptions{DBPath: dbPath})
	require.NoError(t, err)
	want, err := first.Ask(context.Background(), "q")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	rec := &countingRecorder{}
	second, err := NewCachedService(context.Background(), countingService(&calls, nil, errors.New("should not be called")), CacheOptions{DBPath: dbPath, Recorder: rec})
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, rec.hits["disk"])
}

func TestCachedServiceNamespaces(t *testing.T) {
	a, err := NewCachedService(context.Background(), nil, CacheOptions{Namespace: "gpt"})
	require.NoError(t, err)
	b, err := NewCachedService(context.Background(), nil, CacheOptions{Namespace: "claude"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Key("q"), b.Key("q"))
	assert.Equal(t, a.Key("Q"), a.Key(" q "))
}

func TestCachedServiceDoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	svc, err := NewCachedService(context.Background(), countingService(&calls, nil, Application(500, "x")), CacheOptions{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := svc.Ask(context.Background(), "q")
		assert.True(t, IsApplication(err))
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestCachedServiceCollapsesConcurrentAsks(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	inner := ServiceFunc(func(ctx context.Context, q string) (*document.Document, error) {
		calls.Add(1)
		<-release
		return sampleDocument(), nil
	})
	svc, err := NewCachedService(context.Background(), inner, CacheOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ask(context.Background(), "same")
			assert.NoError(t, err)
		}()
	}
	// Give the goroutines time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
}

func TestCachedServiceCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	inner := ServiceFunc(func(ctx context.Context, q string) (*document.Document, error) {
		<-release
		return sampleDocument(), nil
	})
	svc, err := NewCachedService(context.Background(), inner, CacheOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Ask(ctx, "q")
	assert.True(t, IsTransport(err))

	close(release)
	// The shared call still completes and fills the cache.
	assert.Eventually(t, func() bool {
		_, ok := svc.mem.Get(svc.Key("q"))
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestCachedServicePurge(t *testing.T) {
	var calls atomic.Int32
	svc, err := NewCachedService(context.Background(), countingService(&calls, sampleDocument(), nil),
		CacheOptions{DBPath: filepath.Join(t.TempDir(), "a.db"), TTL: time.Nanosecond})
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Ask(context.Background(), "q")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	n, err := svc.Purge(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCachedServicePurgesExpiredRowsOnOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "a.db")
	var calls atomic.Int32

	first, err := NewCachedService(context.Background(), countingService(&calls, sampleDocument(), nil),
		CacheOptions{DBPath: dbPath, TTL: time.Nanosecond})
	require.NoError(t, err)
	_, err = first.Ask(context.Background(), "q")
	require.NoError(t, err)
	require.NoError(t, first.Close())
	time.Sleep(1100 * time.Millisecond)

	second, err := NewCachedService(context.Background(), countingService(&calls, sampleDocument(), nil),
		CacheOptions{DBPath: dbPath})
	require.NoError(t, err)
	defer second.Close()

	var rows int
	require.NoError(t, second.db.QueryRow(`SELECT COUNT(*) FROM answers`).Scan(&rows))
	assert.Zero(t, rows)
}

func TestCachedServiceCloseWaitsForInFlightAsk(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	inner := ServiceFunc(func(ctx context.Context, q string) (*document.Document, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return sampleDocument(), nil
	})
	svc, err := NewCachedService(context.Background(), inner,
		CacheOptions{DBPath: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)

	asked := make(chan error, 1)
	go func() {
		_, err := svc.Ask(context.Background(), "q")
		asked <- err
	}()
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- svc.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while an ask was still running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, svc.Closed())

	close(release)
	require.NoError(t, <-asked)
	require.NoError(t, <-closed)

	// A closed cache still answers, straight from the inner service.
	_, err = svc.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.NoError(t, svc.Close())
}

func TestFixtureService(t *testing.T) {
	svc := NewFixtureService(0)
	custom, err := document.New([]document.Section{{Body: "gravity"}}, nil)
	require.NoError(t, err)
	svc.Add("gravity", custom)

	got, err := svc.Ask(context.Background(), "Why does GRAVITY pull?")
	require.NoError(t, err)
	assert.Same(t, custom, got)

	got, err = svc.Ask(context.Background(), "anything else")
	require.NoError(t, err)
	assert.Len(t, got.References, 3)

	slow := NewFixtureService(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow.Ask(ctx, "q")
	assert.True(t, IsTransport(err))
}
