package fetcher_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poetry-feed/pkg/breaker"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/fetcher"
	"poetry-feed/pkg/httpclient"
	"poetry-feed/pkg/seen"
)

func poemJSON(id int) string {
	return fmt.Sprintf(`{"id":%d,"title":"غزل %d","plainText":"بیت یک\nبیت دو","poet":{"id":1,"name":"حافظ"}}`, id, id)
}

// scriptedServer answers the n-th request (0-based) with respond(n).
func scriptedServer(t *testing.T, respond func(n int, w http.ResponseWriter)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		respond(n, w)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

type manualTimer struct {
	f       func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	m.stopped = true
	return true
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) breaker.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) elapse() {
	c.mu.Lock()
	last := c.timers[len(c.timers)-1]
	c.mu.Unlock()
	last.f()
}

type delayLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayLog) sleep(_ context.Context, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays = append(d.delays, delay)
	return nil
}

func (d *delayLog) all() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}

func noJitter(time.Duration) time.Duration { return 0 }

type harness struct {
	fetcher *fetcher.Fetcher
	breaker *breaker.Breaker
	seen    *seen.MemorySet
	clock   *manualClock
	delays  *delayLog
}

func newHarness(t *testing.T, client fetcher.Getter, opts ...fetcher.Option) *harness {
	t.Helper()
	h := &harness{
		seen:   seen.NewMemorySet(),
		clock:  &manualClock{},
		delays: &delayLog{},
	}
	h.breaker = breaker.New(breaker.Config{AfterFunc: h.clock.AfterFunc})
	t.Cleanup(h.breaker.Stop)
	opts = append([]fetcher.Option{
		fetcher.WithSleep(h.delays.sleep),
		fetcher.WithJitter(noJitter),
	}, opts...)
	h.fetcher = fetcher.New(client, h.breaker, h.seen, opts...)
	return h
}

type getterFunc func(ctx context.Context, url string) (*http.Response, error)

func (g getterFunc) Get(ctx context.Context, url string) (*http.Response, error) { return g(ctx, url) }

var errConnRefused = errors.New("connection refused")

func TestFetch_ReturnsRequestedPoems(t *testing.T) {
	server, hits := scriptedServer(t, func(n int, w http.ResponseWriter) {
		fmt.Fprint(w, poemJSON(n+1))
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	poems := h.fetcher.Fetch(context.Background(), server.URL, 5)

	require.Len(t, poems, 5)
	assert.Equal(t, int32(5), hits.Load())
	for _, p := range poems {
		assert.True(t, p.Valid())
	}
	assert.Empty(t, h.delays.all())
	assert.False(t, h.breaker.IsOpen())
}

func TestFetch_NoDuplicateIDsAcrossRuns(t *testing.T) {
	ids := []int{1, 2, 1, 3, 4, 2, 5, 6, 1, 7, 8}
	server, _ := scriptedServer(t, func(n int, w http.ResponseWriter) {
		fmt.Fprint(w, poemJSON(ids[n%len(ids)]))
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	var all []domain.Poem
	all = append(all, h.fetcher.Fetch(context.Background(), server.URL, 4)...)
	all = append(all, h.fetcher.Fetch(context.Background(), server.URL, 4)...)

	got := map[int64]bool{}
	for _, p := range all {
		assert.False(t, got[p.ID], "duplicate id %d", p.ID)
		got[p.ID] = true
	}
	assert.Len(t, all, 8)
	assert.Empty(t, h.delays.all(), "duplicates are skipped without delay")
}

func TestFetch_AttemptBudgetCappedAt30(t *testing.T) {
	server, hits := scriptedServer(t, func(_ int, w http.ResponseWriter) {
		fmt.Fprint(w, poemJSON(1))
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	res := h.fetcher.Run(context.Background(), server.URL, 100)

	assert.Len(t, res.Poems, 1)
	assert.Equal(t, 30, res.Stats.Attempts)
	assert.Equal(t, int32(30), hits.Load())
}

func TestMaxAttempts(t *testing.T) {
	assert.Equal(t, 8, fetcher.MaxAttempts(5))
	assert.Equal(t, 5, fetcher.MaxAttempts(3))
	assert.Equal(t, 30, fetcher.MaxAttempts(20))
	assert.Equal(t, 30, fetcher.MaxAttempts(100))
}

func TestFetch_StopsAfterEightConsecutiveFailures(t *testing.T) {
	server, hits := scriptedServer(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	res := h.fetcher.Run(context.Background(), server.URL, 20)

	assert.Empty(t, res.Poems)
	assert.Equal(t, int32(8), hits.Load())
	assert.Equal(t, 8, res.Stats.ConsecutiveFailures)
	assert.True(t, h.breaker.IsOpen())
}

func TestFetch_InvalidResponsesCountAsFailures(t *testing.T) {
	bodies := []string{`<html>error</html>`, `[1,2,3]`, `{"id":5,"title":"no poet"}`}
	server, hits := scriptedServer(t, func(n int, w http.ResponseWriter) {
		if n < len(bodies) {
			fmt.Fprint(w, bodies[n])
			return
		}
		fmt.Fprint(w, poemJSON(n))
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	res := h.fetcher.Run(context.Background(), server.URL, 3)

	assert.Len(t, res.Poems, 2)
	assert.Equal(t, int32(5), hits.Load())
	assert.Equal(t, 0, res.Stats.ConsecutiveFailures)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond, 900 * time.Millisecond}, h.delays.all())
	assert.False(t, h.breaker.IsOpen())
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 300 * time.Millisecond},
		{2, 600 * time.Millisecond},
		{3, 900 * time.Millisecond},
		{7, 900 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fetcher.Backoff(tt.failures), "failures=%d", tt.failures)
	}
}

func TestFetch_ThreeNetworkErrorsOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	client := getterFunc(func(context.Context, string) (*http.Response, error) {
		calls.Add(1)
		return nil, errConnRefused
	})
	h := newHarness(t, client)

	res := h.fetcher.Run(context.Background(), "http://poems.invalid/random", 10)

	assert.Empty(t, res.Poems)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, res.Stats.NetworkErrors)
	require.True(t, h.breaker.IsOpen())

	second := h.fetcher.Run(context.Background(), "http://poems.invalid/random", 10)
	assert.Empty(t, second.Poems)
	assert.True(t, second.Stats.Skipped)
	assert.Equal(t, int32(3), calls.Load(), "open breaker must skip all requests")
}

func TestFetch_BreakerClosesAfterCooldown(t *testing.T) {
	server, hits := scriptedServer(t, func(n int, w http.ResponseWriter) {
		fmt.Fprint(w, poemJSON(n+1))
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	h.breaker.Open("forced")
	assert.Empty(t, h.fetcher.Fetch(context.Background(), server.URL, 2))
	assert.Zero(t, hits.Load())

	h.clock.elapse()

	assert.Len(t, h.fetcher.Fetch(context.Background(), server.URL, 2), 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetch_EmptyResponsesOpenBreaker(t *testing.T) {
	server, hits := scriptedServer(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusOK)
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	res := h.fetcher.Run(context.Background(), server.URL, 20)

	assert.Empty(t, res.Poems)
	assert.Equal(t, int32(5), hits.Load())
	assert.Equal(t, 5, res.Stats.EmptyResponses)
	assert.True(t, h.breaker.IsOpen())
	for _, d := range h.delays.all() {
		assert.Equal(t, 500*time.Millisecond, d)
	}
	assert.Len(t, h.delays.all(), 4)
}

func TestFetch_EmptyResponsePromotionIsConditional(t *testing.T) {
	// failure, failure, empty: the empty count (1) does not exceed the
	// consecutive count (2), so it is not promoted.
	server, _ := scriptedServer(t, func(n int, w http.ResponseWriter) {
		switch n {
		case 0, 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	res := h.fetcher.Run(context.Background(), server.URL, 20)

	assert.Equal(t, 1, res.Stats.EmptyResponses)
	assert.Equal(t, 9, res.Stats.Attempts, "one empty response does not count towards the eight failures")
	assert.True(t, h.breaker.IsOpen())
}

func TestFetch_PostRunHeuristicOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	client := getterFunc(func(context.Context, string) (*http.Response, error) {
		n := calls.Add(1)
		if n <= 2 {
			return nil, errConnRefused
		}
		rec := httptest.NewRecorder()
		fmt.Fprint(rec, poemJSON(1))
		return rec.Result(), nil
	})
	h := newHarness(t, client)
	_, err := h.seen.Add(context.Background(), 1)
	require.NoError(t, err)

	res := h.fetcher.Run(context.Background(), "http://poems.invalid/random", 20)

	assert.Empty(t, res.Poems)
	assert.Equal(t, 30, res.Stats.Attempts)
	assert.Equal(t, 2, res.Stats.NetworkErrors)
	assert.True(t, h.breaker.IsOpen())
}

func TestFetch_RequestTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	h := newHarness(t, httpclient.NewClient(httpclient.APIClient), fetcher.WithRequestTimeout(20*time.Millisecond))

	res := h.fetcher.Run(context.Background(), server.URL, 5)

	assert.Empty(t, res.Poems)
	assert.Equal(t, 3, res.Stats.NetworkErrors)
	assert.True(t, h.breaker.IsOpen())
}

func TestFetch_CancelledContextStopsRun(t *testing.T) {
	server, hits := scriptedServer(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, h.fetcher.Fetch(ctx, server.URL, 5))
	assert.Zero(t, hits.Load())
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[fetcher.Outcome]int
	runs     int
}

func (r *countingRecorder) ObserveAttempt(o fetcher.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[fetcher.Outcome]int{}
	}
	r.outcomes[o]++
}

func (r *countingRecorder) ObserveRun(int, int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

type sliceSink struct {
	mu    sync.Mutex
	poems []domain.Poem
}

func (s *sliceSink) Submit(p domain.Poem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poems = append(s.poems, p)
	return true
}

func TestFetch_RecorderAndSink(t *testing.T) {
	server, _ := scriptedServer(t, func(n int, w http.ResponseWriter) {
		switch n {
		case 0:
			w.WriteHeader(http.StatusNotFound)
		case 2:
			fmt.Fprint(w, poemJSON(1))
		default:
			fmt.Fprint(w, poemJSON(n))
		}
	})
	rec := &countingRecorder{}
	sink := &sliceSink{}
	h := newHarness(t, httpclient.NewClient(httpclient.APIClient), fetcher.WithRecorder(rec), fetcher.WithSink(sink))

	poems := h.fetcher.Fetch(context.Background(), server.URL, 3)

	require.Len(t, poems, 3)
	assert.Equal(t, 1, rec.outcomes[fetcher.OutcomeBadStatus])
	assert.Equal(t, 1, rec.outcomes[fetcher.OutcomeDuplicate])
	assert.Equal(t, 3, rec.outcomes[fetcher.OutcomeSuccess])
	assert.Equal(t, 1, rec.runs)
	assert.Equal(t, poems, sink.poems)
}
