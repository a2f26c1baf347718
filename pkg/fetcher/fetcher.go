// Package fetcher retrieves random poems from the remote endpoint with a
// bounded, sequential retry loop guarded by a circuit breaker.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"poetry-feed/pkg/breaker"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/logger"
	"poetry-feed/pkg/seen"
)

// Tuned thresholds of the retry loop.
const (
	DefaultRequestTimeout = 5 * time.Second

	maxAttemptsCap         = 30
	attemptsPerPoem        = 1.5
	maxConsecutiveFailures = 8
	networkErrorsToOpen    = 3
	emptyResponsesToOpen   = 5
	emptyFailuresToOpen    = 5

	backoffStep      = 300 * time.Millisecond
	backoffStepLimit = 3
	backoffCap       = 2000 * time.Millisecond
	backoffJitter    = 300 * time.Millisecond
	emptyRetryBase   = 500 * time.Millisecond
	emptyRetryJitter = 500 * time.Millisecond

	postRunMinAttempts        = 10
	postRunNetworkErrors      = 2
	postRunConsecutiveFailure = 6

	maxBodyBytes = 1 << 20
)

// Outcome classifies a single attempt.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeNetworkError Outcome = "network_error"
	OutcomeBadStatus    Outcome = "bad_status"
	OutcomeEmpty        Outcome = "empty"
	OutcomeInvalidJSON  Outcome = "invalid_json"
	OutcomeInvalidPoem  Outcome = "invalid_poem"
)

// Getter issues a GET. *httpclient.HTTPClient satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Recorder receives attempt and run observations.
type Recorder interface {
	ObserveAttempt(outcome Outcome)
	ObserveRun(fetched, attempts int, elapsed time.Duration)
}

// Sink receives every poem accepted from the remote endpoint.
type Sink interface {
	Submit(poem domain.Poem) bool
}

// Stats summarises one run.
type Stats struct {
	Attempts            int
	ConsecutiveFailures int
	EmptyResponses      int
	NetworkErrors       int
	Skipped             bool
}

// Result is the outcome of one run.
type Result struct {
	Poems []domain.Poem
	Stats Stats
}

// Fetcher is owned by one feed session. Runs may overlap (an abandoned
// run can still be draining when the next starts); the seen set and the
// breaker are safe for that.
type Fetcher struct {
	client         Getter
	breaker        *breaker.Breaker
	seen           seen.Set
	log            logger.Logger
	recorder       Recorder
	sink           Sink
	requestTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	jitter         func(limit time.Duration) time.Duration
	syntheticID    func() int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(f *Fetcher) { f.log = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(f *Fetcher) { f.recorder = r } }

// WithSink sets where accepted poems are copied.
func WithSink(s Sink) Option { return func(f *Fetcher) { f.sink = s } }

// WithRequestTimeout sets the per-attempt deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.requestTimeout = d
		}
	}
}

// WithSleep replaces the delay used between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithJitter replaces the random jitter source. It must return a value in [0, limit).
func WithJitter(jitter func(limit time.Duration) time.Duration) Option {
	return func(f *Fetcher) { f.jitter = jitter }
}

// New creates a Fetcher bound to a breaker and a seen set.
func New(client Getter, br *breaker.Breaker, set seen.Set, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:         client,
		breaker:        br,
		seen:           set,
		log:            logger.NewNop(),
		recorder:       nopRecorder{},
		requestTimeout: DefaultRequestTimeout,
		sleep:          sleepContext,
		jitter:         randomJitter,
		syntheticID:    func() int64 { return rand.Int64N(1_000_000) },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns up to count valid, previously unseen poems. It never fails:
// remote trouble only shrinks the result and may open the breaker.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string, count int) []domain.Poem {
	return f.Run(ctx, endpoint, count).Poems
}

// MaxAttempts is the attempt budget for a run of count poems.
func MaxAttempts(count int) int {
	return min(int(math.Ceil(float64(count)*attemptsPerPoem)), maxAttemptsCap)
}

// Backoff is the delay after a failure, before jitter.
func Backoff(consecutiveFailures int) time.Duration {
	return min(backoffStep*time.Duration(min(consecutiveFailures, backoffStepLimit)), backoffCap)
}

// Run is Fetch with run statistics.
func (f *Fetcher) Run(ctx context.Context, endpoint string, count int) Result {
	poems := make([]domain.Poem, 0, max(count, 0))
	if count <= 0 {
		return Result{Poems: poems}
	}
	if f.breaker.IsOpen() {
		f.log.Debug("Circuit breaker open, skipping remote fetch", logger.Int("count", count))
		return Result{Poems: poems, Stats: Stats{Skipped: true}}
	}

	start := time.Now()
	maxAttempts := MaxAttempts(count)
	var st Stats

loop:
	for st.Attempts < maxAttempts && len(poems) < count && st.ConsecutiveFailures < maxConsecutiveFailures {
		if ctx.Err() != nil {
			break
		}
		st.Attempts++

		poem, outcome, err := f.attempt(ctx, endpoint)
		f.recorder.ObserveAttempt(outcome)

		switch outcome {
		case OutcomeSuccess:
			poems = append(poems, poem)
			st.ConsecutiveFailures = 0
			if f.sink != nil {
				f.sink.Submit(poem)
			}
			continue

		case OutcomeDuplicate:
			f.log.Debug("Skipping duplicate poem", logger.Int64("poem_id", poem.ID))
			continue

		case OutcomeEmpty:
			st.EmptyResponses++
			if st.EmptyResponses > st.ConsecutiveFailures {
				st.ConsecutiveFailures++
			}
			if st.EmptyResponses >= emptyResponsesToOpen && st.ConsecutiveFailures >= emptyFailuresToOpen {
				f.breaker.Open("repeated empty responses")
				break loop
			}
			if f.sleep(ctx, emptyRetryBase+f.jitter(emptyRetryJitter)) != nil {
				break loop
			}
			continue

		case OutcomeNetworkError:
			st.ConsecutiveFailures++
			st.NetworkErrors++
			f.log.Warn("Poem request failed",
				logger.Int("network_errors", st.NetworkErrors),
				logger.Error(err),
			)
			if st.NetworkErrors >= networkErrorsToOpen {
				f.breaker.Open("network errors")
				break loop
			}

		default:
			st.ConsecutiveFailures++
			f.log.Debug("Rejected poem response",
				logger.String("outcome", string(outcome)),
				logger.Error(err),
			)
		}

		if st.ConsecutiveFailures >= maxConsecutiveFailures {
			f.breaker.Open("consecutive failures")
			break
		}
		if st.ConsecutiveFailures > 0 {
			delay := Backoff(st.ConsecutiveFailures) + f.jitter(backoffJitter)
			if f.sleep(ctx, delay) != nil {
				break
			}
		}
	}

	if tripsPostRun(len(poems), count, st) {
		f.breaker.Open("persistent failures")
	}

	elapsed := time.Since(start)
	f.recorder.ObserveRun(len(poems), st.Attempts, elapsed)
	f.log.Info("Fetch completed",
		logger.Int("fetched", len(poems)),
		logger.Int("requested", count),
		logger.Int("attempts", st.Attempts),
		logger.Int("empty_responses", st.EmptyResponses),
		logger.Int("network_errors", st.NetworkErrors),
		logger.Duration("elapsed", elapsed),
	)
	return Result{Poems: poems, Stats: st}
}

// tripsPostRun reports whether a run that ended normally still shows
// persistent trouble.
func tripsPostRun(fetched, count int, st Stats) bool {
	floor := max(1, float64(count)*0.1)
	return float64(fetched) < floor &&
		st.Attempts > postRunMinAttempts &&
		(st.NetworkErrors >= postRunNetworkErrors || st.ConsecutiveFailures >= postRunConsecutiveFailure)
}

func (f *Fetcher) attempt(ctx context.Context, endpoint string) (domain.Poem, Outcome, error) {
	body, outcome, err := f.request(ctx, endpoint)
	if err != nil {
		return domain.Poem{}, outcome, err
	}
	if strings.TrimSpace(string(body)) == "" {
		return domain.Poem{}, OutcomeEmpty, ErrEmptyBody
	}

	if id := PoemID(body); id != 0 && f.wasSeen(ctx, id) {
		return domain.Poem{ID: id}, OutcomeDuplicate, nil
	}

	poem, err := Decode(body, f.syntheticID)
	switch {
	case errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrNotObject):
		return domain.Poem{}, OutcomeInvalidJSON, err
	case err != nil:
		return domain.Poem{}, OutcomeInvalidPoem, err
	}

	added, err := f.seen.Add(ctx, poem.ID)
	if err != nil {
		f.log.Warn("Seen set unavailable, accepting poem", logger.Int64("poem_id", poem.ID), logger.Error(err))
		added = true
	}
	if !added {
		return poem, OutcomeDuplicate, nil
	}
	return poem, OutcomeSuccess, nil
}

func (f *Fetcher) request(ctx context.Context, endpoint string) ([]byte, Outcome, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	resp, err := f.client.Get(reqCtx, endpoint)
	if err != nil {
		return nil, OutcomeNetworkError, fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, OutcomeBadStatus, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, OutcomeNetworkError, fmt.Errorf("read body: %w", err)
	}
	return body, "", nil
}

func (f *Fetcher) wasSeen(ctx context.Context, id int64) bool {
	ok, err := f.seen.Contains(ctx, id)
	if err != nil {
		f.log.Warn("Seen set lookup failed", logger.Int64("poem_id", id), logger.Error(err))
		return false
	}
	return ok
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(Outcome)            {}
func (nopRecorder) ObserveRun(int, int, time.Duration) {}
