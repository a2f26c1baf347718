package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"poetry-feed/pkg/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []domain.ArchivedPoem
	err   error
	gate  chan struct{}
}

func (s *recordingSaver) SavePoem(_ context.Context, p *domain.ArchivedPoem) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, *p)
	return s.err
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type countingObserver struct {
	mu      sync.Mutex
	saves   int
	errors  int
	dropped int
}

func (o *countingObserver) ObserveArchive(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.saves++
	if err != nil {
		o.errors++
	}
}

func (o *countingObserver) ObserveArchiveDrop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func poem(id int64) domain.Poem {
	return domain.Poem{ID: id, Title: "t", Text: "x", Poet: domain.Poet{ID: 1, Name: "p"}}
}

func TestWriter_SavesEverySubmittedPoem(t *testing.T) {
	saver := &recordingSaver{}
	obs := &countingObserver{}
	fetchedAt := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)
	w := NewWriter(saver, Config{Workers: 3, Observer: obs, Now: func() time.Time { return fetchedAt }})
	w.Start()

	for i := int64(1); i <= 20; i++ {
		require.True(t, w.Submit(poem(i)))
	}
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, 20, saver.count())
	assert.Equal(t, 20, obs.saves)
	assert.Zero(t, obs.errors)
	assert.Equal(t, fetchedAt, saver.saved[0].FetchedAt)
}

func TestWriter_DropsWhenFull(t *testing.T) {
	saver := &recordingSaver{gate: make(chan struct{})}
	obs := &countingObserver{}
	w := NewWriter(saver, Config{Workers: 1, QueueSize: 2, Observer: obs})

	// Not started: the queue fills without draining.
	assert.True(t, w.Submit(poem(1)))
	assert.True(t, w.Submit(poem(2)))
	assert.False(t, w.Submit(poem(3)))
	assert.Equal(t, 1, obs.dropped)

	w.Start()
	close(saver.gate)
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 2, saver.count())
}

func TestWriter_SaveErrorsAreObserved(t *testing.T) {
	saver := &recordingSaver{err: errors.New("mongo down")}
	obs := &countingObserver{}
	w := NewWriter(saver, Config{Workers: 1, Observer: obs})
	w.Start()

	w.Submit(poem(1))
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 1, obs.errors)
}

func TestWriter_SubmitAfterClose(t *testing.T) {
	w := NewWriter(&recordingSaver{}, Config{})
	w.Start()
	require.NoError(t, w.Close(context.Background()))

	assert.False(t, w.Submit(poem(1)))
	assert.ErrorIs(t, w.Close(context.Background()), ErrClosed)
}

func TestWriter_CloseHonorsContext(t *testing.T) {
	saver := &recordingSaver{gate: make(chan struct{})}
	w := NewWriter(saver, Config{Workers: 1})
	w.Start()
	w.Submit(poem(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Close(ctx), context.DeadlineExceeded)

	close(saver.gate)
	w.wg.Wait()
}
