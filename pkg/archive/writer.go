package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/logger"
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 256
	defaultSaveTimeout = 5 * time.Second
)

// ErrClosed is returned by Close when the writer was already closed.
var ErrClosed = errors.New("archive writer closed")

// Saver persists one archived poem. db.ArchiveClient implements it.
type Saver interface {
	SavePoem(ctx context.Context, poem *domain.ArchivedPoem) error
}

// Observer is notified of every save and every dropped poem.
type Observer interface {
	ObserveArchive(err error)
	ObserveArchiveDrop()
}

type Config struct {
	Workers     int
	QueueSize   int
	SaveTimeout time.Duration
	Logger      logger.Logger
	Observer    Observer
	Now         func() time.Time
}

// Writer archives remotely fetched poems in the background. Submit never
// blocks: when the queue is full the poem is dropped.
type Writer struct {
	saver Saver
	cfg   Config
	log   logger.Logger

	queue chan domain.ArchivedPoem
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewWriter(saver Saver, cfg Config) *Writer {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = defaultSaveTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Writer{
		saver: saver,
		cfg:   cfg,
		log:   cfg.Logger,
		queue: make(chan domain.ArchivedPoem, cfg.QueueSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func(workerID int) {
			defer w.wg.Done()
			for poem := range w.queue {
				w.save(workerID, poem)
			}
		}(i)
	}
	w.log.Info("Archive writer started",
		logger.Int("workers", w.cfg.Workers),
		logger.Int("queue_size", w.cfg.QueueSize),
	)
}

func (w *Writer) save(workerID int, poem domain.ArchivedPoem) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SaveTimeout)
	defer cancel()

	err := w.saver.SavePoem(ctx, &poem)
	w.cfg.Observer.ObserveArchive(err)
	if err != nil {
		w.log.Warn("Archive save failed",
			logger.Int("worker", workerID),
			logger.Int64("poem_id", poem.ID),
			logger.Error(err),
		)
	}
}

// Submit queues poem for archiving and reports whether it was accepted.
func (w *Writer) Submit(poem domain.Poem) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	select {
	case w.queue <- domain.ArchivedPoem{Poem: poem, FetchedAt: w.cfg.Now().UTC()}:
		return true
	default:
		w.cfg.Observer.ObserveArchiveDrop()
		w.log.Warn("Archive queue full, dropping poem", logger.Int64("poem_id", poem.ID))
		return false
	}
}

// Close stops accepting poems and waits for the queued ones to be saved,
// or for ctx to end.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopObserver struct{}

func (nopObserver) ObserveArchive(error) {}
func (nopObserver) ObserveArchiveDrop()  {}
