// Package feed assembles the ordered poem sequence a reader swipes through,
// merging remote poems with bundled fallback content.
//
// Every session owns its circuit breaker and seen set. Against a dead
// endpoint each concurrent session spends its own failure budget before its
// breaker opens; one session's open breaker does not shield the others.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"poetry-feed/pkg/breaker"
	"poetry-feed/pkg/bundled"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/logger"
	"poetry-feed/pkg/seen"
)

var (
	// ErrIndexOutOfRange is returned by Navigate for an index outside the feed.
	ErrIndexOutOfRange = errors.New("index out of range")

	errRaceTimeout   = errors.New("fetch timed out")
	errSessionClosed = errors.New("session closed")
)

// Append sources reported to the Recorder.
const (
	SourceRemote  = "remote"
	SourceBundled = "bundled"
)

// Source fetches up to count poems. *fetcher.Fetcher satisfies it.
type Source interface {
	Fetch(ctx context.Context, endpoint string, count int) []domain.Poem
}

// Recorder receives feed observations.
type Recorder interface {
	ObserveLoad(kind string, fallback bool)
	ObserveAppend(source string, n int)
	SetActiveSessions(n int)
}

// Settings are the feed tuning knobs.
type Settings struct {
	InitialBatch    int
	InitialTimeout  time.Duration
	InitialMin      int
	BackfillBatch   int
	BackfillTimeout time.Duration
	BackfillMin     int
	Proximity       int
	// MaxLength stops backfill once reached. Zero means unlimited.
	MaxLength int
}

// DefaultSettings returns the tuned defaults.
func DefaultSettings() Settings {
	return Settings{
		InitialBatch:    5,
		InitialTimeout:  5 * time.Second,
		InitialMin:      2,
		BackfillBatch:   3,
		BackfillTimeout: 3 * time.Second,
		BackfillMin:     1,
		Proximity:       3,
	}
}

// SessionConfig wires a Session.
type SessionConfig struct {
	ID        string
	Language  domain.Language
	Settings  Settings
	Endpoints map[domain.Language]string
	Source    Source
	Breaker   *breaker.Breaker
	Seen      seen.Set
	Pool      *bundled.Pool
	Logger    logger.Logger
	Recorder  Recorder
}

// Snapshot is an immutable view of a session.
type Snapshot struct {
	ID          string          `json:"id"`
	Language    domain.Language `json:"language"`
	Poems       []domain.Poem   `json:"poems"`
	Cursor      int             `json:"cursor"`
	Fallback    bool            `json:"sampleMode"`
	BreakerOpen bool            `json:"apiUnavailable"`
	LoadingMore bool            `json:"loadingMore"`
	HasMore     bool            `json:"hasMore"`
}

// Session is one reader's feed. All methods are safe for concurrent use and
// none of them surfaces remote failures: the worst case is a feed of
// repeating bundled poems.
type Session struct {
	id        string
	settings  Settings
	endpoints map[domain.Language]string
	source    Source
	breaker   *breaker.Breaker
	seen      seen.Set
	pool      *bundled.Pool
	log       logger.Logger
	recorder  Recorder

	mu         sync.RWMutex
	lang       domain.Language
	poems      []domain.Poem
	cursor     int
	fallback   bool
	hasMore    bool
	epoch      uint64
	lastActive time.Time

	loadingMore atomic.Bool

	// ctx outlives individual requests so an abandoned fetch can finish
	// (or be cancelled by Close) after its caller has given up.
	ctx    context.Context
	cancel context.CancelFunc
	bgMu   sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSession creates an empty session. Call Load to populate it.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Seen == nil {
		cfg.Seen = seen.NewMemorySet()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = breaker.New(breaker.Config{Logger: cfg.Logger})
	}
	if cfg.Language == "" {
		cfg.Language = domain.Persian
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         cfg.ID,
		settings:   cfg.Settings,
		endpoints:  cfg.Endpoints,
		source:     cfg.Source,
		breaker:    cfg.Breaker,
		seen:       cfg.Seen,
		pool:       cfg.Pool,
		log:        cfg.Logger.With(logger.String("session_id", cfg.ID)),
		recorder:   cfg.Recorder,
		lang:       cfg.Language,
		hasMore:    true,
		lastActive: time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Load runs the initial-load policy for the current language, replacing
// the feed.
func (s *Session) Load(ctx context.Context) {
	s.mu.Lock()
	s.touchLocked()
	epoch, lang := s.epoch, s.lang
	s.mu.Unlock()

	endpoint := s.endpoints[lang]
	if endpoint == "" {
		s.replaceWithBundled(ctx, epoch, lang, "language has no remote source")
		return
	}

	poems, err := s.race(ctx, endpoint, s.settings.InitialBatch, s.settings.InitialTimeout)
	if err != nil || len(poems) < s.settings.InitialMin {
		reason := "insufficient poems from remote source"
		if err != nil {
			reason = err.Error()
		}
		s.replaceWithBundled(ctx, epoch, lang, reason)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.poems = s.capLocked(poems)
	s.cursor = 0
	s.fallback = false
	s.recorder.ObserveLoad("initial", false)
	s.recorder.ObserveAppend(SourceRemote, len(s.poems))
	s.log.Info("Initial poems loaded", logger.Int("count", len(s.poems)), logger.String("language", string(lang)))
}

func (s *Session) replaceWithBundled(ctx context.Context, epoch uint64, lang domain.Language, reason string) {
	poems := s.pool.Shuffled(lang)
	for _, p := range poems {
		if _, err := s.seen.Add(ctx, p.ID); err != nil {
			s.log.Debug("Could not record bundled poem as seen", logger.Error(err))
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.poems = s.capLocked(poems)
	s.cursor = 0
	s.fallback = true
	s.recorder.ObserveLoad("initial", true)
	s.recorder.ObserveAppend(SourceBundled, len(s.poems))
	s.log.Info("Using bundled poems",
		logger.String("reason", reason),
		logger.String("language", string(lang)),
		logger.Int("count", len(s.poems)),
	)
}

// LoadMore runs the backfill policy and reports whether a backfill was
// performed. It returns false while another backfill is in flight or once
// the feed has reached its maximum length.
func (s *Session) LoadMore(ctx context.Context) bool {
	s.mu.Lock()
	s.touchLocked()
	hasMore := s.hasMore
	epoch, lang, fallback := s.epoch, s.lang, s.fallback
	s.mu.Unlock()

	if !hasMore {
		return false
	}
	if !s.loadingMore.CompareAndSwap(false, true) {
		return false
	}
	defer s.loadingMore.Store(false)

	endpoint := s.endpoints[lang]
	if fallback || endpoint == "" || s.breaker.IsOpen() {
		s.appendPoems(epoch, s.pool.Shuffled(lang), SourceBundled, false)
		return true
	}

	poems, err := s.race(ctx, endpoint, s.settings.BackfillBatch, s.settings.BackfillTimeout)
	if err != nil || len(poems) < s.settings.BackfillMin {
		reason := "no poems received"
		if err != nil {
			reason = err.Error()
		}
		s.log.Info("Backfill from remote source failed, switching to bundled poems", logger.String("reason", reason))
		s.appendPoems(epoch, s.pool.Shuffled(lang), SourceBundled, true)
		return true
	}

	s.appendPoems(epoch, poems, SourceRemote, false)
	return true
}

func (s *Session) appendPoems(epoch uint64, poems []domain.Poem, source string, enterFallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	if enterFallback {
		s.fallback = true
	}
	before := len(s.poems)
	s.poems = s.capLocked(append(s.poems, poems...))
	added := len(s.poems) - before
	s.recorder.ObserveLoad("backfill", s.fallback)
	s.recorder.ObserveAppend(source, added)
	s.log.Debug("Poems appended",
		logger.String("source", source),
		logger.Int("added", added),
		logger.Int("total", len(s.poems)),
	)
}

// capLocked truncates poems to MaxLength and clears hasMore once reached.
func (s *Session) capLocked(poems []domain.Poem) []domain.Poem {
	limit := s.settings.MaxLength
	if limit <= 0 {
		return poems
	}
	if len(poems) >= limit {
		s.hasMore = false
		return poems[:limit]
	}
	return poems
}

// race runs one fetch against timeout. Losing the race abandons the fetch:
// it keeps running on the session context and its result is discarded.
func (s *Session) race(ctx context.Context, endpoint string, count int, timeout time.Duration) ([]domain.Poem, error) {
	results := make(chan []domain.Poem, 1)

	started := s.goBackground(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Poem fetch panicked", logger.Any("panic", r))
				results <- nil
			}
		}()
		results <- s.source.Fetch(s.ctx, endpoint, count)
	})
	if !started {
		return nil, errSessionClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case poems := <-results:
		return poems, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", errRaceTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, errSessionClosed
	}
}

// Navigate moves the cursor to index and starts a background backfill when
// the cursor is within Proximity of the end.
func (s *Session) Navigate(index int) error {
	s.mu.Lock()
	s.touchLocked()
	if index < 0 || index >= len(s.poems) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	s.cursor = index
	near := s.nearEndLocked()
	s.mu.Unlock()

	if near {
		s.triggerBackfill()
	}
	return nil
}

// Next advances the cursor by one and reports whether it moved.
func (s *Session) Next() bool {
	s.mu.Lock()
	s.touchLocked()
	moved := s.cursor+1 < len(s.poems)
	if moved {
		s.cursor++
	}
	near := s.nearEndLocked()
	s.mu.Unlock()

	if near {
		s.triggerBackfill()
	}
	return moved
}

// Prev moves the cursor back by one and reports whether it moved.
func (s *Session) Prev() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.cursor == 0 {
		return false
	}
	s.cursor--
	return true
}

// nearEndLocked is false for an empty feed: the initial load owns it.
func (s *Session) nearEndLocked() bool {
	return s.hasMore && len(s.poems) > 0 && s.cursor >= len(s.poems)-s.settings.Proximity
}

func (s *Session) triggerBackfill() {
	if s.loadingMore.Load() {
		return
	}
	s.goBackground(func() { s.LoadMore(s.ctx) })
}

// goBackground runs f on a tracked goroutine unless the session is closed.
func (s *Session) goBackground(f func()) bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
	return true
}

// SetLanguage switches language: the cursor returns to the start, the seen
// set is cleared and the feed is reloaded.
func (s *Session) SetLanguage(ctx context.Context, lang domain.Language) {
	s.mu.Lock()
	s.epoch++
	s.lang = lang
	s.poems = nil
	s.cursor = 0
	s.fallback = false
	s.hasMore = true
	s.mu.Unlock()

	if err := s.seen.Reset(ctx); err != nil {
		s.log.Warn("Failed to reset seen poems", logger.Error(err))
	}
	s.Load(ctx)
}

// Language returns the active language.
func (s *Session) Language() domain.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lang
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:          s.id,
		Language:    s.lang,
		Poems:       append([]domain.Poem(nil), s.poems...),
		Cursor:      s.cursor,
		Fallback:    s.fallback,
		BreakerOpen: s.breaker.IsOpen(),
		LoadingMore: s.loadingMore.Load(),
		HasMore:     s.hasMore,
	}
}

// Current returns the poem under the cursor.
func (s *Session) Current() (domain.Poem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor >= len(s.poems) {
		return domain.Poem{}, false
	}
	return s.poems[s.cursor], true
}

// LastActive returns when the session was last used.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

// Close cancels abandoned fetches, stops the breaker timer and waits for
// background work to drain.
func (s *Session) Close() {
	s.bgMu.Lock()
	s.closed = true
	s.bgMu.Unlock()

	s.cancel()
	s.breaker.Stop()
	s.wg.Wait()
}

type nopRecorder struct{}

func (nopRecorder) ObserveLoad(string, bool) {}
func (nopRecorder) ObserveAppend(string, int) {}
func (nopRecorder) SetActiveSessions(int)     {}
