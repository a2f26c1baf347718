package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"poetry-feed/pkg/breaker"
	"poetry-feed/pkg/bundled"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/fetcher"
	"poetry-feed/pkg/logger"
	"poetry-feed/pkg/seen"
)

// ErrSessionNotFound is returned for an unknown or evicted session id.
var ErrSessionNotFound = errors.New("session not found")

const defaultSessionTTL = 30 * time.Minute

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Settings        Settings
	Endpoints       map[domain.Language]string
	DefaultLanguage domain.Language
	SessionTTL      time.Duration
	BreakerCooldown time.Duration

	Client fetcher.Getter
	Pool   *bundled.Pool
	// NewSeenSet returns the seen set for a new session. Defaults to an
	// in-memory set.
	NewSeenSet     func(sessionID string) seen.Set
	FetcherOptions []fetcher.Option
	// OnBreakerChange is attached to every session's breaker.
	OnBreakerChange func(from, to breaker.State)
	Recorder        Recorder
	Logger          logger.Logger
}

// Manager owns the live sessions.
type Manager struct {
	cfg ManagerConfig
	log logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.NewSeenSet == nil {
		cfg.NewSeenSet = func(string) seen.Set { return seen.NewMemorySet() }
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = domain.Persian
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session for lang (the default language when empty),
// runs its initial load and registers it.
func (m *Manager) Create(ctx context.Context, lang domain.Language) *Session {
	if lang == "" {
		lang = m.cfg.DefaultLanguage
	}
	id := uuid.NewString()
	sessionLog := m.log.With(logger.String("session_id", id))

	br := breaker.New(breaker.Config{
		Cooldown:      m.cfg.BreakerCooldown,
		OnStateChange: m.cfg.OnBreakerChange,
		Logger:        sessionLog,
	})
	set := m.cfg.NewSeenSet(id)
	opts := append([]fetcher.Option{fetcher.WithLogger(sessionLog)}, m.cfg.FetcherOptions...)

	s := NewSession(SessionConfig{
		ID:        id,
		Language:  lang,
		Settings:  m.cfg.Settings,
		Endpoints: m.cfg.Endpoints,
		Source:    fetcher.New(m.cfg.Client, br, set, opts...),
		Breaker:   br,
		Seen:      set,
		Pool:      m.cfg.Pool,
		Logger:    m.log,
		Recorder:  m.cfg.Recorder,
	})
	s.Load(ctx)

	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.cfg.Recorder.SetActiveSessions(n)
	m.log.Info("Session created", logger.String("session_id", id), logger.String("language", string(lang)))
	return s
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close removes and closes a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	m.cfg.Recorder.SetActiveSessions(n)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle closes sessions unused since before now minus the TTL and
// returns how many were evicted.
func (m *Manager) EvictIdle(now time.Time) int {
	cutoff := now.Add(-m.cfg.SessionTTL)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		m.cfg.Recorder.SetActiveSessions(n)
		m.log.Info("Evicted idle sessions", logger.Int("count", len(idle)))
	}
	return len(idle)
}

// Run evicts idle sessions every interval until ctx is done, then closes
// every remaining session.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case now := <-ticker.C:
			m.EvictIdle(now)
		}
	}
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.cfg.Recorder.SetActiveSessions(0)
}
