// Package breaker provides the two-state circuit breaker that guards the
// remote poem endpoint. The breaker has no half-open state: once opened it
// blocks every run until a single cooldown timer closes it again.
package breaker

import (
	"sync"
	"time"

	"poetry-feed/pkg/logger"
)

// DefaultCooldown is how long the breaker stays open.
const DefaultCooldown = 30 * time.Second

// State represents the state of the breaker.
type State int

const (
	// StateClosed allows fetch runs.
	StateClosed State = iota
	// StateOpen skips fetch runs until the cooldown elapses.
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Timer is the subset of *time.Timer the breaker needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

// Config configures a breaker.
type Config struct {
	// Cooldown is how long the breaker stays open. Defaults to DefaultCooldown.
	Cooldown time.Duration
	// OnStateChange is an optional callback invoked outside the lock.
	OnStateChange func(from, to State)
	// AfterFunc replaces the real timer. Tests use it to fire the cooldown by hand.
	AfterFunc AfterFunc
	// Now replaces time.Now for OpenedAt.
	Now    func() time.Time
	Logger logger.Logger
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu         sync.Mutex
	state      State
	openedAt   time.Time
	timer      Timer
	generation uint64
	stopped    bool

	cooldown      time.Duration
	onStateChange func(from, to State)
	afterFunc     AfterFunc
	now           func() time.Time
	log           logger.Logger
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Breaker{
		state:         StateClosed,
		cooldown:      cfg.Cooldown,
		onStateChange: cfg.OnStateChange,
		afterFunc:     cfg.AfterFunc,
		now:           cfg.Now,
		log:           cfg.Logger,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether runs are currently blocked.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// OpenedAt returns when the breaker last opened. Zero while it never has.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// Open forces the breaker open and (re)schedules the cooldown. A pending
// timer is replaced, never stacked.
func (b *Breaker) Open(reason string) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	from := b.state
	b.state = StateOpen
	b.openedAt = b.now()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.generation++
	gen := b.generation
	b.timer = b.afterFunc(b.cooldown, func() { b.closeAfterCooldown(gen) })
	b.mu.Unlock()

	b.log.Warn("Circuit breaker opened",
		logger.String("reason", reason),
		logger.Duration("cooldown", b.cooldown),
	)
	b.notify(from, StateOpen)
}

// closeAfterCooldown ignores timers superseded by a later Open.
func (b *Breaker) closeAfterCooldown(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || b.state != StateOpen {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	b.timer = nil
	b.mu.Unlock()

	b.log.Info("Circuit breaker closed after cooldown")
	b.notify(StateOpen, StateClosed)
}

// Stop cancels any pending cooldown timer and leaves the breaker closed.
// Stopping an open breaker reports the open->closed transition. Further
// Open calls are ignored.
func (b *Breaker) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.generation++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	from := b.state
	b.state = StateClosed
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}
