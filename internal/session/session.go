// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pizzapalace/internal/cart"
	"pizzapalace/internal/data"
	"pizzapalace/internal/logger"
)

// KeyPrefix namespaces saved carts in the key-value store.
const KeyPrefix = "pizzaCart"

var ErrPersistence = errors.New("cart persistence failed")

// Store is the persistence the manager needs; data.KVStore satisfies it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	SetAt(ctx context.Context, key string, value []byte, at time.Time) error
	Delete(ctx context.Context, key string) error
}

// Key returns the storage key for a session's cart.
func Key(sessionID string) string {
	return KeyPrefix + ":" + sessionID
}

type entry struct {
	mu       sync.Mutex
	ledger   *cart.Ledger
	loaded   bool
	evicted  bool
	lastUsed time.Time
}

// Manager owns one ledger per session and serializes access to each.
type Manager struct {
	store    Store
	rules    cart.Rules
	maxAge   time.Duration
	now      func() time.Time
	observer func(sessionID string, c cart.Change)

	mu       sync.Mutex
	sessions map[string]*entry
}

type Option func(*Manager)

func WithRules(r cart.Rules) Option {
	return func(m *Manager) { m.rules = r }
}

// WithMaxAge sets how old a saved cart may be and still be restored.
func WithMaxAge(d time.Duration) Option {
	return func(m *Manager) { m.maxAge = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver subscribes fn to every ledger the manager creates.
func WithObserver(fn func(sessionID string, c cart.Change)) Option {
	return func(m *Manager) { m.observer = fn }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		rules:    cart.DefaultRules(),
		maxAge:   cart.DefaultMaxAge,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// With runs fn with exclusive access to the session's ledger, restoring a
// saved cart on first use.
func (m *Manager) With(ctx context.Context, sessionID string, fn func(*cart.Ledger) error) error {
	e := m.acquire(ctx, sessionID)
	defer e.mu.Unlock()

	e.lastUsed = m.now()
	return fn(e.ledger)
}

// Save persists the session's ledger. Failures are logged and returned
// wrapped in ErrPersistence; the in-memory cart is unaffected.
func (m *Manager) Save(ctx context.Context, sessionID string) error {
	e := m.acquire(ctx, sessionID)
	defer e.mu.Unlock()

	blob, err := e.ledger.MarshalSnapshot()
	if err != nil {
		logger.LogError("Failed to serialize cart for session %s: %v", sessionID, err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := m.store.SetAt(ctx, Key(sessionID), blob, m.now()); err != nil {
		logger.LogWarn("Failed to save cart for session %s: %v", sessionID, err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Discard forgets the session and deletes its saved cart. Callers waiting on
// the session get a fresh, empty ledger.
func (m *Manager) Discard(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()

		m.mu.Lock()
		if m.sessions[sessionID] == e {
			delete(m.sessions, sessionID)
		}
		m.mu.Unlock()
		e.evicted = true
	}

	if err := m.store.Delete(ctx, Key(sessionID)); err != nil {
		logger.LogWarn("Failed to delete saved cart for session %s: %v", sessionID, err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Evict drops in-memory sessions idle for longer than idle. Saved carts stay
// in the store and are restored on the next request.
func (m *Manager) Evict(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.sessions {
		// Sessions in use are skipped.
		if !e.mu.TryLock() {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			e.evicted = true
			delete(m.sessions, id)
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted
}

// Active reports how many sessions are held in memory.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// acquire returns the session entry locked and hydrated.
func (m *Manager) acquire(ctx context.Context, sessionID string) *entry {
	for {
		m.mu.Lock()
		e, ok := m.sessions[sessionID]
		if !ok {
			e = &entry{ledger: m.newLedger(sessionID), lastUsed: m.now()}
			m.sessions[sessionID] = e
		}
		m.mu.Unlock()

		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		if !e.loaded {
			m.hydrate(ctx, sessionID, e.ledger)
			e.loaded = true
		} else if m.now().Sub(e.lastUsed) > m.maxAge {
			m.expire(ctx, sessionID, e)
		}
		return e
	}
}

// expire replaces an in-memory cart that has sat unused past the max age,
// matching what a restart would restore from the store.
func (m *Manager) expire(ctx context.Context, sessionID string, e *entry) {
	logger.LogInfo("Discarding expired cart for session %s: idle since %s", sessionID, e.lastUsed.Format(time.RFC3339))
	e.ledger = m.newLedger(sessionID)
	e.lastUsed = m.now()
	if err := m.store.Delete(ctx, Key(sessionID)); err != nil {
		logger.LogWarn("Failed to delete saved cart for session %s: %v", sessionID, err)
	}
}

func (m *Manager) newLedger(sessionID string) *cart.Ledger {
	l := cart.New(cart.WithRules(m.rules), cart.WithClock(m.now))
	if m.observer != nil {
		observer := m.observer
		l.Subscribe(func(c cart.Change) { observer(sessionID, c) })
	}
	return l
}

func (m *Manager) hydrate(ctx context.Context, sessionID string, l *cart.Ledger) {
	key := Key(sessionID)

	blob, _, err := m.store.Get(ctx, key)
	if errors.Is(err, data.ErrNotFound) {
		return
	}
	if err != nil {
		logger.LogWarn("Failed to load saved cart for session %s, starting empty: %v", sessionID, err)
		return
	}

	err = l.Restore(blob, m.maxAge)
	switch {
	case err == nil:
		logger.LogDebug("Restored cart for session %s with %d items", sessionID, l.TotalItems())
		return
	case errors.Is(err, cart.ErrStaleCart):
		logger.LogInfo("Discarding expired cart for session %s: %v", sessionID, err)
	default:
		logger.LogWarn("Discarding unreadable cart for session %s: %v", sessionID, err)
	}

	if err := m.store.Delete(ctx, key); err != nil {
		logger.LogWarn("Failed to delete saved cart for session %s: %v", sessionID, err)
	}
}
