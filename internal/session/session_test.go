package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizzapalace/internal/cart"
	"pizzapalace/internal/data"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newKV(t *testing.T) *data.KVStore {
	t.Helper()
	db, err := data.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	require.NoError(t, db.CreateTables())
	t.Cleanup(func() { db.Close() })
	return data.NewKVStore(db)
}

var pizza = cart.Product{ID: "p1", Name: "Farmhouse", Category: "pizzas", BasePrice: decimal.NewFromInt(300)}

func addPizza(t *testing.T, m *Manager, sessionID string, qty int) {
	t.Helper()
	err := m.With(context.Background(), sessionID, func(l *cart.Ledger) error {
		_, err := l.AddLine(pizza, cart.Customizations{Size: "medium"}, qty)
		return err
	})
	require.NoError(t, err)
}

func totalItems(t *testing.T, m *Manager, sessionID string) int {
	t.Helper()
	n := 0
	require.NoError(t, m.With(context.Background(), sessionID, func(l *cart.Ledger) error {
		n = l.TotalItems()
		return nil
	}))
	return n
}

func TestManager_SaveAndRestoreAcrossInstances(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	clock := &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}

	first := NewManager(kv, WithClock(clock.Now))
	addPizza(t, first, "s1", 2)
	require.NoError(t, first.Save(ctx, "s1"))

	clock.Advance(23 * time.Hour)
	second := NewManager(kv, WithClock(clock.Now))
	assert.Equal(t, 2, totalItems(t, second, "s1"))
}

func TestManager_StaleCartStartsEmptyAndIsDeleted(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	clock := &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}

	first := NewManager(kv, WithClock(clock.Now))
	addPizza(t, first, "s1", 1)
	require.NoError(t, first.Save(ctx, "s1"))

	clock.Advance(25 * time.Hour)
	second := NewManager(kv, WithClock(clock.Now))
	assert.Equal(t, 0, totalItems(t, second, "s1"))

	_, _, err := kv.Get(ctx, Key("s1"))
	assert.True(t, errors.Is(err, data.ErrNotFound))
}

func TestManager_MalformedCartStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	require.NoError(t, kv.SetAt(ctx, Key("s1"), []byte("not json"), time.Now()))

	m := NewManager(kv)
	assert.Equal(t, 0, totalItems(t, m, "s1"))

	_, _, err := kv.Get(ctx, Key("s1"))
	assert.True(t, errors.Is(err, data.ErrNotFound))
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, time.Time, error) {
	return nil, time.Time{}, errors.New("disk on fire")
}

func (failingStore) SetAt(context.Context, string, []byte, time.Time) error {
	return errors.New("disk on fire")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("disk on fire")
}

func TestManager_PersistenceFailureKeepsCartInMemory(t *testing.T) {
	ctx := context.Background()
	m := NewManager(failingStore{})

	addPizza(t, m, "s1", 3)

	err := m.Save(ctx, "s1")
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Equal(t, 3, totalItems(t, m, "s1"))
}

func TestManager_Discard(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	m := NewManager(kv)

	addPizza(t, m, "s1", 1)
	require.NoError(t, m.Save(ctx, "s1"))
	require.NoError(t, m.Discard(ctx, "s1"))

	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 0, totalItems(t, m, "s1"))
}

func TestManager_DiscardWhileInUse(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newKV(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.With(ctx, "shared", func(l *cart.Ledger) error {
				_, err := l.AddLine(pizza, cart.Customizations{}, 1)
				return err
			})
		}()
		go func() {
			defer wg.Done()
			_ = m.Discard(ctx, "shared")
		}()
	}
	wg.Wait()

	require.NoError(t, m.Discard(ctx, "shared"))
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 0, totalItems(t, m, "shared"))
}

func TestManager_IdleCartExpiresInMemory(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	clock := &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}

	live := NewManager(kv, WithClock(clock.Now))
	addPizza(t, live, "s1", 1)
	require.NoError(t, live.Save(ctx, "s1"))

	clock.Advance(30 * time.Hour)
	restarted := NewManager(kv, WithClock(clock.Now))

	assert.Equal(t, 0, totalItems(t, live, "s1"))
	assert.Equal(t, 0, totalItems(t, restarted, "s1"))

	_, _, err := kv.Get(ctx, Key("s1"))
	assert.True(t, errors.Is(err, data.ErrNotFound))

	// The expired session keeps working with a fresh cart.
	addPizza(t, live, "s1", 2)
	assert.Equal(t, 2, totalItems(t, live, "s1"))
}

func TestManager_CartAtMaxAgeIsKept(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	m := NewManager(newKV(t), WithClock(clock.Now))

	addPizza(t, m, "s1", 1)
	clock.Advance(cart.DefaultMaxAge)
	assert.Equal(t, 1, totalItems(t, m, "s1"))
}

func TestManager_EvictIdleSessions(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	clock := &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	m := NewManager(kv, WithClock(clock.Now))

	addPizza(t, m, "idle", 1)
	require.NoError(t, m.Save(ctx, "idle"))
	clock.Advance(2 * time.Hour)
	addPizza(t, m, "busy", 1)

	assert.Equal(t, 1, m.Evict(time.Hour))
	assert.Equal(t, 1, m.Active())

	// Evicted carts come back from the store.
	assert.Equal(t, 1, totalItems(t, m, "idle"))
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := NewManager(newKV(t))

	addPizza(t, m, "a", 2)
	addPizza(t, m, "b", 5)

	assert.Equal(t, 2, totalItems(t, m, "a"))
	assert.Equal(t, 5, totalItems(t, m, "b"))
}

func TestManager_ConcurrentAddsAreSerialized(t *testing.T) {
	m := NewManager(newKV(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.With(context.Background(), "shared", func(l *cart.Ledger) error {
				_, err := l.AddLine(pizza, cart.Customizations{Size: "medium"}, 1)
				return err
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, totalItems(t, m, "shared"))
}

func TestManager_ObserverReceivesSessionChanges(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	m := NewManager(newKV(t), WithObserver(func(sessionID string, c cart.Change) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, sessionID+":"+string(c.Kind))
	}))

	addPizza(t, m, "s1", 1)
	addPizza(t, m, "s1", 1)

	assert.Equal(t, []string{"s1:added", "s1:updated"}, seen)
}
