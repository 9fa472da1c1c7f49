package cleanup

import (
	"context"
	"time"

	"pizzapalace/internal/logger"
	"pizzapalace/internal/session"
)

const (
	cleanupHour       = 2  // 2 AM
	maxDeletionPerRun = 25 // Maximum abandoned orders to delete per run
)

// CartStore is where saved carts live; data.KVStore satisfies it.
type CartStore interface {
	PurgeOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error)
}

// OrderStore is where checkout orders live; data.OrderStore satisfies it.
type OrderStore interface {
	DeleteAbandonedOrders(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// SessionEvictor drops idle in-memory carts; session.Manager satisfies it.
type SessionEvictor interface {
	Evict(idle time.Duration) int
}

type Report struct {
	Carts    int
	Orders   int
	Sessions int
}

func (r Report) Total() int {
	return r.Carts + r.Orders + r.Sessions
}

// Cleaner removes expired carts and abandoned orders.
type Cleaner struct {
	carts          CartStore
	orders         OrderStore
	sessions       SessionEvictor
	cartMaxAge     time.Duration
	orderRetention time.Duration
	now            func() time.Time
}

func NewCleaner(carts CartStore, orders OrderStore, sessions SessionEvictor, cartMaxAge, orderRetention time.Duration) *Cleaner {
	return &Cleaner{
		carts:          carts,
		orders:         orders,
		sessions:       sessions,
		cartMaxAge:     cartMaxAge,
		orderRetention: orderRetention,
		now:            time.Now,
	}
}

// StartCleanupRoutine runs the cleanup daily at 2 AM until ctx is done.
func (c *Cleaner) StartCleanupRoutine(ctx context.Context) {
	go func() {
		logger.LogInfo("Cleanup routine started - will run daily at %d:00 AM", cleanupHour)

		for {
			now := c.now()
			next := NextRun(now)
			logger.LogInfo("Next cleanup scheduled for %v (in %v)", next.Format("2006-01-02 15:04:05"), next.Sub(now))

			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.LogInfo("Cleanup routine stopped")
				return
			case <-timer.C:
				c.RunCleanup(ctx)
			}
		}
	}()
}

// NextRun returns the next 2 AM strictly after now.
func NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunCleanup performs one pass. Failures in one step do not stop the others.
func (c *Cleaner) RunCleanup(ctx context.Context) Report {
	logger.LogInfo("Starting daily cleanup of expired carts and abandoned orders")

	var report Report
	now := c.now()

	cartCutoff := now.Add(-c.cartMaxAge)
	if n, err := c.carts.PurgeOlderThan(ctx, session.KeyPrefix+":", cartCutoff); err != nil {
		logger.LogError("Failed to purge expired carts: %v", err)
	} else {
		report.Carts = int(n)
		if n > 0 {
			logger.LogInfo("Purged %d carts saved before %v", n, cartCutoff.Format("2006-01-02 15:04:05"))
		}
	}

	orderCutoff := now.Add(-c.orderRetention)
	if n, err := c.orders.DeleteAbandonedOrders(ctx, orderCutoff, maxDeletionPerRun); err != nil {
		logger.LogError("Failed to cleanup abandoned orders: %v", err)
	} else {
		report.Orders = n
		if n > 0 {
			logger.LogInfo("Cleaned up %d abandoned orders", n)
		}
	}

	if c.sessions != nil {
		report.Sessions = c.sessions.Evict(c.cartMaxAge)
	}

	if report.Total() == 0 {
		logger.LogInfo("Cleanup completed - no expired records found")
	} else {
		logger.LogInfo("Cleanup completed - %d carts, %d orders, %d idle sessions removed",
			report.Carts, report.Orders, report.Sessions)
	}
	return report
}
