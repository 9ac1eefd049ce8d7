package admission

import (
	"sync"

	"github.com/google/uuid"
)

// QuotaGuard serializes admission decisions per order. Every
// check-then-act sequence against an order's quota runs inside the order's
// exclusive section; operations on different orders proceed in parallel.
type QuotaGuard struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*guardEntry
}

type guardEntry struct {
	mu   sync.Mutex
	refs int
}

func NewQuotaGuard() *QuotaGuard {
	return &QuotaGuard{locks: make(map[uuid.UUID]*guardEntry)}
}

// Lock acquires the exclusive section for orderID and returns the matching
// release func. Entries are refcounted so the map does not grow with the
// number of orders ever seen.
func (g *QuotaGuard) Lock(orderID uuid.UUID) func() {
	g.mu.Lock()
	entry, ok := g.locks[orderID]
	if !ok {
		entry = &guardEntry{}
		g.locks[orderID] = entry
	}
	entry.refs++
	g.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		g.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(g.locks, orderID)
		}
		g.mu.Unlock()
	}
}
