package exchange

import (
	"fmt"
	"sync"
)

// pairGuard is the advisory de-duplication guard over crossed (ask, bid)
// pairs: two concurrent matching runs against the same pair waste
// reservation round-trips, so the second one bows out. Correctness does not
// depend on it — the scheduler and row locks guarantee that.
type pairGuard struct {
	mu       sync.Mutex
	inflight map[string]bool
}

func newPairGuard() *pairGuard {
	return &pairGuard{inflight: make(map[string]bool)}
}

func pairKey(sellID, buyID int64) string {
	return fmt.Sprintf("%d_%d", sellID, buyID)
}

func (g *pairGuard) tryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[key] {
		return false
	}
	g.inflight[key] = true
	return true
}

func (g *pairGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, key)
}
