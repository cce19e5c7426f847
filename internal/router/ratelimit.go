package router

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPruneInterval is the cadence RunPruner uses when given a
// non-positive interval.
const DefaultPruneInterval = 5 * time.Minute

// NodeLimiter caps how often a single node can push messages through the
// router, independent of deduplication: a duplicate-free but rapid-fire
// node (a stuck radio, a misbehaving firmware) can still exhaust the
// low-bandwidth link the same way a flood of distinct messages would.
type NodeLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewNodeLimiter allows burst messages immediately, then rps per second
// thereafter, tracked independently per node ID.
func NewNodeLimiter(rps float64, burst int) *NodeLimiter {
	return &NodeLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether nodeID may send right now, creating its limiter on
// first contact.
func (n *NodeLimiter) Allow(nodeID string) bool {
	n.mu.Lock()
	l, ok := n.limiters[nodeID]
	if !ok {
		l = rate.NewLimiter(n.rps, n.burst)
		n.limiters[nodeID] = l
	}
	n.mu.Unlock()
	return l.Allow()
}

// Prune drops limiters whose token bucket has refilled to its full burst
// (a node quiet long enough that a fresh limiter would behave the same),
// bounding memory for nodes that have wandered out of range. maxAge is not
// consulted.
func (n *NodeLimiter) Prune(maxAge time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, l := range n.limiters {
		if l.TokensAt(time.Now()) >= float64(n.burst) {
			delete(n.limiters, id)
		}
	}
}

// RunPruner blocks, pruning on the given cadence until ctx is cancelled.
func (n *NodeLimiter) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Prune(interval)
		}
	}
}
